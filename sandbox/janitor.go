/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
)

// Sweep removes workspaces under the base directory that are older than
// the retention window and not already scheduled for removal. It returns
// the number removed.
func (s *Sandbox) Sweep(ctx context.Context) (int, error) {
	log := clog.FromContext(ctx)

	entries, err := os.ReadDir(s.cfg.BaseDir)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", s.cfg.BaseDir, err)
	}

	scheduled := make(map[string]bool)
	for _, p := range s.scheduler.Pending() {
		scheduled[p] = true
	}

	cutoff := time.Now().Add(-s.cfg.Retention)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), WorkspacePrefix) {
			continue
		}
		dir := filepath.Join(s.cfg.BaseDir, e.Name())
		if scheduled[dir] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.With("path", dir).With("error", err).Warn("Janitor failed to remove workspace")
			continue
		}
		removed++
		janitorRemovals.Inc()
	}
	if removed > 0 {
		log.With("removed", removed).Info("Janitor removed expired workspaces")
	}
	return removed, nil
}

// RunJanitor sweeps once immediately and then every interval until ctx ends.
func (s *Sandbox) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil {
			clog.FromContext(ctx).With("error", err).Warn("Janitor sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
