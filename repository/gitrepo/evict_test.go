/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"chainguard.dev/issuefix/repository/gitrepo/gitrepotest"
)

func (a *Accessor) cached() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.clones)
}

func TestCheckoutEvictsExpiredClones(t *testing.T) {
	dir, _ := gitrepotest.Init(t, map[string]string{"src/app.ts": "export {};\n"})
	missing := filepath.Join(t.TempDir(), "missing")

	now := time.Now()
	a := New(
		WithDepth(0),
		WithTTL(time.Minute),
		WithRemoteURL(func(owner, _ string) string {
			if owner == "gone" {
				return missing
			}
			return dir
		}),
	)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	// One clone per token, as when installation tokens rotate.
	for i := range 20 {
		if _, err := a.Tree(ctx, "o", "r", fmt.Sprintf("token-%d", i)); err != nil {
			t.Fatalf("Tree() = %v", err)
		}
	}
	if got := a.cached(); got != 20 {
		t.Fatalf("cached clones = %d, wanted 20", got)
	}

	if _, err := a.Tree(ctx, "gone", "r", ""); err == nil {
		t.Fatal("Tree() succeeded for a missing remote")
	}

	now = now.Add(2 * time.Minute)
	if _, err := a.Tree(ctx, "o", "r", "token-new"); err != nil {
		t.Fatalf("Tree() = %v", err)
	}
	if got := a.cached(); got != 1 {
		t.Errorf("cached clones after TTL expiry = %d, wanted 1", got)
	}
}

func TestCheckoutEvictsFailedClones(t *testing.T) {
	dir, _ := gitrepotest.Init(t, map[string]string{"src/app.ts": "export {};\n"})
	missing := filepath.Join(t.TempDir(), "missing")

	a := New(WithDepth(0), WithRemoteURL(func(owner, _ string) string {
		if owner == "gone" {
			return missing
		}
		return dir
	}))
	ctx := context.Background()

	if _, err := a.Tree(ctx, "gone", "r", ""); err == nil {
		t.Fatal("Tree() succeeded for a missing remote")
	}
	if _, err := a.Tree(ctx, "o", "r", ""); err != nil {
		t.Fatalf("Tree() = %v", err)
	}
	if got := a.cached(); got != 1 {
		t.Errorf("cached clones = %d, wanted only the live clone", got)
	}
}
