/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sandbox

import (
	"context"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
)

// Scheduler removes workspace directories after a delay. Removal failures
// are logged and counted, never returned.
type Scheduler struct {
	remove func(string) error

	mu       sync.Mutex
	idle     *sync.Cond
	pending  map[string]*entry
	inflight int
	closed   bool
}

type entry struct {
	ctx   context.Context
	due   time.Time
	timer *time.Timer
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		remove:  os.RemoveAll,
		pending: make(map[string]*entry),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Schedule removes dir after delay. Scheduling a directory again replaces
// the earlier schedule. A zero delay removes it in the background right away.
// Schedule does nothing once the Scheduler is closed.
func (s *Scheduler) Schedule(ctx context.Context, dir string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := clog.FromContext(ctx).With("path", dir)
	if s.closed {
		log.Warn("Scheduler closed, leaving workspace for the janitor")
		return
	}
	if old, ok := s.pending[dir]; ok {
		old.timer.Stop()
	}

	e := &entry{ctx: context.WithoutCancel(ctx), due: time.Now().Add(delay)}
	e.timer = time.AfterFunc(delay, func() { s.fire(dir, e) })
	s.pending[dir] = e
	log.With("delay", delay).Debug("Scheduled workspace cleanup")
}

// Cancel drops the pending removal of dir and reports whether there was one.
func (s *Scheduler) Cancel(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[dir]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, dir)
	return true
}

// Pending returns the directories awaiting removal, sorted.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.pending))
	for dir := range s.pending {
		out = append(out, dir)
	}
	slices.Sort(out)
	return out
}

// Due returns when dir is scheduled for removal.
func (s *Scheduler) Due(dir string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[dir]
	if !ok {
		return time.Time{}, false
	}
	return e.due, true
}

// Flush removes every pending directory now and waits until all removals,
// including ones already underway, have finished.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	claimed := make(map[string]*entry, len(s.pending))
	for dir, e := range s.pending {
		e.timer.Stop()
		claimed[dir] = e
		s.inflight++
	}
	clear(s.pending)
	s.mu.Unlock()

	for dir, e := range claimed {
		s.run(e.ctx, dir)
	}
	return s.wait(ctx)
}

// Close stops all timers and waits for removals already underway. Pending
// directories stay on disk; Sweep picks them up later.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	left := len(s.pending)
	for _, e := range s.pending {
		e.timer.Stop()
	}
	clear(s.pending)
	s.mu.Unlock()

	if left > 0 {
		clog.FromContext(ctx).With("pending", left).Info("Scheduler closed with pending cleanups")
	}
	return s.wait(ctx)
}

func (s *Scheduler) fire(dir string, e *entry) {
	s.mu.Lock()
	if s.pending[dir] != e {
		// Cancelled, replaced or flushed after the timer fired.
		s.mu.Unlock()
		return
	}
	delete(s.pending, dir)
	s.inflight++
	s.mu.Unlock()

	s.run(e.ctx, dir)
}

// run removes dir. The caller has already counted it in inflight.
func (s *Scheduler) run(ctx context.Context, dir string) {
	defer func() {
		s.mu.Lock()
		s.inflight--
		if s.inflight == 0 {
			s.idle.Broadcast()
		}
		s.mu.Unlock()
	}()

	log := clog.FromContext(ctx).With("path", dir)
	if err := s.remove(dir); err != nil {
		cleanupsTotal.WithLabelValues("error").Inc()
		log.With("error", err).Error("Failed to remove workspace")
		return
	}
	cleanupsTotal.WithLabelValues("removed").Inc()
	log.Info("Removed workspace")
}

func (s *Scheduler) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.mu.Lock()
		defer s.mu.Unlock()
		for s.inflight > 0 {
			s.idle.Wait()
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
