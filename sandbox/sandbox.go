/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/issuefix/fixerr"
	"chainguard.dev/issuefix/generator"
)

// Status is the outcome of a validation job.
type Status string

const (
	// StatusValid means the changes type-check, possibly after noise was
	// filtered out.
	StatusValid Status = "valid"
	// StatusInvalid means the changes have real diagnostics or the check
	// timed out.
	StatusInvalid Status = "invalid"
	// StatusErrored means the sandbox itself failed.
	StatusErrored Status = "errored"
)

// Job is the record of one validation.
type Job struct {
	ID string
	// WorkspacePath is the primary workspace for a valid job (removed
	// shortly after Validate returns), the quarantine directory for a
	// failed one, or empty if no workspace was ever created.
	WorkspacePath string
	Status        Status
	// Errors holds at most Config.MaxErrors rendered diagnostics.
	Errors   []string
	Warnings []string
	// Err is a *fixerr.Error for invalid and errored jobs.
	Err      error
	Duration time.Duration
}

// Valid reports whether the job passed.
func (j *Job) Valid() bool {
	return j.Status == StatusValid
}

// Archiver copies a quarantined workspace somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, jobID, dir string) error
}

// Sandbox runs validation jobs.
type Sandbox struct {
	cfg       Config
	runner    Runner
	scheduler *Scheduler
	archiver  Archiver
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithRunner replaces the default ExecRunner.
func WithRunner(r Runner) Option {
	return func(s *Sandbox) { s.runner = r }
}

// WithArchiver archives every quarantined workspace.
func WithArchiver(a Archiver) Option {
	return func(s *Sandbox) { s.archiver = a }
}

// WithScheduler shares a cleanup scheduler between sandboxes.
func WithScheduler(sched *Scheduler) Option {
	return func(s *Sandbox) { s.scheduler = sched }
}

// New creates the base directory and returns a Sandbox.
func New(cfg Config, opts ...Option) (*Sandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating base dir: %w", err)
	}

	s := &Sandbox{cfg: cfg, runner: ExecRunner{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.scheduler == nil {
		s.scheduler = NewScheduler()
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Sandbox) Config() Config { return s.cfg }

// Scheduler returns the scheduler that removes this sandbox's workspaces.
func (s *Sandbox) Scheduler() *Scheduler { return s.scheduler }

// Close stops scheduled cleanups and waits for running ones.
func (s *Sandbox) Close(ctx context.Context) error {
	return s.scheduler.Close(ctx)
}

// Validate materializes files into the workspace for jobID and type-checks
// them. It always returns a Job; failures are reported through its Status
// and Err. jobID must be unique among live jobs.
func (s *Sandbox) Validate(ctx context.Context, files []generator.FileChange, jobID string) *Job {
	start := time.Now()
	job := &Job{ID: jobID}
	log := clog.FromContext(ctx).With("job", jobID)
	defer func() {
		job.Duration = time.Since(start)
		validationsTotal.WithLabelValues(string(job.Status)).Inc()
		validationDuration.WithLabelValues(string(job.Status)).Observe(job.Duration.Seconds())
		log.With("status", job.Status).With("errors", len(job.Errors)).
			With("duration", job.Duration).Info("Validation finished")
	}()

	if err := checkJobID(jobID); err != nil {
		return s.errored(ctx, job, fixerr.Wrap(fixerr.WorkspaceIO, "validate", err, "bad job id"))
	}
	primary := WorkspacePath(s.cfg.BaseDir, jobID)
	if exists(primary) || exists(primary+QuarantineSuffix) {
		return s.errored(ctx, job, fixerr.New(fixerr.WorkspaceIO, "validate",
			fmt.Sprintf("workspace for job %q already exists", jobID)))
	}
	if err := os.Mkdir(primary, 0o755); err != nil {
		return s.errored(ctx, job, fixerr.Wrap(fixerr.WorkspaceIO, "validate", err, "create workspace"))
	}
	job.WorkspacePath = primary

	checked, err := materialize(primary, files)
	if err != nil {
		return s.errored(ctx, job, fixerr.Wrap(fixerr.WorkspaceIO, "validate", err, "materialize files"))
	}
	if len(checked) == 0 {
		job.Warnings = append(job.Warnings, "no TypeScript or JavaScript files to type-check; skipped validation")
		return s.pass(ctx, job)
	}
	if err := writeProject(primary, checked); err != nil {
		return s.errored(ctx, job, fixerr.Wrap(fixerr.WorkspaceIO, "validate", err, "write "+ProjectFile))
	}

	log.With("files", len(checked)).Info("Running type-check")
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	out, err := s.runner.Run(runCtx, primary, s.cfg.argv())
	cancel()

	switch {
	case err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		msg := fmt.Sprintf("type-check did not finish within %s", s.cfg.Timeout)
		job.Errors = []string{msg}
		return s.reject(ctx, job, fixerr.New(fixerr.ValidationTimeout, "validate", msg))

	case err != nil:
		return s.errored(ctx, job, fixerr.Wrap(fixerr.ValidationFailure, "validate", err, "run type-check"))

	case out.ExitCode == 0:
		return s.pass(ctx, job)
	}

	diags := ParseDiagnostics(out.Stdout + "\n" + out.Stderr)
	if len(diags) == 0 {
		job.Errors = s.capped(job, rawLines(out))
		return s.reject(ctx, job, fixerr.New(fixerr.ValidationFailure, "validate",
			fmt.Sprintf("type-check exited with status %d", out.ExitCode), job.Errors...))
	}

	kept, suppressed := Filter(diags)
	if suppressed > 0 {
		job.Warnings = append(job.Warnings,
			fmt.Sprintf("suppressed %d diagnostics about unresolved modules or ambient names", suppressed))
	}
	if len(kept) == 0 {
		return s.pass(ctx, job)
	}

	lines := make([]string, 0, len(kept))
	for _, d := range kept {
		lines = append(lines, d.String())
	}
	job.Errors = s.capped(job, lines)
	return s.reject(ctx, job, fixerr.New(fixerr.ValidationFailure, "validate",
		fmt.Sprintf("%d type errors", len(kept)), job.Errors...))
}

// capped trims lines to MaxErrors, noting on job how many were dropped.
func (s *Sandbox) capped(job *Job, lines []string) []string {
	if len(lines) <= s.cfg.MaxErrors {
		return lines
	}
	job.Warnings = append(job.Warnings, fmt.Sprintf("%d more errors not shown", len(lines)-s.cfg.MaxErrors))
	return lines[:s.cfg.MaxErrors]
}

func rawLines(out Output) []string {
	var lines []string
	for _, l := range strings.Split(out.Stdout+"\n"+out.Stderr, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		lines = []string{fmt.Sprintf("type-check exited with status %d and no output", out.ExitCode)}
	}
	return lines
}

func (s *Sandbox) pass(ctx context.Context, job *Job) *Job {
	job.Status = StatusValid
	s.scheduler.Schedule(ctx, job.WorkspacePath, 0)
	return job
}

func (s *Sandbox) reject(ctx context.Context, job *Job, err error) *Job {
	job.Status = StatusInvalid
	job.Err = err
	s.retain(ctx, job)
	return job
}

func (s *Sandbox) errored(ctx context.Context, job *Job, err error) *Job {
	job.Status = StatusErrored
	job.Err = err
	if job.WorkspacePath != "" {
		s.retain(ctx, job)
	}
	return job
}

// retain quarantines the job's workspace and schedules its removal after
// the retention window.
func (s *Sandbox) retain(ctx context.Context, job *Job) {
	log := clog.FromContext(ctx).With("job", job.ID)

	q, err := quarantine(job.WorkspacePath)
	if err != nil {
		log.With("error", err).Error("Failed to quarantine workspace")
		job.Warnings = append(job.Warnings, "workspace could not be quarantined: "+err.Error())
		s.scheduler.Schedule(ctx, job.WorkspacePath, s.cfg.Retention)
		return
	}
	job.WorkspacePath = q
	log.With("path", q).With("retention", s.cfg.Retention).Info("Quarantined workspace")

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, job.ID, q); err != nil {
			log.With("error", err).Warn("Failed to archive quarantined workspace")
		}
	}
	s.scheduler.Schedule(ctx, q, s.cfg.Retention)
}
