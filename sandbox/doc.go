/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package sandbox validates generated file changes by materializing them
// into a per-job workspace and running a scoped TypeScript type-check.
//
// Each job owns the directory <BaseDir>/validation-<jobID>. A job that
// passes has its workspace removed right away. A job that fails has its
// workspace renamed to <BaseDir>/validation-<jobID>-failed, where it stays
// for the retention window so that someone can look at it:
//
//	sb, err := sandbox.New(sandbox.Config{BaseDir: "/var/tmp/issuefix"})
//	if err != nil {
//		return err
//	}
//	defer sb.Close(ctx)
//
//	job := sb.Validate(ctx, res.Changes, jobID)
//	if !job.Valid() {
//		// job.Errors holds at most Config.MaxErrors diagnostics.
//	}
//
// Removal is driven by a Scheduler rather than bare timers so callers (and
// tests) can flush or cancel it. Sweep and RunJanitor remove workspaces
// left behind by a process that exited before its scheduled cleanup ran.
package sandbox
