/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Output is what a compiler run produced.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Truncated is set when either stream exceeded the capture limit.
	Truncated bool
}

// Runner runs a command inside a workspace.
//
// A non-zero exit is reported through Output.ExitCode with a nil error.
// When ctx ends before the command does, Run returns ctx.Err(). Any other
// error means the command could not be run at all.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) (Output, error)
}

const (
	defaultMaxOutput = 1 << 20
	defaultWaitDelay = 5 * time.Second
)

// ExecRunner runs commands as local subprocesses. On unix systems the
// subprocess gets its own process group, and the whole group is killed
// when the context ends.
type ExecRunner struct {
	// MaxOutput caps the bytes captured per stream.
	MaxOutput int64
	// WaitDelay bounds how long Run waits for output pipes to drain after
	// the process has been killed.
	WaitDelay time.Duration
}

var _ Runner = ExecRunner{}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, dir string, argv []string) (Output, error) {
	if len(argv) == 0 {
		return Output{}, errors.New("empty command")
	}
	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	waitDelay := r.WaitDelay
	if waitDelay <= 0 {
		waitDelay = defaultWaitDelay
	}

	stdout := &limitedBuffer{max: maxOutput}
	stderr := &limitedBuffer{max: maxOutput}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	err := cmd.Run()
	out := Output{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	case err != nil:
		return out, fmt.Errorf("running %s: %w", argv[0], err)
	}
	return out, nil
}

// limitedBuffer keeps the first max bytes written to it and discards the
// rest while still reporting full writes.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		b.truncated = true
		return n, nil
	}
	if int64(n) > remaining {
		b.truncated = true
		p = p[:remaining]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
