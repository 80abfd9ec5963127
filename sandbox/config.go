/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// WorkspacePrefix starts the name of every workspace directory.
	WorkspacePrefix = "validation-"
	// QuarantineSuffix marks a workspace kept after a failed validation.
	QuarantineSuffix = "-failed"
	// ProjectFile is the scoped compiler configuration written into each
	// workspace.
	ProjectFile = "tsconfig.issuefix.json"

	// DefaultCommand type-checks the files listed in ProjectFile.
	DefaultCommand = "tsc -p " + ProjectFile + " --pretty false"
	// DefaultTimeout bounds a single compiler run.
	DefaultTimeout = 60 * time.Second
	// DefaultRetention is how long a quarantined workspace is kept.
	DefaultRetention = 24 * time.Hour
	// DefaultMaxErrors caps Job.Errors.
	DefaultMaxErrors = 20
)

// Config holds sandbox tunables. Zero values take the defaults above.
type Config struct {
	// BaseDir is the root under which workspaces are created. It defaults
	// to $TMPDIR/issuefix.
	BaseDir string `env:"BASE_DIR"`
	// Command is the compiler invocation, split on whitespace and run with
	// the workspace as its working directory.
	Command string `env:"COMMAND"`
	// Timeout is the hard limit on one compiler run.
	Timeout time.Duration `env:"TIMEOUT,default=60s"`
	// Retention is how long quarantined workspaces are kept.
	Retention time.Duration `env:"RETENTION,default=24h"`
	// MaxErrors caps the diagnostics reported for an invalid job.
	MaxErrors int `env:"MAX_ERRORS,default=20"`
}

func (c Config) withDefaults() Config {
	if c.BaseDir == "" {
		c.BaseDir = filepath.Join(os.TempDir(), "issuefix")
	}
	if strings.TrimSpace(c.Command) == "" {
		c.Command = DefaultCommand
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	return c
}

func (c Config) argv() []string {
	return strings.Fields(c.Command)
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	c = c.withDefaults()
	if !filepath.IsAbs(c.BaseDir) {
		return errors.New("base dir must be an absolute path")
	}
	if len(c.argv()) == 0 {
		return errors.New("command cannot be empty")
	}
	return nil
}
