/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package repository defines the read-only views of a source repository that
// the fix pipeline consumes. Implementations live in subpackages.
package repository

import (
	"context"
	"errors"
)

// ErrNotFound is returned by accessors when the requested path, repository or
// issue does not exist. Implementations wrap it so callers can use errors.Is.
var ErrNotFound = errors.New("not found")

// ContentAccessor reads single files.
type ContentAccessor interface {
	// Content returns the contents of path in owner/repo at the default
	// branch, authenticating with token.
	Content(ctx context.Context, owner, repo, token, path string) (string, error)
}

// TreeAccessor lists files.
type TreeAccessor interface {
	// Tree returns every file path in owner/repo at the default branch.
	Tree(ctx context.Context, owner, repo, token string) ([]string, error)
}

// Issue is the subset of an issue the pipeline needs.
type Issue struct {
	Number int
	Title  string
	Body   string
	URL    string
}

// IssueFetcher looks up issues by number.
type IssueFetcher interface {
	Issue(ctx context.Context, owner, repo, token string, number int) (*Issue, error)
}

// Accessor is implemented by backends that can serve both files and trees.
type Accessor interface {
	ContentAccessor
	TreeAccessor
}
