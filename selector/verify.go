/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package selector

import (
	"context"
	"errors"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"chainguard.dev/issuefix/repository"
)

// verifyConcurrency bounds in-flight existence checks per selection.
const verifyConcurrency = 8

// verify checks each path through the content accessor and splits them into
// those that exist and those that do not, preserving input order. Only
// context cancellation is returned as an error; any other lookup failure
// counts as a missing path.
func verify(ctx context.Context, content repository.ContentAccessor, req Request, paths []string) (found, missing []string, err error) {
	exists := make([]bool, len(paths))

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(verifyConcurrency)
	for i, p := range paths {
		eg.Go(func() error {
			_, err := content.Content(egctx, req.Owner, req.Repo, req.Token, p)
			switch {
			case err == nil:
				exists[i] = true
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	for i, p := range paths {
		if exists[i] {
			found = append(found, p)
		} else {
			missing = append(missing, p)
		}
	}
	return found, missing, nil
}

// normalize cleans a repository-relative path and reports whether anything
// usable is left.
func normalize(p string) (string, bool) {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "`'\"")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", false
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

// dedupe normalizes paths and drops repeats, keeping first occurrences.
// Inputs that do not normalize to a repository path are returned as
// rejected.
func dedupe(paths []string) (out, rejected []string) {
	seen := make(map[string]struct{}, len(paths))
	out = make([]string, 0, len(paths))
	for _, p := range paths {
		np, ok := normalize(p)
		if !ok {
			rejected = append(rejected, p)
			continue
		}
		if _, dup := seen[np]; dup {
			continue
		}
		seen[np] = struct{}{}
		out = append(out, np)
	}
	return out, rejected
}
