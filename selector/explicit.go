/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package selector

import (
	"context"
	"fmt"

	"chainguard.dev/issuefix/fixerr"
	"chainguard.dev/issuefix/repository"
)

// Explicit selects the files the issue author listed. It applies only when
// Request.ExplicitFiles is non-empty and its outcome is final. Every listed
// file that exists is kept.
type Explicit struct {
	Content repository.ContentAccessor
}

var _ Strategy = (*Explicit)(nil)

// Kind implements Strategy.
func (*Explicit) Kind() Kind { return KindExplicit }

// Select implements Strategy.
func (e *Explicit) Select(ctx context.Context, req Request) (*Selection, error) {
	if len(req.ExplicitFiles) == 0 {
		return nil, fmt.Errorf("%w: no explicit files", ErrNotApplicable)
	}

	candidates, rejected := dedupe(req.ExplicitFiles)
	found, missing, err := verify(ctx, e.Content, req, candidates)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fixerr.New(fixerr.Selection, "select",
			"none of the requested files exist in the repository", req.ExplicitFiles...)
	}

	sel := &Selection{Strategy: KindExplicit, Paths: found}
	for _, p := range rejected {
		sel.Warnings = append(sel.Warnings, fmt.Sprintf("requested file %q is not a valid repository path, skipping", p))
	}
	for _, p := range missing {
		sel.Warnings = append(sel.Warnings, fmt.Sprintf("requested file %q does not exist, skipping", p))
	}
	return sel, nil
}
