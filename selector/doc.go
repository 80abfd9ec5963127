/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package selector decides which repository files a fix should change.

Selection is an ordered chain of strategies. Each one either produces a
Selection, defers to the next with ErrNotApplicable, or stops the chain with
an error:

  - Explicit verifies the files the issue author listed. It runs only when
    files were listed and its outcome is final.
  - Ranked walks the repository tree, drops dependency and build output,
    and scores source files by how many issue keywords appear in their path.
    Any failure defers to the next strategy.
  - Keyword extracts path-like tokens from the issue text and keeps those
    that exist. Finding nothing is a terminal selection error.

	sel, err := selector.New(accessor, accessor, selector.Config{MaxFiles: 10}).
		Select(ctx, selector.Request{Owner: "acme", Repo: "web", IssueBody: body})
*/
package selector
