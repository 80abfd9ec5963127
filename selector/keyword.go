/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package selector

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"chainguard.dev/issuefix/fixerr"
	"chainguard.dev/issuefix/repository"
)

var pathRE = func() *regexp.Regexp {
	exts := []string{"json"}
	for ext := range sourceExtensions {
		exts = append(exts, regexp.QuoteMeta(strings.TrimPrefix(ext, ".")))
	}
	// Longer extensions first so "tsx" wins over "ts".
	slices.SortFunc(exts, func(a, b string) int { return len(b) - len(a) })
	return regexp.MustCompile(`[\w@./-]*[\w@-]\.(?:` + strings.Join(exts, "|") + `)\b`)
}()

// Keyword pulls file paths out of the issue text, code fences included, and
// keeps the ones that exist. Finding nothing ends the chain.
type Keyword struct {
	Content  repository.ContentAccessor
	MaxFiles int
}

var _ Strategy = (*Keyword)(nil)

// Kind implements Strategy.
func (*Keyword) Kind() Kind { return KindKeyword }

// Select implements Strategy.
func (k *Keyword) Select(ctx context.Context, req Request) (*Selection, error) {
	candidates := ExtractPaths(req.IssueBody)
	found, _, err := verify(ctx, k.Content, req, candidates)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fixerr.New(fixerr.Selection, "select",
			"could not identify any relevant files; list the files to change explicitly in the issue")
	}
	if k.MaxFiles > 0 && len(found) > k.MaxFiles {
		found = found[:k.MaxFiles]
	}
	return &Selection{Strategy: KindKeyword, Paths: found}, nil
}

// ExtractPaths returns the distinct, normalized path-like tokens in text that
// end in a recognized source extension.
func ExtractPaths(text string) []string {
	matches := pathRE.FindAllString(text, -1)
	for i, m := range matches {
		matches[i] = strings.TrimPrefix(m, "./")
	}
	paths, _ := dedupe(matches)
	return paths
}
