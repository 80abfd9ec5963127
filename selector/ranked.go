/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package selector

import (
	"cmp"
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"unicode"

	"chainguard.dev/issuefix/repository"
)

// excludedDirs are build, dependency and tooling directories that never hold
// code worth changing.
var excludedDirs = map[string]bool{
	"node_modules":     true,
	"bower_components": true,
	"dist":             true,
	"build":            true,
	"out":              true,
	"coverage":         true,
	"vendor":           true,
	"target":           true,
	"tmp":              true,
	"__pycache__":      true,
	".git":             true,
	".next":            true,
	".nuxt":            true,
	".cache":           true,
	".turbo":           true,
	".yarn":            true,
}

// sourceExtensions maps the file types the pipeline can usefully change to
// their ranking bonus.
var sourceExtensions = map[string]int{
	".ts": 2, ".tsx": 2, ".js": 2, ".jsx": 2,
	".mts": 2, ".cts": 2, ".mjs": 2, ".cjs": 2,
	".vue": 1, ".svelte": 1,
	".py": 1, ".go": 1, ".rb": 1, ".java": 1, ".kt": 1, ".rs": 1,
	".c": 1, ".h": 1, ".cc": 1, ".cpp": 1, ".hpp": 1, ".cs": 1,
	".php": 1, ".swift": 1, ".scala": 1,
}

// sourceDirs earn a bonus when they appear anywhere in a path.
var sourceDirs = map[string]bool{
	"src": true, "lib": true, "app": true, "pages": true, "components": true,
	"server": true, "api": true, "pkg": true, "internal": true,
	"services": true, "utils": true, "hooks": true,
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "when": true, "from": true,
	"should": true, "would": true, "could": true, "there": true, "have": true,
	"what": true, "which": true, "into": true, "then": true, "than": true,
	"also": true, "does": true, "some": true, "like": true, "just": true,
	"file": true, "files": true, "code": true, "error": true, "issue": true,
}

// Ranked scores every source file in the repository tree against the issue
// text and keeps the best matches. Failures never stop the chain.
type Ranked struct {
	Tree     repository.TreeAccessor
	MaxFiles int
}

var _ Strategy = (*Ranked)(nil)

// Kind implements Strategy.
func (*Ranked) Kind() Kind { return KindRanked }

// Select implements Strategy.
func (r *Ranked) Select(ctx context.Context, req Request) (*Selection, error) {
	if len(req.ExplicitFiles) > 0 {
		return nil, fmt.Errorf("%w: explicit files given", ErrNotApplicable)
	}
	if r.Tree == nil {
		return nil, fmt.Errorf("%w: no tree accessor", ErrNotApplicable)
	}

	tokens := Tokens(req.IssueBody)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: issue has no usable keywords", ErrNotApplicable)
	}

	paths, err := r.Tree.Tree(ctx, req.Owner, req.Repo, req.Token)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: list tree: %w", ErrNotApplicable, err)
	}

	ranked := Rank(paths, tokens)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: no file matched the issue keywords", ErrNotApplicable)
	}
	limit := r.MaxFiles
	if limit <= 0 {
		limit = DefaultMaxFiles
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	sel := &Selection{Strategy: KindRanked}
	for _, s := range ranked {
		sel.Paths = append(sel.Paths, s.Path)
	}
	return sel, nil
}

// Tokens lower-cases text and returns its distinct words longer than three
// characters, in order of first appearance, without common filler words.
func Tokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if len(w) <= 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Scored is a path with its relevance score.
type Scored struct {
	Path  string
	Score int
}

// Rank filters paths down to source files outside excluded directories,
// scores them against tokens and returns those with at least one keyword hit,
// best first. Ties are broken by path.
func Rank(paths, tokens []string) []Scored {
	var out []Scored
	for _, p := range paths {
		if s, ok := score(p, tokens); ok {
			out = append(out, Scored{Path: p, Score: s})
		}
	}
	slices.SortFunc(out, func(a, b Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return out
}

func score(p string, tokens []string) (int, bool) {
	lower := strings.ToLower(p)
	ext := path.Ext(lower)
	bonus, ok := sourceExtensions[ext]
	if !ok || strings.HasSuffix(lower, ".min.js") || strings.HasSuffix(lower, ".d.ts") {
		return 0, false
	}

	dir, base := path.Split(lower)
	base = strings.TrimSuffix(base, ext)
	dirBonus := 0
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if excludedDirs[seg] {
			return 0, false
		}
		if sourceDirs[seg] {
			dirBonus = 1
		}
	}

	hits := 0
	for _, tok := range tokens {
		switch {
		case strings.Contains(base, tok):
			hits += 3
		case strings.Contains(dir, tok):
			hits++
		}
	}
	if hits == 0 {
		return 0, false
	}
	return hits + bonus + dirBonus, true
}
