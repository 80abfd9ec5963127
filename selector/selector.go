/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/issuefix/fixerr"
	"chainguard.dev/issuefix/repository"
)

// DefaultMaxFiles caps selections when Config.MaxFiles is unset.
const DefaultMaxFiles = 10

// Kind identifies which strategy produced a selection.
type Kind int

const (
	// KindExplicit means the caller named the files.
	KindExplicit Kind = iota + 1
	// KindRanked means files were ranked from the repository tree.
	KindRanked
	// KindKeyword means paths were pulled out of the issue text.
	KindKeyword
)

func (k Kind) String() string {
	switch k {
	case KindExplicit:
		return "explicit"
	case KindRanked:
		return "ranked"
	case KindKeyword:
		return "keyword"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrNotApplicable is returned by a Strategy to pass control to the next one.
var ErrNotApplicable = errors.New("strategy not applicable")

// Request describes what to select files for.
type Request struct {
	Owner string
	Repo  string
	Token string
	// IssueBody is the free text of the issue, code fences included.
	IssueBody string
	// ExplicitFiles, when non-empty, are the paths the issue author asked for.
	ExplicitFiles []string
}

// Selection is the ordered set of files a fix will touch.
type Selection struct {
	Strategy Kind
	Paths    []string
	// Warnings are human readable notes such as paths that were dropped.
	Warnings []string
}

// Strategy is one link of the selection chain.
type Strategy interface {
	Kind() Kind
	// Select returns a selection, ErrNotApplicable to defer to the next
	// strategy, or any other error to stop the chain.
	Select(ctx context.Context, req Request) (*Selection, error)
}

// Config holds the selector tunables.
type Config struct {
	MaxFiles int `env:"MAX_FILES,default=10"`
}

func (c Config) maxFiles() int {
	if c.MaxFiles <= 0 {
		return DefaultMaxFiles
	}
	return c.MaxFiles
}

// Selector runs its strategies in order until one produces a selection.
type Selector struct {
	strategies []Strategy
}

// New returns a Selector running the explicit, ranked and keyword strategies
// in that order.
func New(content repository.ContentAccessor, tree repository.TreeAccessor, cfg Config) *Selector {
	return NewChain(
		&Explicit{Content: content},
		&Ranked{Tree: tree, MaxFiles: cfg.maxFiles()},
		&Keyword{Content: content, MaxFiles: cfg.maxFiles()},
	)
}

// NewChain returns a Selector over the given strategies.
func NewChain(strategies ...Strategy) *Selector {
	return &Selector{strategies: strategies}
}

// Select runs the chain. The returned error is a *fixerr.Error of kind
// fixerr.Selection unless ctx was cancelled.
func (s *Selector) Select(ctx context.Context, req Request) (*Selection, error) {
	log := clog.FromContext(ctx).With("owner", req.Owner).With("repo", req.Repo)

	for _, strategy := range s.strategies {
		sel, err := strategy.Select(ctx, req)
		switch {
		case errors.Is(err, ErrNotApplicable):
			log.With("strategy", strategy.Kind().String()).With("reason", err.Error()).
				Info("Selection strategy deferred")
			continue
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if _, ok := fixerr.KindOf(err); ok {
				return nil, err
			}
			return nil, fixerr.Wrap(fixerr.Selection, "select", err, strategy.Kind().String())
		}

		for _, w := range sel.Warnings {
			log.With("strategy", sel.Strategy.String()).Warn(w)
		}
		log.With("strategy", sel.Strategy.String()).With("files", len(sel.Paths)).Info("Selected files")
		return sel, nil
	}
	return nil, fixerr.New(fixerr.Selection, "select", "no selection strategy produced any files")
}
