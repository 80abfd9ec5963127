/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gitrepo serves repository files from shallow in-memory clones.
// Clones are cached per owner, repository and token for a short time, so a
// selection followed by content reads for the same request clone once.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"chainguard.dev/issuefix/repository"
)

// DefaultTTL is how long a clone is reused.
const DefaultTTL = 5 * time.Minute

// Accessor implements repository.Accessor.
type Accessor struct {
	remoteURL func(owner, repo string) string
	depth     int
	ttl       time.Duration
	now       func() time.Time

	mu     sync.Mutex
	clones map[key]*clone
}

var _ repository.Accessor = (*Accessor)(nil)

type key struct {
	owner, repo, token string
}

type clone struct {
	ready   chan struct{}
	created time.Time
	err     error

	// mu guards tree, which builds lookup maps lazily.
	mu   sync.Mutex
	tree *object.Tree
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithRemoteURL overrides how remotes are addressed. The default is
// https://github.com/<owner>/<repo>.
func WithRemoteURL(fn func(owner, repo string) string) Option {
	return func(a *Accessor) { a.remoteURL = fn }
}

// WithDepth sets the clone depth; 0 clones full history.
func WithDepth(depth int) Option {
	return func(a *Accessor) { a.depth = depth }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(a *Accessor) { a.ttl = ttl }
}

// New returns an Accessor.
func New(opts ...Option) *Accessor {
	a := &Accessor{
		remoteURL: func(owner, repo string) string {
			return fmt.Sprintf("https://github.com/%s/%s", owner, repo)
		},
		depth:  1,
		ttl:    DefaultTTL,
		now:    time.Now,
		clones: make(map[key]*clone),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Content implements repository.ContentAccessor.
func (a *Accessor) Content(ctx context.Context, owner, repo, token, path string) (string, error) {
	cl, err := a.checkout(ctx, owner, repo, token)
	if err != nil {
		return "", err
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()

	f, err := cl.tree.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) || errors.Is(err, object.ErrEntryNotFound) {
			return "", fmt.Errorf("%s/%s: %s: %w", owner, repo, path, repository.ErrNotFound)
		}
		return "", fmt.Errorf("finding %s: %w", path, err)
	}
	content, err := f.Contents()
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return content, nil
}

// Tree implements repository.TreeAccessor.
func (a *Accessor) Tree(ctx context.Context, owner, repo, token string) ([]string, error) {
	cl, err := a.checkout(ctx, owner, repo, token)
	if err != nil {
		return nil, err
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var paths []string
	if err := cl.tree.Files().ForEach(func(f *object.File) error {
		paths = append(paths, f.Name)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("walking tree: %w", err)
	}
	slices.Sort(paths)
	return paths, nil
}

// checkout returns a cached clone with its HEAD tree loaded, cloning when
// needed. Concurrent callers for the same key share one clone.
func (a *Accessor) checkout(ctx context.Context, owner, repo, token string) (*clone, error) {
	k := key{owner: owner, repo: repo, token: token}

	a.mu.Lock()
	a.evictLocked()
	cl, ok := a.clones[k]
	if !ok {
		cl = &clone{ready: make(chan struct{}), created: a.now()}
		a.clones[k] = cl
		go a.fill(context.WithoutCancel(ctx), cl, owner, repo, token)
	}
	a.mu.Unlock()

	select {
	case <-cl.ready:
		if cl.err != nil {
			return nil, cl.err
		}
		return cl, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// evictLocked drops finished clones that failed or outlived the TTL. Keys
// carry the token, so rotated tokens would otherwise pin old clones forever.
func (a *Accessor) evictLocked() {
	now := a.now()
	for k, cl := range a.clones {
		select {
		case <-cl.ready:
			if cl.err != nil || now.Sub(cl.created) > a.ttl {
				delete(a.clones, k)
			}
		default:
		}
	}
}

func (a *Accessor) fill(ctx context.Context, cl *clone, owner, repo, token string) {
	defer close(cl.ready)

	remote := a.remoteURL(owner, repo)
	clog.FromContext(ctx).With("remote", remote).Info("Cloning repository into memory")

	opts := &git.CloneOptions{
		URL:          remote,
		Depth:        a.depth,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if token != "" {
		opts.Auth = &githttp.BasicAuth{
			Username: "unused-when-using-access-tokens",
			Password: token,
		}
	}

	r, err := git.CloneContext(ctx, memory.NewStorage(), nil, opts)
	if err != nil {
		if errors.Is(err, transport.ErrRepositoryNotFound) {
			err = repository.ErrNotFound
		}
		cl.err = fmt.Errorf("cloning %s/%s: %w", owner, repo, err)
		return
	}
	head, err := r.Head()
	if err != nil {
		cl.err = fmt.Errorf("resolving HEAD: %w", err)
		return
	}
	commit, err := r.CommitObject(head.Hash())
	if err != nil {
		cl.err = fmt.Errorf("getting commit object: %w", err)
		return
	}
	cl.tree, cl.err = commit.Tree()
}
