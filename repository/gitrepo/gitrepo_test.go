/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/issuefix/repository"
	"chainguard.dev/issuefix/repository/gitrepo"
	"chainguard.dev/issuefix/repository/gitrepo/gitrepotest"
)

var files = map[string]string{
	"README.md":        "# demo\n",
	"src/app.ts":       "export const x = 1;\n",
	"src/util/math.ts": "export function add(a: number, b: number) { return a + b; }\n",
}

func newAccessor(t *testing.T, clones *atomic.Int32) *gitrepo.Accessor {
	t.Helper()
	dir, _ := gitrepotest.Init(t, files)
	return gitrepo.New(
		gitrepo.WithDepth(0),
		gitrepo.WithRemoteURL(func(owner, repo string) string {
			clones.Add(1)
			return dir
		}),
	)
}

func TestTree(t *testing.T) {
	var clones atomic.Int32
	a := newAccessor(t, &clones)

	got, err := a.Tree(context.Background(), "o", "r", "")
	if err != nil {
		t.Fatalf("Tree() = %v", err)
	}
	want := []string{"README.md", "src/app.ts", "src/util/math.ts"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Tree() mismatch (-want +got):\n%s", diff)
	}
}

func TestContent(t *testing.T) {
	ctx := context.Background()
	var clones atomic.Int32
	a := newAccessor(t, &clones)

	got, err := a.Content(ctx, "o", "r", "", "src/util/math.ts")
	if err != nil {
		t.Fatalf("Content() = %v", err)
	}
	if got != files["src/util/math.ts"] {
		t.Errorf("Content() = %q, wanted = %q", got, files["src/util/math.ts"])
	}

	if _, err := a.Content(ctx, "o", "r", "", "src/missing.ts"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Content(missing) = %v, wanted ErrNotFound", err)
	}

	if n := clones.Load(); n != 1 {
		t.Errorf("clones = %d, wanted the clone to be reused", n)
	}
}

func TestConcurrentReadsShareClone(t *testing.T) {
	var clones atomic.Int32
	a := newAccessor(t, &clones)

	var mu sync.Mutex
	got := map[string]string{}
	g, ctx := errgroup.WithContext(context.Background())
	for path := range files {
		for range 4 {
			g.Go(func() error {
				content, err := a.Content(ctx, "o", "r", "tok", path)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				got[path] = content
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Content() = %v", err)
	}
	if diff := cmp.Diff(files, got); diff != "" {
		t.Errorf("contents mismatch (-want +got):\n%s", diff)
	}
	if n := clones.Load(); n != 1 {
		t.Errorf("clones = %d, wanted = 1", n)
	}
}

func TestMissingRepository(t *testing.T) {
	a := gitrepo.New(gitrepo.WithRemoteURL(func(string, string) string { return t.TempDir() + "/nope" }))
	if _, err := a.Tree(context.Background(), "o", "r", ""); err == nil {
		t.Error("Tree() succeeded for a missing repository")
	}
}
