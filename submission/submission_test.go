/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package submission_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"text/template"

	"github.com/google/go-cmp/cmp"

	"chainguard.dev/issuefix/generator"
	"chainguard.dev/issuefix/repository/gitrepo/gitrepotest"
	"chainguard.dev/issuefix/sandbox"
	"chainguard.dev/issuefix/submission"
)

type fakeGitHub struct {
	mu      sync.Mutex
	open    []map[string]any
	created map[string]any
	edited  map[string]any
	labels  []string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGitHub) mux(t *testing.T) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"name": "r", "default_branch": gitrepotest.Branch})
	})
	mux.HandleFunc("GET /repos/o/r/pulls", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("head"); got != "o:bot/issue-7" {
			t.Errorf("head = %q, wanted o:bot/issue-7", got)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.open)
	})
	mux.HandleFunc("POST /repos/o/r/pulls", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&f.created); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeJSON(w, http.StatusCreated, map[string]any{"number": 12, "html_url": "https://github.com/o/r/pull/12"})
	})
	mux.HandleFunc("PATCH /repos/o/r/pulls/{n}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&f.edited); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"number": 3, "html_url": "https://github.com/o/r/pull/3"})
	})
	mux.HandleFunc("POST /repos/o/r/issues/{n}/labels", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&f.labels); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeJSON(w, http.StatusOK, []map[string]any{})
	})
	return mux
}

func newManager(t *testing.T, gh *fakeGitHub, remote string, opts ...submission.Option) *submission.Manager {
	t.Helper()
	srv := httptest.NewServer(gh.mux(t))
	t.Cleanup(srv.Close)

	opts = append([]submission.Option{
		submission.WithBaseURL(srv.URL),
		submission.WithRemoteURL(func(string, string) string { return remote }),
	}, opts...)
	m, err := submission.New("bot", opts...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return m
}

func request() submission.Request {
	return submission.Request{
		Owner:       "o",
		Repo:        "r",
		IssueNumber: 7,
		IssueTitle:  "Crash on empty input",
		Summary:     "Guard against empty input.",
		Changes: []generator.FileChange{
			{Path: "src/app.ts", Content: "export const x: number = 2;\n", Mode: generator.ModeRegular},
			{Path: "bin/run.sh", Content: "#!/bin/sh\n", Mode: generator.ModeExecutable},
		},
		Originals: map[string]string{"src/app.ts": "export const x = 1;\n"},
		Job:       &sandbox.Job{ID: "job-1", Status: sandbox.StatusValid},
	}
}

func TestSubmitCreates(t *testing.T) {
	remote, _ := gitrepotest.Init(t, map[string]string{"src/app.ts": "export const x = 1;\n"})
	gh := &fakeGitHub{}
	m := newManager(t, gh, remote, submission.WithLabels("automated"))

	got, err := m.Submit(context.Background(), request())
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	want := &submission.Result{Branch: "bot/issue-7", Number: 12, URL: "https://github.com/o/r/pull/12", Created: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Submit() mismatch (-want +got):\n%s", diff)
	}

	content, commit := gitrepotest.ReadBranch(t, remote, "bot/issue-7", "src/app.ts")
	if content != "export const x: number = 2;\n" {
		t.Errorf("pushed content = %q", content)
	}
	if commit.Author.Name != "bot" {
		t.Errorf("author = %q, wanted bot", commit.Author.Name)
	}
	if !strings.Contains(commit.Message, "Fixes #7") {
		t.Errorf("commit message %q does not reference the issue", commit.Message)
	}
	f, err := commit.File("bin/run.sh")
	if err != nil {
		t.Fatalf("File(bin/run.sh) = %v", err)
	}
	if !f.Mode.IsFile() || f.Mode.String() != "0100755" {
		t.Errorf("bin/run.sh mode = %v, wanted executable", f.Mode)
	}

	if gh.created["title"] != "Fix #7: Crash on empty input" {
		t.Errorf("title = %v", gh.created["title"])
	}
	if gh.created["head"] != "bot/issue-7" || gh.created["base"] != gitrepotest.Branch {
		t.Errorf("head/base = %v/%v", gh.created["head"], gh.created["base"])
	}
	body, _ := gh.created["body"].(string)
	for _, s := range []string{"Fixes #7", "Guard against empty input.", "`src/app.ts`", "skip:bot"} {
		if !strings.Contains(body, s) {
			t.Errorf("body missing %q:\n%s", s, body)
		}
	}
	if diff := cmp.Diff([]string{"automated"}, gh.labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitUpdatesOpenPullRequest(t *testing.T) {
	remote, _ := gitrepotest.Init(t, map[string]string{"src/app.ts": "export const x = 1;\n"})
	gh := &fakeGitHub{open: []map[string]any{{"number": 3}}}
	m := newManager(t, gh, remote)

	got, err := m.Submit(context.Background(), request())
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	if got.Created || got.Number != 3 {
		t.Errorf("Submit() = %+v, wanted an update of #3", got)
	}
	if gh.created != nil {
		t.Error("Submit() created a second pull request")
	}
	if gh.edited["title"] != "Fix #7: Crash on empty input" {
		t.Errorf("edited title = %v", gh.edited["title"])
	}

	// Submitting again force pushes over the previous branch tip.
	req := request()
	req.Changes = req.Changes[:1]
	req.Changes[0].Content = "export const x = 3;\n"
	if _, err := m.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	content, _ := gitrepotest.ReadBranch(t, remote, "bot/issue-7", "src/app.ts")
	if content != "export const x = 3;\n" {
		t.Errorf("pushed content = %q", content)
	}
}

func TestSubmitHonorsSkipLabel(t *testing.T) {
	remote, _ := gitrepotest.Init(t, map[string]string{"src/app.ts": "export const x = 1;\n"})
	gh := &fakeGitHub{open: []map[string]any{{
		"number": 3,
		"labels": []map[string]any{{"name": "skip:bot"}},
	}}}
	m := newManager(t, gh, remote)

	if _, err := m.Submit(context.Background(), request()); err == nil {
		t.Fatal("Submit() overwrote a pull request labeled skip:bot")
	}
	if gh.edited != nil {
		t.Error("Submit() edited a skipped pull request")
	}
}

func TestSubmitRejectsInvalidJobs(t *testing.T) {
	m, err := submission.New("bot")
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	for _, job := range []*sandbox.Job{nil, {Status: sandbox.StatusInvalid}, {Status: sandbox.StatusErrored}} {
		req := request()
		req.Job = job
		if _, err := m.Submit(context.Background(), req); !errors.Is(err, submission.ErrNotValid) {
			t.Errorf("Submit(%v) = %v, wanted ErrNotValid", job, err)
		}
	}
}

func TestCustomTemplates(t *testing.T) {
	remote, _ := gitrepotest.Init(t, map[string]string{"src/app.ts": "export const x = 1;\n"})
	gh := &fakeGitHub{}
	title := template.Must(template.New("t").Parse(`[{{.Identity}}] {{.IssueTitle}}`))
	body := template.Must(template.New("b").Parse(`job {{.Job.ID}} changed {{len .Changes}} files`))
	m := newManager(t, gh, remote, submission.WithTemplates(title, body))

	if _, err := m.Submit(context.Background(), request()); err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	if gh.created["title"] != "[bot] Crash on empty input" {
		t.Errorf("title = %v", gh.created["title"])
	}
	if gh.created["body"] != "job job-1 changed 2 files" {
		t.Errorf("body = %v", gh.created["body"])
	}
}

func TestNew(t *testing.T) {
	if _, err := submission.New("  "); err == nil {
		t.Error("New() accepted an empty identity")
	}
	if _, err := submission.New("bot", submission.WithTemplates(nil, nil)); err == nil {
		t.Error("New() accepted nil templates")
	}
	m, err := submission.New("bot")
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if got := m.Branch(42); got != "bot/issue-42" {
		t.Errorf("Branch() = %q", got)
	}
}
