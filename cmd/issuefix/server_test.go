/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"chainguard.dev/issuefix/fixerr"
	"chainguard.dev/issuefix/generator"
	"chainguard.dev/issuefix/pipeline"
	"chainguard.dev/issuefix/sandbox"
	"chainguard.dev/issuefix/selector"
	"chainguard.dev/issuefix/submission"
)

type fakePipeline struct {
	got pipeline.Request
	out *pipeline.Outcome
	err error
}

func (f *fakePipeline) Run(_ context.Context, req pipeline.Request) (*pipeline.Outcome, error) {
	f.got = req
	return f.out, f.err
}

func post(t *testing.T, s *server, body string) (int, fixResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/fix", strings.NewReader(body)))
	var resp fixResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return rec.Code, resp
}

func staticToken(context.Context, string) (string, error) { return "tok", nil }

func TestFixValid(t *testing.T) {
	fake := &fakePipeline{out: &pipeline.Outcome{
		JobID:     "job-1",
		Selection: &selector.Selection{Strategy: selector.KindExplicit, Paths: []string{"src/app.ts"}},
		Result: &generator.Result{Summary: "Use a number.", Changes: []generator.FileChange{
			{Path: "src/app.ts", Content: "export const x = 1;\n"},
		}},
		Job:        &sandbox.Job{ID: "job-1", Status: sandbox.StatusValid},
		Submission: &submission.Result{Branch: "bot/issue-7", Number: 9, URL: "https://github.com/o/r/pull/9", Created: true},
	}}
	s := &server{pipeline: fake, token: staticToken}

	code, resp := post(t, s, `{"owner": "o", "repo": "r", "issue": 7, "files": ["src/app.ts"], "submit": true}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, wanted 200: %+v", code, resp)
	}

	want := pipeline.Request{Owner: "o", Repo: "r", Token: "tok", IssueNumber: 7, Files: []string{"src/app.ts"}, Submit: true}
	if diff := cmp.Diff(want, fake.got); diff != "" {
		t.Errorf("pipeline request mismatch (-want +got):\n%s", diff)
	}
	if resp.Status != "valid" || resp.Strategy != "explicit" || resp.JobID != "job-1" {
		t.Errorf("response = %+v", resp)
	}
	if diff := cmp.Diff([]string{"src/app.ts"}, resp.Changed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(resp.Report, "#### Validation: valid") {
		t.Errorf("report = %q", resp.Report)
	}
	if resp.PullRequest == nil || resp.PullRequest.Number != 9 {
		t.Errorf("pull_request = %+v", resp.PullRequest)
	}
}

func TestFixErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantKind string
	}{{
		name:     "malformed",
		body:     `{"owner": `,
		wantCode: http.StatusBadRequest,
	}, {
		name:     "unknown field",
		body:     `{"owner": "o", "repo": "r", "branch": "x"}`,
		wantCode: http.StatusBadRequest,
	}, {
		name:     "missing repo",
		body:     `{"owner": "o"}`,
		wantCode: http.StatusBadRequest,
	}, {
		name:     "selection",
		body:     `{"owner": "o", "repo": "r", "body": "crash"}`,
		err:      fixerr.New(fixerr.Selection, "select", "no files", "nope.ts"),
		wantCode: http.StatusUnprocessableEntity,
		wantKind: fixerr.Selection.String(),
	}, {
		name:     "internal",
		body:     `{"owner": "o", "repo": "r", "body": "crash"}`,
		err:      errors.New("boom"),
		wantCode: http.StatusInternalServerError,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &server{pipeline: &fakePipeline{out: &pipeline.Outcome{JobID: "job-1"}, err: tt.err}, token: staticToken}
			code, resp := post(t, s, tt.body)
			if code != tt.wantCode {
				t.Errorf("status = %d, wanted %d", code, tt.wantCode)
			}
			if resp.Error == nil {
				t.Fatal("response has no error")
			}
			if resp.Error.Kind != tt.wantKind {
				t.Errorf("kind = %q, wanted %q", resp.Error.Kind, tt.wantKind)
			}
		})
	}
}

func TestFixTokenFailure(t *testing.T) {
	s := &server{pipeline: &fakePipeline{}, token: func(context.Context, string) (string, error) {
		return "", errors.New("no installation")
	}}
	if code, _ := post(t, s, `{"owner": "o", "repo": "r", "issue": 1}`); code != http.StatusBadGateway {
		t.Errorf("status = %d, wanted 502", code)
	}
}

func TestHealthz(t *testing.T) {
	s := &server{}
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, wanted 200", rec.Code)
	}
}

func TestNewTokenFunc(t *testing.T) {
	fn, err := newTokenFunc(config{GitHubToken: "static"})
	if err != nil {
		t.Fatalf("newTokenFunc() = %v", err)
	}
	if got, _ := fn(context.Background(), "o"); got != "static" {
		t.Errorf("token = %q, wanted static", got)
	}
	if _, err := newTokenFunc(config{GitHubAppID: 1, GitHubInstallationID: 2, GitHubAppKey: "not a key"}); err == nil {
		t.Error("newTokenFunc() accepted an invalid private key")
	}
}
