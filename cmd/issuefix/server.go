/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/issuefix/fixerr"
	"chainguard.dev/issuefix/pipeline"
	"chainguard.dev/issuefix/report"
)

// attempter runs one fix attempt.
type attempter interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// tokenFunc returns the GitHub token to use for owner.
type tokenFunc func(ctx context.Context, owner string) (string, error)

type fixRequest struct {
	Owner  string   `json:"owner"`
	Repo   string   `json:"repo"`
	Issue  int      `json:"issue"`
	Title  string   `json:"title,omitempty"`
	Body   string   `json:"body,omitempty"`
	Files  []string `json:"files,omitempty"`
	Submit bool     `json:"submit,omitempty"`
}

type errorBody struct {
	Kind    string   `json:"kind,omitempty"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

type pullRequest struct {
	Number  int    `json:"number"`
	URL     string `json:"url"`
	Branch  string `json:"branch"`
	Created bool   `json:"created"`
}

type fixResponse struct {
	JobID       string       `json:"job_id,omitempty"`
	Status      string       `json:"status,omitempty"`
	Strategy    string       `json:"strategy,omitempty"`
	Selected    []string     `json:"selected,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Changed     []string     `json:"changed,omitempty"`
	Errors      []string     `json:"errors,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
	Report      string       `json:"report,omitempty"`
	PullRequest *pullRequest `json:"pull_request,omitempty"`
	Error       *errorBody   `json:"error,omitempty"`
}

type server struct {
	pipeline attempter
	token    tokenFunc
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/fix", s.fix)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func (s *server) fix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := clog.FromContext(ctx)

	var req fixRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, fixResponse{Error: &errorBody{Message: "decoding request: " + err.Error()}})
		return
	}
	if req.Owner == "" || req.Repo == "" || strings.Contains(req.Owner+req.Repo, "/") {
		writeJSON(w, http.StatusBadRequest, fixResponse{Error: &errorBody{Message: "owner and repo are required"}})
		return
	}

	token, err := s.token(ctx, req.Owner)
	if err != nil {
		log.With("error", err).Error("Failed to get GitHub token")
		writeJSON(w, http.StatusBadGateway, fixResponse{Error: &errorBody{Message: "getting GitHub token"}})
		return
	}

	out, err := s.pipeline.Run(ctx, pipeline.Request{
		Owner:       req.Owner,
		Repo:        req.Repo,
		Token:       token,
		IssueNumber: req.Issue,
		IssueTitle:  req.Title,
		IssueBody:   req.Body,
		Files:       req.Files,
		Submit:      req.Submit,
	})

	resp := describe(out)
	status := http.StatusOK
	if err != nil {
		resp.Error = &errorBody{Message: err.Error()}
		if kind, ok := fixerr.KindOf(err); ok {
			resp.Error.Kind = kind.String()
			resp.Error.Details = fixerr.DetailsOf(err)
			status = http.StatusUnprocessableEntity
		} else {
			log.With("error", err).Error("Fix attempt failed")
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, resp)
}

// describe renders whatever stages of an attempt completed.
func describe(out *pipeline.Outcome) fixResponse {
	var resp fixResponse
	if out == nil {
		return resp
	}
	resp.JobID = out.JobID
	if sel := out.Selection; sel != nil {
		resp.Strategy = sel.Strategy.String()
		resp.Selected = sel.Paths
		resp.Warnings = append(resp.Warnings, sel.Warnings...)
	}
	if res := out.Result; res != nil {
		resp.Summary = res.Summary
		resp.Changed = report.Paths(res.Changes)
	}
	if job := out.Job; job != nil {
		resp.Status = string(job.Status)
		resp.Errors = job.Errors
		resp.Warnings = append(resp.Warnings, job.Warnings...)
		var md strings.Builder
		if err := report.Markdown(&md, report.Input{Summary: out.Result.Summary, Changes: out.Result.Changes, Job: job}); err == nil {
			resp.Report = md.String()
		}
	}
	if pr := out.Submission; pr != nil {
		resp.PullRequest = &pullRequest{Number: pr.Number, URL: pr.URL, Branch: pr.Branch, Created: pr.Created}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
