/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package generator

import (
	"context"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/issuefix/chunker"
	"chainguard.dev/issuefix/fixerr"
)

// Mode is the file mode a change is written with.
type Mode string

const (
	// ModeRegular is a non-executable file.
	ModeRegular Mode = "100644"
	// ModeExecutable is an executable file.
	ModeExecutable Mode = "100755"
)

// FileChange is a complete replacement for one file.
type FileChange struct {
	Path    string `json:"path" jsonschema:"required,description=Repository-relative path of the file"`
	Content string `json:"content" jsonschema:"required,description=The complete new contents of the file. Never abbreviate or elide unchanged code."`
	Mode    Mode   `json:"mode,omitempty" jsonschema:"enum=100644,enum=100755,description=Git file mode; defaults to 100644"`
	Summary string `json:"summary,omitempty" jsonschema:"description=One sentence describing what changed in this file"`
}

// Result is what a generation service returns.
type Result struct {
	Summary string       `json:"summary" jsonschema:"required,description=Short explanation of the fix"`
	Changes []FileChange `json:"changes" jsonschema:"required,description=One entry per file that needs to change"`
}

// File is a selected file, already split into chunks.
type File struct {
	Path   string
	Chunks []chunker.Chunk
}

// Request is everything a single generation exchange needs.
type Request struct {
	IssueTitle string
	IssueBody  string
	Files      []File
}

// Prompt is a rendered exchange ready for a Service.
type Prompt struct {
	System string
	User   string
}

// Service performs one exchange with a generation backend.
type Service interface {
	Generate(ctx context.Context, prompt Prompt) (*Result, error)
}

// Generator renders requests, calls a Service once and checks that what comes
// back is complete.
type Generator struct {
	svc Service
}

// New returns a Generator backed by svc.
func New(svc Service) *Generator {
	return &Generator{svc: svc}
}

// Generate performs exactly one exchange with the service. Any service error
// or any change that fails the completeness checks is a fixerr.Generation
// error and no changes are returned.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	log := clog.FromContext(ctx).With("files", len(req.Files))

	prompt, err := Render(req)
	if err != nil {
		return nil, fixerr.Wrap(fixerr.Generation, "generate", err, "render prompt")
	}

	log.With("prompt_bytes", len(prompt.User)).Info("Requesting file changes")
	res, err := g.svc.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fixerr.Wrap(fixerr.Generation, "generate", err, "generation service")
	}
	if res == nil {
		return nil, fixerr.New(fixerr.Generation, "generate", "generation service returned no result")
	}

	if err := Check(res); err != nil {
		log.With("error", err).Warn("Rejected generated changes")
		return nil, err
	}

	for i := range res.Changes {
		if res.Changes[i].Mode == "" {
			res.Changes[i].Mode = ModeRegular
		}
	}
	log.With("changes", len(res.Changes)).Info("Generated file changes")
	return res, nil
}
