/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package pipeline wires selection, chunking, generation and validation
// into a single attempt at fixing an issue. Changes are only proposed when
// the validation job for them passed.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"chainguard.dev/issuefix/chunker"
	"chainguard.dev/issuefix/chunker/treesitter"
	"chainguard.dev/issuefix/fixerr"
	"chainguard.dev/issuefix/genaimetrics"
	"chainguard.dev/issuefix/generator"
	"chainguard.dev/issuefix/repository"
	"chainguard.dev/issuefix/sandbox"
	"chainguard.dev/issuefix/selector"
	"chainguard.dev/issuefix/submission"
)

const tracerName = "chainguard.dev/issuefix/pipeline"

// Config holds the orchestrator tunables.
type Config struct {
	// ChunkMaxLines is the soft per-chunk line budget.
	ChunkMaxLines int `env:"CHUNK_MAX_LINES,default=700"`
	// TreeSitter selects parser-backed declaration boundaries.
	TreeSitter bool `env:"TREE_SITTER,default=false"`
	// FetchConcurrency bounds concurrent content reads per attempt.
	FetchConcurrency int `env:"FETCH_CONCURRENCY,default=8"`
	// MaxConcurrentValidations bounds type-check jobs across attempts.
	MaxConcurrentValidations int64 `env:"MAX_CONCURRENT_VALIDATIONS,default=4"`
}

func (c Config) withDefaults() Config {
	if c.ChunkMaxLines <= 0 {
		c.ChunkMaxLines = chunker.DefaultMaxLines
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 8
	}
	if c.MaxConcurrentValidations <= 0 {
		c.MaxConcurrentValidations = 4
	}
	return c
}

// Selector picks the files an attempt works on.
type Selector interface {
	Select(ctx context.Context, req selector.Request) (*selector.Selection, error)
}

// Generator produces the candidate changes.
type Generator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
}

// Validator type-checks candidate changes in an isolated workspace.
type Validator interface {
	Validate(ctx context.Context, files []generator.FileChange, jobID string) *sandbox.Job
}

// Submitter proposes validated changes upstream.
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (*submission.Result, error)
}

var (
	_ Selector  = (*selector.Selector)(nil)
	_ Generator = (*generator.Generator)(nil)
	_ Validator = (*sandbox.Sandbox)(nil)
	_ Submitter = (*submission.Manager)(nil)
)

// Request is one attempt at fixing an issue.
type Request struct {
	Owner string
	Repo  string
	Token string

	// IssueNumber is used to look up the title and body when both are
	// empty, and to name the branch changes are submitted on.
	IssueNumber int
	IssueTitle  string
	IssueBody   string

	// Files are paths the caller asked to be considered.
	Files []string

	// Submit proposes the changes when validation passes.
	Submit bool
}

// Outcome records how far an attempt got.
type Outcome struct {
	JobID      string
	Selection  *selector.Selection
	Result     *generator.Result
	Job        *sandbox.Job
	Submission *submission.Result
}

// Pipeline runs attempts.
type Pipeline struct {
	cfg       Config
	content   repository.ContentAccessor
	selector  Selector
	generator Generator
	validator Validator
	issues    repository.IssueFetcher
	submitter Submitter
	sem       *semaphore.Weighted
	newID     func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIssues enables looking issues up by number.
func WithIssues(f repository.IssueFetcher) Option {
	return func(p *Pipeline) { p.issues = f }
}

// WithSubmitter enables proposing valid changes.
func WithSubmitter(s Submitter) Option {
	return func(p *Pipeline) { p.submitter = s }
}

// WithJobIDs overrides how job IDs are minted.
func WithJobIDs(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// New returns a Pipeline over the given stages.
func New(cfg Config, content repository.ContentAccessor, sel Selector, gen Generator, val Validator, opts ...Option) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:       cfg,
		content:   content,
		selector:  sel,
		generator: gen,
		validator: val,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrentValidations),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs one attempt. The returned Outcome is non-nil once a job ID
// has been minted and carries whatever stages completed. The error is the
// first failing stage's, which for validation is the job's own error.
func (p *Pipeline) Run(ctx context.Context, req Request) (out *Outcome, err error) {
	out = &Outcome{JobID: p.newID()}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "issuefix.attempt", trace.WithAttributes(
		attribute.String("job.id", out.JobID),
		attribute.String("repository", req.Owner+"/"+req.Repo),
		attribute.Int("issue.number", req.IssueNumber),
	))
	defer func() { end(span, err) }()

	log := clog.FromContext(ctx).With("job", out.JobID).With("repo", req.Owner+"/"+req.Repo)
	ctx = clog.WithLogger(ctx, log)
	ctx = genaimetrics.WithAttributes(ctx,
		attribute.String("job.id", out.JobID),
		attribute.String("repository", req.Owner+"/"+req.Repo),
	)

	if err := p.describeIssue(ctx, &req); err != nil {
		return out, err
	}

	out.Selection, err = stage(ctx, "select", func(ctx context.Context) (*selector.Selection, error) {
		return p.selector.Select(ctx, selector.Request{
			Owner:         req.Owner,
			Repo:          req.Repo,
			Token:         req.Token,
			IssueBody:     req.IssueBody,
			ExplicitFiles: req.Files,
		})
	})
	if err != nil {
		return out, err
	}

	originals, err := p.fetch(ctx, req, out.Selection.Paths)
	if err != nil {
		return out, err
	}

	files := make([]generator.File, 0, len(out.Selection.Paths))
	for _, path := range out.Selection.Paths {
		opts := chunker.Options{MaxLines: p.cfg.ChunkMaxLines}
		if p.cfg.TreeSitter {
			opts.Boundary = treesitter.ForPath(path)
		}
		files = append(files, generator.File{Path: path, Chunks: chunker.Split(originals[path], opts)})
	}

	out.Result, err = stage(ctx, "generate", func(ctx context.Context) (*generator.Result, error) {
		return p.generator.Generate(ctx, generator.Request{
			IssueTitle: req.IssueTitle,
			IssueBody:  req.IssueBody,
			Files:      files,
		})
	})
	if err != nil {
		return out, err
	}

	out.Job, err = stage(ctx, "validate", func(ctx context.Context) (*sandbox.Job, error) {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer p.sem.Release(1)
		job := p.validator.Validate(ctx, out.Result.Changes, out.JobID)
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("validation.status", string(job.Status)),
			attribute.Int("validation.errors", len(job.Errors)),
		)
		return job, job.Err
	})
	if err != nil {
		return out, err
	}

	if !req.Submit || p.submitter == nil {
		return out, nil
	}
	out.Submission, err = stage(ctx, "submit", func(ctx context.Context) (*submission.Result, error) {
		return p.submitter.Submit(ctx, submission.Request{
			Owner:       req.Owner,
			Repo:        req.Repo,
			Token:       req.Token,
			IssueNumber: req.IssueNumber,
			IssueTitle:  req.IssueTitle,
			Summary:     out.Result.Summary,
			Changes:     out.Result.Changes,
			Originals:   originals,
			Job:         out.Job,
		})
	})
	if err != nil {
		return out, fmt.Errorf("submitting changes: %w", err)
	}
	return out, nil
}

// describeIssue fills in the title and body when the caller only gave a
// number.
func (p *Pipeline) describeIssue(ctx context.Context, req *Request) error {
	if req.IssueTitle != "" || req.IssueBody != "" {
		return nil
	}
	if req.IssueNumber <= 0 || p.issues == nil {
		return fixerr.New(fixerr.Selection, "describe", "an issue title, body or number is required")
	}
	issue, err := p.issues.Issue(ctx, req.Owner, req.Repo, req.Token, req.IssueNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fixerr.Wrap(fixerr.Selection, "describe", err, fmt.Sprintf("issue #%d", req.IssueNumber))
		}
		return fmt.Errorf("fetching issue #%d: %w", req.IssueNumber, err)
	}
	req.IssueTitle, req.IssueBody = issue.Title, issue.Body
	return nil
}

// fetch reads the selected files, returning their contents by path.
func (p *Pipeline) fetch(ctx context.Context, req Request, paths []string) (map[string]string, error) {
	contents := make([]string, len(paths))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.FetchConcurrency)
	for i, path := range paths {
		eg.Go(func() error {
			c, err := p.content.Content(ectx, req.Owner, req.Repo, req.Token, path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			contents[i] = c
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fixerr.Wrap(fixerr.Selection, "fetch", err, "read selected files")
	}

	originals := make(map[string]string, len(paths))
	for i, path := range paths {
		originals[path] = contents[i]
	}
	return originals, nil
}

// stage runs fn under a child span named after the stage.
func stage[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (res T, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "issuefix."+name)
	defer func() { end(span, err) }()
	return fn(ctx)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if k, ok := fixerr.KindOf(err); ok {
			span.SetAttributes(attribute.String("error.kind", k.String()))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
