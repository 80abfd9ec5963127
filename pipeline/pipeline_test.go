/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/attribute"

	"chainguard.dev/issuefix/fixerr"
	"chainguard.dev/issuefix/genaimetrics"
	"chainguard.dev/issuefix/generator"
	"chainguard.dev/issuefix/pipeline"
	"chainguard.dev/issuefix/repository"
	"chainguard.dev/issuefix/sandbox"
	"chainguard.dev/issuefix/selector"
	"chainguard.dev/issuefix/submission"
)

// fakeRepo serves files from a map.
type fakeRepo map[string]string

func (f fakeRepo) Content(_ context.Context, _, _, _, path string) (string, error) {
	c, ok := f[path]
	if !ok {
		return "", fmt.Errorf("%s: %w", path, repository.ErrNotFound)
	}
	return c, nil
}

func (f fakeRepo) Tree(context.Context, string, string, string) ([]string, error) {
	paths := make([]string, 0, len(f))
	for p := range f {
		paths = append(paths, p)
	}
	return paths, nil
}

type fakeIssues map[int]*repository.Issue

func (f fakeIssues) Issue(_ context.Context, _, _, _ string, n int) (*repository.Issue, error) {
	i, ok := f[n]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return i, nil
}

// fakeService answers every prompt with res, recording what it was asked.
type fakeService struct {
	mu      sync.Mutex
	prompts []generator.Prompt
	attrs   []attribute.KeyValue
	res     *generator.Result
	err     error
}

func (f *fakeService) Generate(ctx context.Context, p generator.Prompt) (*generator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	f.attrs = genaimetrics.Attributes(ctx)
	if f.res == nil {
		return nil, f.err
	}
	res := *f.res
	res.Changes = append([]generator.FileChange(nil), f.res.Changes...)
	return &res, f.err
}

type fakeValidator struct {
	mu     sync.Mutex
	status sandbox.Status
	ids    []string
	active atomic.Int32
	peak   atomic.Int32
	hold   time.Duration
}

func (f *fakeValidator) Validate(_ context.Context, files []generator.FileChange, jobID string) *sandbox.Job {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.hold)

	f.mu.Lock()
	f.ids = append(f.ids, jobID)
	f.mu.Unlock()

	job := &sandbox.Job{ID: jobID, Status: f.status}
	if f.status != sandbox.StatusValid {
		job.Errors = []string{"src/app.ts(1,14): error TS2322: Type 'string' is not assignable to type 'number'."}
		job.Err = fixerr.New(fixerr.ValidationFailure, "validate", "type-check reported 1 error")
	}
	return job
}

type fakeSubmitter struct {
	reqs []submission.Request
}

func (f *fakeSubmitter) Submit(_ context.Context, req submission.Request) (*submission.Result, error) {
	f.reqs = append(f.reqs, req)
	return &submission.Result{Branch: "bot/issue-7", Number: 1, Created: true}, nil
}

var repo = fakeRepo{
	"src/app.ts":   "export const answer: number = '42';\n",
	"src/util.ts":  "export function add(a: number, b: number) { return a + b; }\n",
	"package.json": "{}\n",
}

var fix = &generator.Result{
	Summary: "Use a numeric literal.",
	Changes: []generator.FileChange{{Path: "src/app.ts", Content: "export const answer: number = 42;\n"}},
}

func newPipeline(svc generator.Service, val pipeline.Validator, opts ...pipeline.Option) *pipeline.Pipeline {
	var n atomic.Int32
	opts = append([]pipeline.Option{pipeline.WithJobIDs(func() string {
		return fmt.Sprintf("job-%d", n.Add(1))
	})}, opts...)
	return pipeline.New(pipeline.Config{}, repo,
		selector.New(repo, repo, selector.Config{}),
		generator.New(svc), val, opts...)
}

func TestRunValid(t *testing.T) {
	svc := &fakeService{res: fix}
	val := &fakeValidator{status: sandbox.StatusValid}
	sub := &fakeSubmitter{}
	p := newPipeline(svc, val, pipeline.WithSubmitter(sub))

	out, err := p.Run(context.Background(), pipeline.Request{
		Owner:       "o",
		Repo:        "r",
		IssueNumber: 7,
		IssueTitle:  "Wrong type",
		IssueBody:   "answer is a string",
		Files:       []string{"src/app.ts"},
		Submit:      true,
	})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if out.JobID != "job-1" {
		t.Errorf("JobID = %q", out.JobID)
	}
	if out.Selection.Strategy != selector.KindExplicit {
		t.Errorf("strategy = %v, wanted explicit", out.Selection.Strategy)
	}
	if !out.Job.Valid() {
		t.Errorf("job status = %v", out.Job.Status)
	}
	if diff := cmp.Diff([]string{"job-1"}, val.ids); diff != "" {
		t.Errorf("validated job ids mismatch (-want +got):\n%s", diff)
	}
	if len(svc.prompts) != 1 {
		t.Fatalf("prompts = %d, wanted exactly one exchange", len(svc.prompts))
	}
	if !strings.Contains(svc.prompts[0].User, "export const answer: number = '42';") {
		t.Errorf("prompt does not include the selected file:\n%s", svc.prompts[0].User)
	}
	wantAttrs := []attribute.KeyValue{
		attribute.String("job.id", "job-1"),
		attribute.String("repository", "o/r"),
	}
	if diff := cmp.Diff(wantAttrs, svc.attrs, cmp.AllowUnexported(attribute.Value{})); diff != "" {
		t.Errorf("metric attributes mismatch (-want +got):\n%s", diff)
	}

	if len(sub.reqs) != 1 {
		t.Fatalf("submissions = %d, wanted 1", len(sub.reqs))
	}
	got := sub.reqs[0]
	if got.IssueNumber != 7 || got.Job != out.Job || got.Summary != fix.Summary {
		t.Errorf("submission = %+v", got)
	}
	if diff := cmp.Diff(map[string]string{"src/app.ts": repo["src/app.ts"]}, got.Originals); diff != "" {
		t.Errorf("originals mismatch (-want +got):\n%s", diff)
	}
	if out.Submission == nil || !out.Submission.Created {
		t.Errorf("Submission = %+v", out.Submission)
	}
}

func TestRunInvalidIsNotSubmitted(t *testing.T) {
	sub := &fakeSubmitter{}
	p := newPipeline(&fakeService{res: fix}, &fakeValidator{status: sandbox.StatusInvalid}, pipeline.WithSubmitter(sub))

	out, err := p.Run(context.Background(), pipeline.Request{
		Owner: "o", Repo: "r", IssueNumber: 7, IssueBody: "see src/app.ts", Submit: true,
	})
	if !errors.Is(err, fixerr.ValidationFailure) {
		t.Fatalf("Run() = %v, wanted a validation failure", err)
	}
	if out.Job == nil || out.Job.Valid() {
		t.Errorf("Job = %+v, wanted an invalid job", out.Job)
	}
	if len(sub.reqs) != 0 {
		t.Errorf("invalid changes were submitted: %+v", sub.reqs)
	}
}

func TestRunGenerationFailureStopsBeforeValidation(t *testing.T) {
	val := &fakeValidator{status: sandbox.StatusValid}
	incomplete := &generator.Result{Summary: "x", Changes: []generator.FileChange{
		{Path: "src/app.ts", Content: "// ... existing code\nexport const answer = 42;\n"},
	}}

	for name, svc := range map[string]*fakeService{
		"service error": {err: errors.New("overloaded")},
		"placeholder":   {res: incomplete},
	} {
		t.Run(name, func(t *testing.T) {
			out, err := newPipeline(svc, val).Run(context.Background(), pipeline.Request{
				Owner: "o", Repo: "r", IssueBody: "fix src/app.ts",
			})
			if !errors.Is(err, fixerr.Generation) {
				t.Fatalf("Run() = %v, wanted a generation error", err)
			}
			if out.Result != nil || out.Job != nil {
				t.Errorf("Outcome = %+v, wanted no result or job", out)
			}
		})
	}
	if len(val.ids) != 0 {
		t.Errorf("validated %v after failed generation", val.ids)
	}
}

func TestRunSelectionFailure(t *testing.T) {
	svc := &fakeService{res: fix}
	_, err := newPipeline(svc, &fakeValidator{}).Run(context.Background(), pipeline.Request{
		Owner: "o", Repo: "r", IssueBody: "crash", Files: []string{"nope.ts"},
	})
	if !errors.Is(err, fixerr.Selection) {
		t.Fatalf("Run() = %v, wanted a selection error", err)
	}
	if len(svc.prompts) != 0 {
		t.Error("generation ran after selection failed")
	}
}

func TestRunLooksUpIssue(t *testing.T) {
	svc := &fakeService{res: fix}
	issues := fakeIssues{3: {Number: 3, Title: "Bad add", Body: "src/util.ts adds strings"}}
	p := newPipeline(svc, &fakeValidator{status: sandbox.StatusValid}, pipeline.WithIssues(issues))

	out, err := p.Run(context.Background(), pipeline.Request{Owner: "o", Repo: "r", IssueNumber: 3})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if diff := cmp.Diff([]string{"src/util.ts"}, out.Selection.Paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(svc.prompts[0].User, "Bad add") {
		t.Error("prompt does not include the fetched issue title")
	}

	if _, err := p.Run(context.Background(), pipeline.Request{Owner: "o", Repo: "r", IssueNumber: 4}); !errors.Is(err, fixerr.Selection) {
		t.Errorf("Run(missing issue) = %v, wanted a selection error", err)
	}
	if _, err := p.Run(context.Background(), pipeline.Request{Owner: "o", Repo: "r"}); !errors.Is(err, fixerr.Selection) {
		t.Errorf("Run(no issue) = %v, wanted a selection error", err)
	}
}

func TestRunBoundsConcurrentValidations(t *testing.T) {
	val := &fakeValidator{status: sandbox.StatusValid, hold: 20 * time.Millisecond}
	p := pipeline.New(pipeline.Config{MaxConcurrentValidations: 2}, repo,
		selector.New(repo, repo, selector.Config{}), generator.New(&fakeService{res: fix}), val)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(context.Background(), pipeline.Request{
				Owner: "o", Repo: "r", IssueBody: "fix src/app.ts",
			}); err != nil {
				t.Errorf("Run() = %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := val.peak.Load(); peak > 2 {
		t.Errorf("peak concurrent validations = %d, wanted <= 2", peak)
	}
	seen := map[string]bool{}
	for _, id := range val.ids {
		if seen[id] {
			t.Errorf("job id %q reused", id)
		}
		seen[id] = true
	}
}

func TestRunWithSandbox(t *testing.T) {
	sb, err := sandbox.New(sandbox.Config{BaseDir: t.TempDir()}, sandbox.WithRunner(runnerFunc(
		func(context.Context, string, []string) (sandbox.Output, error) {
			return sandbox.Output{}, nil
		})))
	if err != nil {
		t.Fatalf("sandbox.New() = %v", err)
	}
	t.Cleanup(func() { _ = sb.Close(context.Background()) })

	out, err := newPipeline(&fakeService{res: fix}, sb).Run(context.Background(), pipeline.Request{
		Owner: "o", Repo: "r", IssueBody: "fix src/app.ts",
	})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if !out.Job.Valid() || out.Job.ID != out.JobID {
		t.Errorf("Job = %+v", out.Job)
	}
	if err := sb.Scheduler().Flush(context.Background()); err != nil {
		t.Errorf("Flush() = %v", err)
	}
}

type runnerFunc func(context.Context, string, []string) (sandbox.Output, error)

func (f runnerFunc) Run(ctx context.Context, dir string, argv []string) (sandbox.Output, error) {
	return f(ctx, dir, argv)
}
