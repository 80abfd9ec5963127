/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package submission proposes validated changes as a GitHub pull request.
// It commits the changes onto <identity>/issue-<n> in an in-memory clone,
// force pushes that branch and creates or updates the pull request for it.
package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/go-github/v84/github"
	"golang.org/x/oauth2"

	"chainguard.dev/issuefix/generator"
	"chainguard.dev/issuefix/report"
	"chainguard.dev/issuefix/sandbox"
)

var (
	// DefaultTitle is the pull request title template.
	DefaultTitle = template.Must(template.New("title").Parse(
		`Fix #{{.IssueNumber}}: {{.IssueTitle}}`))

	// DefaultBody is the pull request body template.
	DefaultBody = template.Must(template.New("body").Parse(
		`Fixes #{{.IssueNumber}}

{{.Report}}
> **Note:** apply the ` + "`{{.SkipLabel}}`" + ` label to stop {{.Identity}} from overwriting manual changes to this branch.
`))
)

// ErrNotValid is returned for changes whose validation job did not pass.
var ErrNotValid = errors.New("changes did not pass validation")

// Request describes changes to propose.
type Request struct {
	Owner       string
	Repo        string
	Token       string
	IssueNumber int
	IssueTitle  string
	Summary     string
	Changes     []generator.FileChange
	// Originals maps changed paths to their content before the change;
	// paths absent from it are new files.
	Originals map[string]string
	Job       *sandbox.Job
	// Base is the branch to target. The repository default is used when
	// empty.
	Base string
}

// Result is the proposed change.
type Result struct {
	Branch  string
	Number  int
	URL     string
	Created bool
}

// templateData is what the title and body templates see.
type templateData struct {
	Identity    string
	SkipLabel   string
	IssueNumber int
	IssueTitle  string
	Summary     string
	Report      string
	Changes     []generator.FileChange
	Job         *sandbox.Job
}

// Manager submits changes for one bot identity.
type Manager struct {
	identity  string
	title     *template.Template
	body      *template.Template
	labels    []string
	baseURL   *url.URL
	remoteURL func(owner, repo string) string
	transport http.RoundTripper
}

// Option configures a Manager.
type Option func(*Manager) error

// WithTemplates overrides DefaultTitle and DefaultBody.
func WithTemplates(title, body *template.Template) Option {
	return func(m *Manager) error {
		if title == nil || body == nil {
			return errors.New("templates cannot be nil")
		}
		m.title, m.body = title, body
		return nil
	}
}

// WithLabels labels newly created pull requests.
func WithLabels(labels ...string) Option {
	return func(m *Manager) error {
		m.labels = labels
		return nil
	}
}

// WithBaseURL points the API client at a GitHub Enterprise or test server.
func WithBaseURL(base string) Option {
	return func(m *Manager) error {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parsing base url: %w", err)
		}
		m.baseURL = u
		return nil
	}
}

// WithRemoteURL overrides how git remotes are addressed.
func WithRemoteURL(fn func(owner, repo string) string) Option {
	return func(m *Manager) error {
		m.remoteURL = fn
		return nil
	}
}

// WithTransport sets the base transport for API calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(m *Manager) error {
		m.transport = rt
		return nil
	}
}

// New returns a Manager that commits and opens pull requests as identity.
func New(identity string, opts ...Option) (*Manager, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("identity cannot be empty")
	}
	m := &Manager{
		identity: identity,
		title:    DefaultTitle,
		body:     DefaultBody,
		remoteURL: func(owner, repo string) string {
			return fmt.Sprintf("https://github.com/%s/%s", owner, repo)
		},
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Branch returns the branch used for issue n.
func (m *Manager) Branch(n int) string {
	return m.identity + "/issue-" + strconv.Itoa(n)
}

func (m *Manager) skipLabel() string {
	return "skip:" + m.identity
}

func (m *Manager) client(ctx context.Context, token string) *github.Client {
	hc := &http.Client{Transport: m.transport}
	if token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	gh := github.NewClient(hc)
	if m.baseURL != nil {
		gh.BaseURL = m.baseURL
	}
	return gh
}

// Submit pushes req.Changes and creates or updates the pull request. It
// refuses changes whose validation job is missing or did not pass.
func (m *Manager) Submit(ctx context.Context, req Request) (*Result, error) {
	switch {
	case req.Job == nil || !req.Job.Valid():
		return nil, ErrNotValid
	case len(req.Changes) == 0:
		return nil, errors.New("no changes to submit")
	case req.IssueNumber <= 0:
		return nil, fmt.Errorf("invalid issue number %d", req.IssueNumber)
	}

	log := clog.FromContext(ctx).With("repo", req.Owner+"/"+req.Repo).With("issue", req.IssueNumber)
	gh := m.client(ctx, req.Token)
	branch := m.Branch(req.IssueNumber)

	base := req.Base
	if base == "" {
		r, _, err := gh.Repositories.Get(ctx, req.Owner, req.Repo)
		if err != nil {
			return nil, fmt.Errorf("getting repository: %w", err)
		}
		base = r.GetDefaultBranch()
	}

	existing, err := m.openPullRequest(ctx, gh, req.Owner, req.Repo, branch, base)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		for _, l := range existing.Labels {
			if l.GetName() == m.skipLabel() {
				return nil, fmt.Errorf("pull request #%d has the %s label, not overwriting it", existing.GetNumber(), m.skipLabel())
			}
		}
	}

	title, body, err := m.render(req)
	if err != nil {
		return nil, err
	}

	if err := m.push(ctx, req, base, branch, title); err != nil {
		return nil, err
	}

	if existing != nil {
		log.With("number", existing.GetNumber()).Info("Updating pull request")
		pr, _, err := gh.PullRequests.Edit(ctx, req.Owner, req.Repo, existing.GetNumber(), &github.PullRequest{
			Title: github.Ptr(title),
			Body:  github.Ptr(body),
		})
		if err != nil {
			return nil, fmt.Errorf("updating pull request: %w", err)
		}
		return &Result{Branch: branch, Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
	}

	log.With("head", branch).With("base", base).Info("Creating pull request")
	pr, _, err := gh.PullRequests.Create(ctx, req.Owner, req.Repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(base),
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request: %w", err)
	}
	if len(m.labels) > 0 {
		if _, _, err := gh.Issues.AddLabelsToIssue(ctx, req.Owner, req.Repo, pr.GetNumber(), m.labels); err != nil {
			return nil, fmt.Errorf("adding labels: %w", err)
		}
	}
	log.With("number", pr.GetNumber()).With("url", pr.GetHTMLURL()).Info("Created pull request")
	return &Result{Branch: branch, Number: pr.GetNumber(), URL: pr.GetHTMLURL(), Created: true}, nil
}

func (m *Manager) openPullRequest(ctx context.Context, gh *github.Client, owner, repo, branch, base string) (*github.PullRequest, error) {
	prs, _, err := gh.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State: "open",
		Head:  owner + ":" + branch,
		Base:  base,
	})
	if err != nil {
		return nil, fmt.Errorf("listing pull requests: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0], nil
}

func (m *Manager) render(req Request) (string, string, error) {
	stats, err := report.Diffstat(req.Originals, req.Changes)
	if err != nil {
		return "", "", err
	}
	var rep strings.Builder
	if err := report.Markdown(&rep, report.Input{Summary: req.Summary, Changes: req.Changes, Stats: stats, Job: req.Job}); err != nil {
		return "", "", err
	}

	data := templateData{
		Identity:    m.identity,
		SkipLabel:   m.skipLabel(),
		IssueNumber: req.IssueNumber,
		IssueTitle:  req.IssueTitle,
		Summary:     req.Summary,
		Report:      rep.String(),
		Changes:     req.Changes,
		Job:         req.Job,
	}
	var title, body bytes.Buffer
	if err := m.title.Execute(&title, data); err != nil {
		return "", "", fmt.Errorf("executing title template: %w", err)
	}
	if err := m.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("executing body template: %w", err)
	}
	return strings.TrimSpace(title.String()), body.String(), nil
}

// push clones base into memory, writes the changes on a fresh branch,
// commits and force pushes it.
func (m *Manager) push(ctx context.Context, req Request, base, branch, message string) error {
	log := clog.FromContext(ctx)

	var auth *githttp.BasicAuth
	if req.Token != "" {
		auth = &githttp.BasicAuth{
			Username: "unused-when-using-access-tokens",
			Password: req.Token,
		}
	}
	opts := &git.CloneOptions{
		URL:           m.remoteURL(req.Owner, req.Repo),
		ReferenceName: plumbing.NewBranchReferenceName(base),
		SingleBranch:  true,
		Tags:          git.NoTags,
	}
	if auth != nil {
		opts.Auth = auth
	}
	repo, err := git.CloneContext(ctx, memory.NewStorage(), memfs.New(), opts)
	if err != nil {
		return fmt.Errorf("cloning repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	ref := plumbing.NewBranchReferenceName(branch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: ref, Create: true, Force: true}); err != nil {
		return fmt.Errorf("checking out branch: %w", err)
	}

	for _, c := range req.Changes {
		perm := os.FileMode(0o644)
		if c.Mode == generator.ModeExecutable {
			perm = 0o755
		}
		if err := util.WriteFile(wt.Filesystem, c.Path, []byte(c.Content), perm); err != nil {
			return fmt.Errorf("writing %s: %w", c.Path, err)
		}
		if _, err := wt.Add(c.Path); err != nil {
			return fmt.Errorf("staging %s: %w", c.Path, err)
		}
	}

	email := m.identity
	if !strings.Contains(email, "@") {
		email += "@users.noreply.github.com"
	}
	msg := fmt.Sprintf("%s\n\n%s\n\nFixes #%d\n", message, strings.TrimSpace(req.Summary), req.IssueNumber)
	if _, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: m.identity, Email: email, When: time.Now()},
	}); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	refSpec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", ref, ref))
	log.With("refspec", refSpec).Info("Force pushing branch")
	pushOpts := &git.PushOptions{
		RemoteName: "origin",
		Force:      true,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	}
	if auth != nil {
		pushOpts.Auth = auth
	}
	if err := repo.PushContext(ctx, pushOpts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("force pushing: %w", err)
	}
	return nil
}
