/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubrepo reads repositories and issues through the GitHub REST
// and GraphQL APIs. Rate limits and server errors are retried; nothing
// else is.
package githubrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"chainguard.dev/issuefix/repository"
	"chainguard.dev/issuefix/retry"
)

// Client implements repository.Accessor and repository.IssueFetcher.
type Client struct {
	baseURL   *url.URL
	transport http.RoundTripper
	policy    retry.Policy
}

var (
	_ repository.Accessor     = (*Client)(nil)
	_ repository.IssueFetcher = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL points the client at a GitHub Enterprise server or a test
// server. The GraphQL endpoint is <base>/graphql.
func WithBaseURL(base string) Option {
	return func(c *Client) error {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parsing base url: %w", err)
		}
		c.baseURL = u
		return nil
	}
}

// WithRetryPolicy overrides retry.DefaultPolicy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) error {
		if err := p.Validate(); err != nil {
			return err
		}
		c.policy = p
		return nil
	}
}

// WithTransport sets the base transport that authentication wraps.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) error {
		c.transport = rt
		return nil
	}
}

// New returns a Client.
func New(opts ...Option) (*Client, error) {
	c := &Client{policy: retry.DefaultPolicy()}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) httpClient(ctx context.Context, token string) *http.Client {
	base := &http.Client{Transport: c.transport}
	if token == "" {
		return base
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

func (c *Client) rest(ctx context.Context, token string) *github.Client {
	gh := github.NewClient(c.httpClient(ctx, token))
	if c.baseURL != nil {
		gh.BaseURL = c.baseURL
	}
	return gh
}

func (c *Client) graphql(ctx context.Context, token string) *githubv4.Client {
	if c.baseURL != nil {
		return githubv4.NewEnterpriseClient(c.baseURL.JoinPath("graphql").String(), c.httpClient(ctx, token))
	}
	return githubv4.NewClient(c.httpClient(ctx, token))
}

// Content implements repository.ContentAccessor.
func (c *Client) Content(ctx context.Context, owner, repo, token, path string) (string, error) {
	gh := c.rest(ctx, token)
	op := fmt.Sprintf("get %s/%s:%s", owner, repo, path)

	fc, err := retry.Do(ctx, c.policy, op, isTransient, func() (*github.RepositoryContent, error) {
		fc, _, _, err := gh.Repositories.GetContents(ctx, owner, repo, path, nil)
		return fc, hint(err)
	})
	if err != nil {
		return "", classify(err, op)
	}
	if fc == nil {
		return "", fmt.Errorf("%s: is a directory: %w", op, repository.ErrNotFound)
	}

	// The contents API omits bodies of files over 1MB.
	if fc.GetEncoding() == "none" {
		return retry.Do(ctx, c.policy, op, isTransient, func() (string, error) {
			rc, _, err := gh.Repositories.DownloadContents(ctx, owner, repo, path, nil)
			if err != nil {
				return "", hint(err)
			}
			defer rc.Close()
			b, err := io.ReadAll(rc)
			return string(b), err
		})
	}
	content, err := fc.GetContent()
	if err != nil {
		return "", fmt.Errorf("%s: decoding: %w", op, err)
	}
	return content, nil
}

// Tree implements repository.TreeAccessor. It lists blobs on the default
// branch.
func (c *Client) Tree(ctx context.Context, owner, repo, token string) ([]string, error) {
	gh := c.rest(ctx, token)
	op := fmt.Sprintf("tree %s/%s", owner, repo)

	r, err := retry.Do(ctx, c.policy, op, isTransient, func() (*github.Repository, error) {
		r, _, err := gh.Repositories.Get(ctx, owner, repo)
		return r, hint(err)
	})
	if err != nil {
		return nil, classify(err, op)
	}
	branch := r.GetDefaultBranch()

	tree, err := retry.Do(ctx, c.policy, op, isTransient, func() (*github.Tree, error) {
		t, _, err := gh.Git.GetTree(ctx, owner, repo, branch, true)
		return t, hint(err)
	})
	if err != nil {
		return nil, classify(err, op)
	}
	if tree.GetTruncated() {
		clog.FromContext(ctx).With("repo", owner+"/"+repo).Warn("Repository tree was truncated by the API")
	}

	paths := make([]string, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.GetType() == "blob" {
			paths = append(paths, e.GetPath())
		}
	}
	return paths, nil
}

// Issue implements repository.IssueFetcher.
func (c *Client) Issue(ctx context.Context, owner, repo, token string, number int) (*repository.Issue, error) {
	gql := c.graphql(ctx, token)
	op := fmt.Sprintf("issue %s/%s#%d", owner, repo, number)

	var query struct {
		Repository struct {
			Issue struct {
				Number int
				Title  string
				Body   string
				Url    string
			} `graphql:"issue(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}
	variables := map[string]any{
		"owner":  githubv4.String(owner),
		"repo":   githubv4.String(repo),
		"number": githubv4.Int(number),
	}

	if _, err := retry.Do(ctx, c.policy, op, isTransient, func() (struct{}, error) {
		return struct{}{}, gql.Query(ctx, &query, variables)
	}); err != nil {
		if strings.Contains(err.Error(), "Could not resolve to") {
			return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		return nil, classify(err, op)
	}

	is := query.Repository.Issue
	if is.Number == 0 {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return &repository.Issue{Number: is.Number, Title: is.Title, Body: is.Body, URL: is.Url}, nil
}

// hinted carries the server's requested wait alongside a rate limit error.
type hinted struct {
	error
	after time.Duration
}

func (h hinted) Unwrap() error             { return h.error }
func (h hinted) RetryAfter() time.Duration { return h.after }

func hint(err error) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return hinted{error: err, after: time.Until(rle.Rate.Reset.Time)}
	}
	var are *github.AbuseRateLimitError
	if errors.As(err, &are) && are.RetryAfter != nil {
		return hinted{error: err, after: *are.RetryAfter}
	}
	return err
}

// isTransient reports whether err is a rate limit or a server-side failure.
func isTransient(err error) bool {
	var rle *github.RateLimitError
	var are *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &are) {
		return true
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode == http.StatusTooManyRequests || er.Response.StatusCode >= 500
	}
	// githubv4 reports non-200 responses as plain errors.
	msg := err.Error()
	return strings.Contains(msg, "502 Bad Gateway") || strings.Contains(msg, "503 Service Unavailable")
}

func classify(err error, op string) error {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
