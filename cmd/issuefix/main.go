/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main serves the issue fixing pipeline over HTTP. Each POST to
// /v1/fix selects files for a GitHub issue, asks a model for complete file
// replacements, type-checks them in a throwaway workspace and, when asked
// and the check passes, proposes them as a pull request.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/storage"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/openai/openai-go"
	oaioption "github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/genai"

	"chainguard.dev/issuefix/genaimetrics"
	"chainguard.dev/issuefix/generator"
	"chainguard.dev/issuefix/generator/claudegen"
	"chainguard.dev/issuefix/generator/geminigen"
	"chainguard.dev/issuefix/generator/openaigen"
	"chainguard.dev/issuefix/pipeline"
	"chainguard.dev/issuefix/repository"
	"chainguard.dev/issuefix/repository/gitrepo"
	"chainguard.dev/issuefix/repository/githubrepo"
	"chainguard.dev/issuefix/retry"
	"chainguard.dev/issuefix/sandbox"
	"chainguard.dev/issuefix/sandbox/gcsarchive"
	"chainguard.dev/issuefix/selector"
	"chainguard.dev/issuefix/submission"
)

type config struct {
	Port        int `env:"PORT,default=8080"`
	MetricsPort int `env:"METRICS_PORT,default=2112"`

	// Backend is one of claude, gemini or openai.
	Backend      string `env:"BACKEND,default=claude"`
	Model        string `env:"MODEL"`
	GCPProjectID string `env:"GCP_PROJECT_ID"`
	GCPRegion    string `env:"GCP_REGION"`
	OpenAIKey    string `env:"OPENAI_API_KEY"`

	// Source is where selected files are read from: api or clone.
	Source string `env:"SOURCE,default=api"`

	GitHubToken          string `env:"GITHUB_TOKEN"`
	GitHubAppID          int64  `env:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `env:"GITHUB_INSTALLATION_ID"`
	GitHubAppKey         string `env:"GITHUB_APP_PRIVATE_KEY"`
	GitHubBaseURL        string `env:"GITHUB_BASE_URL"`

	// Identity names the bot that commits and opens pull requests.
	// Submission is disabled when it is empty.
	Identity string   `env:"IDENTITY"`
	Labels   []string `env:"PR_LABELS"`

	ArchiveBucket string `env:"ARCHIVE_BUCKET"`
	ArchivePrefix string `env:"ARCHIVE_PREFIX,default=quarantine"`

	JanitorInterval time.Duration `env:"JANITOR_INTERVAL,default=10m"`

	Pipeline pipeline.Config `env:",prefix=PIPELINE_"`
	Selector selector.Config `env:",prefix=SELECTOR_"`
	Sandbox  sandbox.Config  `env:",prefix=SANDBOX_"`
	Retry    retry.Policy    `env:",prefix=GITHUB_RETRY_"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	token, err := newTokenFunc(cfg)
	if err != nil {
		clog.FatalContextf(ctx, "configuring GitHub auth: %v", err)
	}

	svc, err := newService(ctx, &cfg)
	if err != nil {
		clog.FatalContextf(ctx, "creating %s generation service: %v", cfg.Backend, err)
	}

	var ghOpts []githubrepo.Option
	if cfg.GitHubBaseURL != "" {
		ghOpts = append(ghOpts, githubrepo.WithBaseURL(cfg.GitHubBaseURL))
	}
	ghOpts = append(ghOpts, githubrepo.WithRetryPolicy(cfg.Retry))
	gh, err := githubrepo.New(ghOpts...)
	if err != nil {
		clog.FatalContextf(ctx, "creating GitHub client: %v", err)
	}

	var source repository.Accessor = gh
	switch cfg.Source {
	case "api":
	case "clone":
		source = gitrepo.New()
	default:
		clog.FatalContextf(ctx, "unknown SOURCE %q, expected api or clone", cfg.Source)
	}

	var sbOpts []sandbox.Option
	if cfg.ArchiveBucket != "" {
		client, err := storage.NewClient(ctx, option.WithUserAgent("issuefix"))
		if err != nil {
			clog.FatalContextf(ctx, "creating storage client: %v", err)
		}
		defer client.Close()
		sbOpts = append(sbOpts, sandbox.WithArchiver(gcsarchive.New(client, cfg.ArchiveBucket, cfg.ArchivePrefix)))
		clog.InfoContextf(ctx, "Archiving quarantined workspaces to gs://%s/%s", cfg.ArchiveBucket, cfg.ArchivePrefix)
	}
	sb, err := sandbox.New(cfg.Sandbox, sbOpts...)
	if err != nil {
		clog.FatalContextf(ctx, "creating sandbox: %v", err)
	}

	opts := []pipeline.Option{pipeline.WithIssues(gh)}
	if cfg.Identity != "" {
		var subOpts []submission.Option
		if cfg.GitHubBaseURL != "" {
			subOpts = append(subOpts, submission.WithBaseURL(cfg.GitHubBaseURL))
		}
		if len(cfg.Labels) > 0 {
			subOpts = append(subOpts, submission.WithLabels(cfg.Labels...))
		}
		mgr, err := submission.New(cfg.Identity, subOpts...)
		if err != nil {
			clog.FatalContextf(ctx, "creating submission manager: %v", err)
		}
		opts = append(opts, pipeline.WithSubmitter(mgr))
	}

	p := pipeline.New(cfg.Pipeline, source,
		selector.New(source, source, cfg.Selector),
		generator.New(svc), sb, opts...)

	srv := &server{pipeline: p, token: token}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		sb.RunJanitor(ctx, cfg.JanitorInterval)
		return nil
	})
	eg.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		return serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	})
	eg.Go(func() error {
		clog.InfoContextf(ctx, "Serving %s fixes on port %d", cfg.Backend, cfg.Port)
		return serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: srv.routes(), ReadHeaderTimeout: 10 * time.Second})
	})
	if err := eg.Wait(); err != nil {
		clog.ErrorContextf(ctx, "server failed: %v", err)
	}

	shutdown, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := sb.Close(shutdown); err != nil {
		clog.WarnContextf(shutdown, "closing sandbox: %v", err)
	}
}

// serve runs srv until ctx is done.
func serve(ctx context.Context, srv *http.Server) error {
	srv.BaseContext = func(net.Listener) context.Context { return ctx }
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newService builds the configured generation backend. Vertex backends
// detect the project and region from the metadata server when they are not
// configured.
func newService(ctx context.Context, cfg *config) (generator.Service, error) {
	metrics := genaimetrics.New(ctx)

	switch cfg.Backend {
	case "claude":
		if err := detectProject(ctx, cfg); err != nil {
			return nil, err
		}
		client := anthropic.NewClient(vertex.WithGoogleAuth(ctx, cfg.GCPRegion, cfg.GCPProjectID))
		opts := []claudegen.Option{claudegen.WithMetrics(metrics)}
		if cfg.Model != "" {
			opts = append(opts, claudegen.WithModel(cfg.Model))
		}
		return claudegen.New(client, opts...)

	case "gemini":
		if err := detectProject(ctx, cfg); err != nil {
			return nil, err
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			Project:  cfg.GCPProjectID,
			Location: cfg.GCPRegion,
			Backend:  genai.BackendVertexAI,
		})
		if err != nil {
			return nil, fmt.Errorf("creating Google AI client: %w", err)
		}
		opts := []geminigen.Option{geminigen.WithMetrics(metrics)}
		if cfg.Model != "" {
			opts = append(opts, geminigen.WithModel(cfg.Model))
		}
		return geminigen.New(client.Models, opts...)

	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai backend")
		}
		client := openai.NewClient(oaioption.WithAPIKey(cfg.OpenAIKey))
		opts := []openaigen.Option{openaigen.WithMetrics(metrics)}
		if cfg.Model != "" {
			opts = append(opts, openaigen.WithModel(cfg.Model))
		}
		return openaigen.New(client, opts...)

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func detectProject(ctx context.Context, cfg *config) error {
	log := clog.FromContext(ctx)
	if cfg.GCPProjectID == "" {
		id, err := metadata.ProjectIDWithContext(ctx)
		if err != nil {
			return fmt.Errorf("detecting project ID: %w", err)
		}
		cfg.GCPProjectID = id
		log.With("project_id", id).Info("Detected Google Cloud project")
	}
	if cfg.GCPRegion == "" {
		zone, err := metadata.ZoneWithContext(ctx)
		if err != nil {
			return fmt.Errorf("getting zone from metadata: %w", err)
		}
		region, err := regionFromZone(zone)
		if err != nil {
			return err
		}
		cfg.GCPRegion = region
		log.With("region", cfg.GCPRegion).Info("Detected Google Cloud region")
	}
	return nil
}

// regionFromZone strips the zone suffix: "us-central1-a" is in "us-central1".
func regionFromZone(zone string) (string, error) {
	i := strings.LastIndex(zone, "-")
	if i <= 0 {
		return "", fmt.Errorf("unexpected zone %q from metadata server", zone)
	}
	return zone[:i], nil
}

// newTokenFunc prefers GitHub App installation tokens over a static token.
func newTokenFunc(cfg config) (tokenFunc, error) {
	if cfg.GitHubAppID != 0 {
		itr, err := ghinstallation.New(http.DefaultTransport, cfg.GitHubAppID, cfg.GitHubInstallationID, []byte(cfg.GitHubAppKey))
		if err != nil {
			return nil, fmt.Errorf("creating installation transport: %w", err)
		}
		if cfg.GitHubBaseURL != "" {
			itr.BaseURL = strings.TrimSuffix(cfg.GitHubBaseURL, "/")
		}
		return func(ctx context.Context, _ string) (string, error) {
			return itr.Token(ctx)
		}, nil
	}
	return func(context.Context, string) (string, error) {
		return cfg.GitHubToken, nil
	}, nil
}
