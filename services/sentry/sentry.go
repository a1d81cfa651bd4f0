// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sentry wires the commit monitoring service: webhook ingestion,
// scoring, the event stream, remediation workflows and chat.
//
// # Description
//
// New builds every collaborator from a Config. Optional collaborators are
// left out when they are not configured:
//
//   - no KESTRA_URL: flagged commits are scored and alerted, no workflow runs
//   - no NATS_URL: events are not mirrored
//   - no LLM key: chat answers keyword questions only
//   - missing model artifacts: the dependent scorer is disabled
//
// Run serves HTTP until its context is cancelled and then shuts down in
// order: open streams, the HTTP server, workflow polls, the event mirror and
// the tracer.
package sentry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/commitsentry/services/chat"
	"github.com/AleutianAI/commitsentry/services/classifier"
	"github.com/AleutianAI/commitsentry/services/eventbus"
	"github.com/AleutianAI/commitsentry/services/features"
	"github.com/AleutianAI/commitsentry/services/ingest"
	"github.com/AleutianAI/commitsentry/services/llm"
	"github.com/AleutianAI/commitsentry/services/pipeline"
	"github.com/AleutianAI/commitsentry/services/policy_engine"
	"github.com/AleutianAI/commitsentry/services/scm"
	"github.com/AleutianAI/commitsentry/services/sentry/observability"
	"github.com/AleutianAI/commitsentry/services/sentry/routes"
	"github.com/AleutianAI/commitsentry/services/workflow"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	shutdownTimeout = 15 * time.Second

	// chatTemperature matches the sampling the chat prompts were tuned with.
	chatTemperature = 1.0
)

// Service is the running commit monitoring service.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	bus         *eventbus.Bus
	coordinator *workflow.Coordinator
	pipeline    *pipeline.Pipeline
	router      *gin.Engine

	// streamsDone is closed on shutdown to end open event streams.
	streamsDone chan struct{}
	closeOnce   sync.Once

	shutdownTracer func(context.Context)
}

// New builds the service. metrics may be nil.
//
// # Errors
//
// Only configuration the service cannot run without fails: an invalid
// config, a broken embedded rule table or a tracer that cannot be set up.
func New(ctx context.Context, cfg Config, metrics *observability.Metrics, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	shutdownTracer, err := initTracer(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	policy, err := policy_engine.NewPolicyEngine()
	if err != nil {
		shutdownTracer(ctx)
		return nil, fmt.Errorf("failed to load rule table: %w", err)
	}

	scmClient := scm.NewClient(scm.Config{
		BaseURL:           cfg.GitHubAPIURL,
		Token:             cfg.GitHubToken,
		RequestsPerSecond: cfg.FetchRate,
		Burst:             cfg.FetchConcurrency,
	})
	if cfg.GitHubToken == "" {
		logger.Warn("GITHUB_TOKEN not set, upstream calls are unauthenticated and heavily rate limited")
	}

	artifacts := classifier.LoadArtifacts(cfg.ArtifactDir, logger)
	ensemble := classifier.NewEnsemble(
		classifier.NewTimeAnomalyScorer(artifacts.TimeModel, logger),
		classifier.NewVulnerabilityScorer(
			classifier.NewRuleChain(policy),
			classifier.NewOnlineProfile(artifacts.OnlineModel, artifacts.Text, logger)),
	)

	s := &Service{
		cfg:            cfg,
		logger:         logger,
		metrics:        metrics,
		streamsDone:    make(chan struct{}),
		shutdownTracer: shutdownTracer,
	}

	busCfg := eventbus.Config{Capacity: cfg.QueueCapacity, Metrics: metrics, Logger: logger}
	if cfg.NATSURL != "" {
		mirror, err := eventbus.NewNATSMirror(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Warn("event mirror disabled", slog.String("error", err.Error()))
		} else {
			busCfg.Mirror = mirror
		}
	}
	s.bus = eventbus.New(busCfg)

	var starter pipeline.WorkflowStarter
	if cfg.WorkflowsEnabled() {
		s.coordinator = workflow.NewCoordinator(workflow.Config{
			Engine: workflow.NewKestraClient(workflow.KestraConfig{
				BaseURL:   cfg.KestraURL,
				Namespace: cfg.KestraNamespace,
				FlowID:    cfg.KestraFlowID,
				Username:  cfg.KestraUsername,
				Password:  cfg.KestraPassword,
			}),
			Publisher:    s.bus,
			PollInterval: cfg.PollInterval,
			MaxWait:      cfg.PollMaxWait,
			Metrics:      metrics,
			Logger:       logger,
		})
		starter = s.coordinator
	} else {
		logger.Info("KESTRA_URL not set, remediation workflows disabled")
	}

	s.pipeline = pipeline.New(pipeline.Config{
		Ingester: ingest.NewGateway(ingest.Config{
			Secret:      []byte(cfg.WebhookSecret),
			Fetcher:     scmClient,
			Analyzer:    features.NewComplexityAnalyzer(logger),
			Concurrency: cfg.FetchConcurrency,
			Metrics:     metrics,
			Logger:      logger,
		}),
		Extractor: features.NewExtractor(policy, artifacts.Text, cfg.FetchConcurrency, logger),
		Ensemble:  ensemble,
		Publisher: s.bus,
		Workflows: starter,
		Metrics:   metrics,
		Logger:    logger,
	})

	var llmClient llm.Client
	if openAI, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: chatTemperature,
	}); err != nil {
		logger.Info("LLM not configured, chat answers keyword questions only",
			slog.String("reason", err.Error()))
	} else {
		llmClient = openAI
	}
	responder := chat.NewResponder(chat.Config{
		Commits: scmClient,
		LLM:     llmClient,
		Owner:   cfg.Owner,
		Repo:    cfg.Repo,
		Logger:  logger,
	})

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(ServiceName))
	routes.SetupRoutes(s.router, routes.Dependencies{
		Pusher:           s.pipeline,
		Events:           s.bus,
		Chat:             responder,
		Keepalive:        cfg.KeepaliveInterval,
		StreamsDone:      s.streamsDone,
		WorkflowsEnabled: s.coordinator != nil,
		LLMEnabled:       llmClient != nil,
		Metrics:          metrics,
		Logger:           logger,
	})

	return s, nil
}

// Handler returns the HTTP handler of the service.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Run serves HTTP on the configured port until ctx is cancelled, then shuts
// everything down. It returns the serve error, if serving failed.
func (s *Service) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		s.close()
		return fmt.Errorf("failed to listen on port %s: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Service) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{Handler: s.router}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("commitsentry listening", slog.String("addr", listener.Addr().String()))
		serveErr <- server.Serve(listener)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	// Streams never finish on their own, so they are ended first. Webhook
	// requests in flight are drained by Shutdown.
	s.endStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}
	if s.coordinator != nil {
		if err := s.coordinator.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("workflow polls did not stop in time", slog.String("error", err.Error()))
		}
	}
	s.close()
	return runErr
}

func (s *Service) endStreams() {
	s.closeOnce.Do(func() { close(s.streamsDone) })
}

func (s *Service) close() {
	s.endStreams()
	s.bus.Close()
	s.shutdownTracer(context.Background())
}
