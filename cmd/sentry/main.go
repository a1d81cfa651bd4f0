// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sentry starts the commit monitoring HTTP service.
//
// It reads configuration from a .env file and the environment, serves the
// webhook, event stream and chat endpoints, and shuts down on SIGINT or
// SIGTERM.
//
// # Environment Variables
//
//   - GITHUB_WEBHOOK_SECRET: webhook signing secret (required)
//   - SENTRY_PORT: HTTP server port (default: 8080)
//   - GITHUB_TOKEN, GITHUB_OWNER, GITHUB_REPO: source-control access
//   - KESTRA_URL: workflow engine (optional)
//   - NATS_URL: event mirror (optional)
//   - LLM_API_KEY, LLM_BASE_URL, LLM_MODEL: chat model (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT / OTEL_STDOUT: trace export (optional)
//   - LOG_LEVEL, LOG_DIR, LOG_JSON: logging
//
// # Usage
//
//	go build -o sentry ./cmd/sentry
//	GITHUB_WEBHOOK_SECRET=... ./sentry
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/commitsentry/pkg/logging"
	"github.com/AleutianAI/commitsentry/services/sentry"
	"github.com/AleutianAI/commitsentry/services/sentry/observability"
)

func main() {
	cfg, err := sentry.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		LogDir:  cfg.LogDir,
		Service: sentry.ServiceName,
		JSON:    cfg.LogJSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	slog.Info("Starting commitsentry",
		slog.String("port", cfg.Port),
		slog.String("owner", cfg.Owner),
		slog.Bool("workflows", cfg.WorkflowsEnabled()),
		slog.Bool("nats_mirror", cfg.NATSURL != ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := sentry.New(ctx, cfg, observability.InitMetrics(), logger.Slog())
	if err != nil {
		slog.Error("Failed to create service", slog.String("error", err.Error()))
		logger.Close()
		os.Exit(1)
	}

	if err := svc.Run(ctx); err != nil {
		slog.Error("Service error", slog.String("error", err.Error()))
		logger.Close()
		os.Exit(1)
	}
}
