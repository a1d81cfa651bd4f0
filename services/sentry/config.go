// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sentry

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/commitsentry/pkg/logging"
	"github.com/AleutianAI/commitsentry/pkg/validation"
	"github.com/joho/godotenv"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	defaultPort              = "8080"
	defaultGitHubAPIURL      = "https://api.github.com"
	defaultFetchConcurrency  = 8
	defaultFetchRate         = 10.0
	defaultArtifactDir       = "./artifacts"
	defaultQueueCapacity     = 10000
	defaultKeepaliveInterval = 30 * time.Second
	defaultPollInterval      = 5 * time.Second
	defaultPollMaxWait       = 10 * time.Minute
	defaultKestraNamespace   = "company.team"
	defaultKestraFlowID      = "remediate_commit"
	defaultNATSSubject       = "commitsentry.events"
)

// Config is the service configuration, loaded once at startup.
type Config struct {
	Port    string
	GinMode string

	WebhookSecret    string
	GitHubToken      string
	GitHubAPIURL     string
	Owner            string
	Repo             string
	FetchConcurrency int
	FetchRate        float64

	ArtifactDir string

	QueueCapacity     int
	KeepaliveInterval time.Duration

	// Workflow engine; disabled when KestraURL is empty.
	KestraURL       string
	KestraNamespace string
	KestraFlowID    string
	KestraUsername  string
	KestraPassword  string
	PollInterval    time.Duration
	PollMaxWait     time.Duration

	// Event mirror; disabled when NATSURL is empty.
	NATSURL     string
	NATSSubject string

	// Chat LLM; open questions are refused when LLMAPIKey is empty.
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	OTLPEndpoint string
	OTelStdout   bool

	LogLevel logging.Level
	LogDir   string
	LogJSON  bool
}

// LoadConfig reads an optional .env file, then the environment, applies
// defaults and validates the result.
func LoadConfig() (Config, error) {
	for _, path := range []string{".env", "/app/.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}
	return loadConfigFromEnv(os.Getenv)
}

func loadConfigFromEnv(getenv func(string) string) (Config, error) {
	p := envParser{getenv: getenv}
	cfg := Config{
		Port:              getenv("SENTRY_PORT"),
		GinMode:           getenv("GIN_MODE"),
		WebhookSecret:     getenv("GITHUB_WEBHOOK_SECRET"),
		GitHubToken:       getenv("GITHUB_TOKEN"),
		GitHubAPIURL:      getenv("GITHUB_API_URL"),
		Owner:             getenv("GITHUB_OWNER"),
		Repo:              getenv("GITHUB_REPO"),
		FetchConcurrency:  p.intVar("SENTRY_FETCH_CONCURRENCY"),
		FetchRate:         p.floatVar("SENTRY_FETCH_RATE"),
		ArtifactDir:       getenv("SENTRY_ARTIFACT_DIR"),
		QueueCapacity:     p.intVar("SENTRY_EVENT_QUEUE_CAPACITY"),
		KeepaliveInterval: p.durationVar("SENTRY_KEEPALIVE_INTERVAL"),
		KestraURL:         getenv("KESTRA_URL"),
		KestraNamespace:   getenv("KESTRA_NAMESPACE"),
		KestraFlowID:      getenv("KESTRA_FLOW_ID"),
		KestraUsername:    getenv("KESTRA_USERNAME"),
		KestraPassword:    getenv("KESTRA_PASSWORD"),
		PollInterval:      p.durationVar("SENTRY_POLL_INTERVAL"),
		PollMaxWait:       p.durationVar("SENTRY_POLL_MAX_WAIT"),
		NATSURL:           getenv("NATS_URL"),
		NATSSubject:       getenv("NATS_SUBJECT"),
		LLMBaseURL:        getenv("LLM_BASE_URL"),
		LLMAPIKey:         getenv("LLM_API_KEY"),
		LLMModel:          getenv("LLM_MODEL"),
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelStdout:        p.boolVar("OTEL_STDOUT"),
		LogDir:            getenv("LOG_DIR"),
		LogJSON:           p.boolVar("LOG_JSON"),
	}
	level, err := logging.ParseLevel(getenv("LOG_LEVEL"))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.GitHubAPIURL == "" {
		cfg.GitHubAPIURL = defaultGitHubAPIURL
	}
	if cfg.FetchConcurrency == 0 {
		cfg.FetchConcurrency = defaultFetchConcurrency
	}
	if cfg.FetchRate == 0 {
		cfg.FetchRate = defaultFetchRate
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = defaultArtifactDir
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	if cfg.KestraNamespace == "" {
		cfg.KestraNamespace = defaultKestraNamespace
	}
	if cfg.KestraFlowID == "" {
		cfg.KestraFlowID = defaultKestraFlowID
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollMaxWait == 0 {
		cfg.PollMaxWait = defaultPollMaxWait
	}
	if cfg.NATSSubject == "" {
		cfg.NATSSubject = defaultNATSSubject
	}
}

// Validate reports configuration the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.WebhookSecret == "" {
		errs = append(errs, errors.New("GITHUB_WEBHOOK_SECRET is required"))
	}
	if c.Owner != "" {
		if err := validation.ValidateOwner(c.Owner); err != nil {
			errs = append(errs, fmt.Errorf("GITHUB_OWNER: %w", err))
		}
	}
	if c.Repo != "" {
		if err := validation.ValidateRepo(c.Repo); err != nil {
			errs = append(errs, fmt.Errorf("GITHUB_REPO: %w", err))
		}
	}
	if c.FetchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("SENTRY_FETCH_CONCURRENCY must be positive, got %d", c.FetchConcurrency))
	}
	if c.FetchRate < 0 {
		errs = append(errs, fmt.Errorf("SENTRY_FETCH_RATE must be positive, got %g", c.FetchRate))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("SENTRY_EVENT_QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity))
	}
	for name, d := range map[string]time.Duration{
		"SENTRY_KEEPALIVE_INTERVAL": c.KeepaliveInterval,
		"SENTRY_POLL_INTERVAL":      c.PollInterval,
		"SENTRY_POLL_MAX_WAIT":      c.PollMaxWait,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}

// WorkflowsEnabled reports whether a workflow engine is configured.
func (c Config) WorkflowsEnabled() bool {
	return c.KestraURL != ""
}

// envParser collects parse errors so every malformed variable is reported
// at once.
type envParser struct {
	getenv func(string) string
	errs   []error
}

func (p *envParser) intVar(key string) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return n
}

func (p *envParser) floatVar(key string) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return f
}

func (p *envParser) durationVar(key string) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return d
}

func (p *envParser) boolVar(key string) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
	}
	return b
}
