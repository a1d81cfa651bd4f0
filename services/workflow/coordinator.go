// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow delegates flagged commits to an external remediation
// workflow and tracks each execution to a terminal state in the background.
package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/AleutianAI/commitsentry/services/sentry/observability"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("commitsentry.workflow")

const (
	// DefaultPollInterval is the spacing between status polls.
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxWait bounds one execution from trigger to terminal state.
	DefaultMaxWait = 10 * time.Minute

	// DefaultMaxPollFailures is how many consecutive failed polls turn an
	// execution unresolved.
	DefaultMaxPollFailures = 5

	// DefaultDedupeTTL is how long a finished execution keeps blocking a
	// second Start for the same record.
	DefaultDedupeTTL = time.Hour
)

// Engine is the workflow collaborator.
type Engine interface {
	Trigger(ctx context.Context, in Input) (string, error)
	Status(ctx context.Context, executionID string) (datatypes.WorkflowStatus, error)
}

// Publisher receives workflow result events.
type Publisher interface {
	Publish(ev datatypes.Event)
}

// Config configures a Coordinator.
type Config struct {
	Engine          Engine
	Publisher       Publisher
	PollInterval    time.Duration
	MaxWait         time.Duration
	MaxPollFailures int
	DedupeTTL       time.Duration
	Metrics         *observability.Metrics
	Logger          *slog.Logger
}

// Execution tracks one triggered workflow.
type Execution struct {
	mu       sync.Mutex
	id       string
	status   datatypes.WorkflowStatus
	info     datatypes.CommitInfo
	finished time.Time
}

// ID returns the engine execution id, empty until triggered.
func (e *Execution) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// Status returns the last observed status.
func (e *Execution) Status() datatypes.WorkflowStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// advance moves the execution to status. RUNNING may repeat; once a
// terminal status is recorded every later call is rejected. It reports
// whether the status was applied.
func (e *Execution) advance(status datatypes.WorkflowStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return false
	}
	e.status = status
	if status.Terminal() {
		e.finished = time.Now()
	}
	return true
}

// expired reports whether the execution finished more than ttl ago.
func (e *Execution) expired(now time.Time, ttl time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.finished.IsZero() && now.Sub(e.finished) > ttl
}

func (e *Execution) setID(id string) {
	e.mu.Lock()
	e.id = id
	e.mu.Unlock()
}

// Coordinator starts one workflow execution per flagged record and polls
// each to completion on its own goroutine.
//
// # Description
//
// Start never blocks on the engine. Every execution ends in exactly one of
// two ways: a WorkflowResult event with SUCCESS, FAILED or UNRESOLVED is
// published, or the coordinator is shut down and nothing is published.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Coordinator struct {
	engine          Engine
	publisher       Publisher
	interval        time.Duration
	maxWait         time.Duration
	maxPollFailures int
	dedupeTTL       time.Duration
	metrics         *observability.Metrics
	logger          *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	executions map[string]*Execution
}

// NewCoordinator creates a coordinator. Polls run until Shutdown.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.MaxPollFailures <= 0 {
		cfg.MaxPollFailures = DefaultMaxPollFailures
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = DefaultDedupeTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		engine:          cfg.Engine,
		publisher:       cfg.Publisher,
		interval:        cfg.PollInterval,
		maxWait:         cfg.MaxWait,
		maxPollFailures: cfg.MaxPollFailures,
		dedupeTTL:       cfg.DedupeTTL,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		ctx:             ctx,
		cancel:          cancel,
		executions:      make(map[string]*Execution),
	}
}

// Reasons lists why a classification was flagged.
func Reasons(result datatypes.ClassificationResult) []string {
	var reasons []string
	if result.IsUnusual {
		reasons = append(reasons, "unusual_time")
	}
	if result.IsVulnerable {
		reasons = append(reasons, "vulnerable")
	}
	for _, r := range result.MatchedRules {
		reasons = append(reasons, string(r))
	}
	return reasons
}

// Start launches the workflow for rec in the background and returns
// immediately.
//
// # Errors
//
//   - ErrDuplicate: rec has a running execution, or one that finished
//     within the dedupe TTL.
//   - ErrShuttingDown: Shutdown has been called.
func (c *Coordinator) Start(rec datatypes.CommitRecord, result datatypes.ClassificationResult) (*Execution, error) {
	key := rec.Key()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrShuttingDown
	}
	c.evictLocked(time.Now())
	if _, ok := c.executions[key]; ok {
		c.mu.Unlock()
		return nil, ErrDuplicate
	}
	exec := &Execution{status: datatypes.WorkflowRunning, info: rec.Info()}
	c.executions[key] = exec
	c.wg.Add(1)
	c.mu.Unlock()

	in := Input{Repo: rec.Repo, Commit: rec.CommitID, File: rec.FilePath, Reasons: Reasons(result)}
	c.metrics.WorkflowStarted()
	go c.run(exec, in)
	return exec, nil
}

// Execution returns the tracked execution for a record key.
func (c *Coordinator) Execution(key string) (*Execution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec, ok := c.executions[key]
	return exec, ok
}

// evictLocked drops executions that finished more than dedupeTTL ago.
// Callers hold c.mu.
func (c *Coordinator) evictLocked(now time.Time) {
	for key, exec := range c.executions {
		if exec.expired(now, c.dedupeTTL) {
			delete(c.executions, key)
		}
	}
}

// Shutdown cancels every in-flight poll and waits for the goroutines to
// exit or ctx to expire. Cancelled executions publish nothing.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives one execution. The whole run, engine calls included, is bound
// by maxWait; cancellation of c.ctx means shutdown and publishes nothing.
func (c *Coordinator) run(exec *Execution, in Input) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(c.ctx, c.maxWait)
	defer cancel()
	started := time.Now()
	logger := c.logger.With(
		slog.String("commit_id", in.Commit),
		slog.String("file_path", in.File),
		slog.String("stage", "workflow"))

	// stopped reports whether the run must end without a poll result:
	// shutdown abandons it, an expired deadline resolves it as UNRESOLVED.
	stopped := func() bool {
		switch {
		case c.ctx.Err() != nil:
			logger.Info("workflow poll cancelled")
			c.metrics.WorkflowAbandoned()
			return true
		case ctx.Err() != nil:
			logger.Warn("workflow did not finish in time", slog.Duration("max_wait", c.maxWait))
			c.finish(exec, datatypes.WorkflowUnresolved, started, logger)
			return true
		}
		return false
	}

	id, err := c.engine.Trigger(ctx, in)
	if err != nil {
		if stopped() {
			return
		}
		logger.Warn("workflow trigger failed", slog.String("error", err.Error()))
		c.finish(exec, datatypes.WorkflowUnresolved, started, logger)
		return
	}
	exec.setID(id)
	logger = logger.With(slog.String("execution_id", id))
	logger.Info("workflow triggered", slog.Any("reasons", in.Reasons))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	failures := 0
	for {
		status, err := c.engine.Status(ctx, id)
		switch {
		case err != nil && stopped():
			return
		case err != nil:
			failures++
			logger.Warn("workflow status poll failed",
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()))
			if failures >= c.maxPollFailures {
				c.finish(exec, datatypes.WorkflowUnresolved, started, logger)
				return
			}
		case status.Terminal():
			c.finish(exec, status, started, logger)
			return
		default:
			failures = 0
			logger.Debug("workflow still running", slog.String("status", string(status)))
		}

		select {
		case <-ctx.Done():
			stopped()
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) finish(exec *Execution, status datatypes.WorkflowStatus, started time.Time, logger *slog.Logger) {
	if !exec.advance(status) {
		return
	}
	c.metrics.WorkflowFinished(string(status), time.Since(started).Seconds())
	logger.Info("workflow finished", slog.String("status", string(status)))
	c.publisher.Publish(datatypes.NewWorkflowResultEvent(exec.ID(), status, exec.info))
}
