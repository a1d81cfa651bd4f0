// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eventbus decouples the scoring and workflow paths from the stream
// consumers with a bounded in-memory FIFO.
//
// # Description
//
// Producers never block: when the queue is full the oldest queued event is
// discarded to make room, the drop is counted and logged. A consumer pulls
// with a bounded wait and receives a synthetic keepalive event when nothing
// arrived in time.
//
// Delivery is single-consumer. Events are optionally mirrored to NATS so
// independent external subscribers can observe the same stream.
//
// Nothing is persisted; the queue is lost on restart.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/AleutianAI/commitsentry/services/sentry/observability"
)

// DefaultCapacity bounds the queue when Config.Capacity is unset.
const DefaultCapacity = 10000

// DefaultKeepaliveInterval is the consumer wait before a keepalive.
const DefaultKeepaliveInterval = 30 * time.Second

// Mirror receives a copy of every enqueued event.
type Mirror interface {
	Mirror(ev datatypes.Event) error
	Close()
}

// Config configures a Bus.
type Config struct {
	Capacity int
	Mirror   Mirror
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Bus is a bounded multi-producer FIFO.
//
// # Thread Safety
//
// Publish and Next may be called concurrently from any goroutine.
type Bus struct {
	queue chan datatypes.Event

	// produceMu serializes producers so the drop-oldest step and the
	// following enqueue are not interleaved with another producer.
	produceMu sync.Mutex

	dropped atomic.Uint64
	mirror  Mirror
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a bus.
func New(cfg Config) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bus{
		queue:   make(chan datatypes.Event, cfg.Capacity),
		mirror:  cfg.Mirror,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Publish enqueues ev without blocking. When the queue is full the oldest
// event is dropped. Events from one producer keep their relative order.
func (b *Bus) Publish(ev datatypes.Event) {
	b.produceMu.Lock()
	for {
		select {
		case b.queue <- ev:
			b.produceMu.Unlock()
			b.metrics.RecordPublished(string(ev.Type))
			b.metrics.SetQueueDepth(len(b.queue))
			b.mirrorEvent(ev)
			return
		default:
		}

		select {
		case old := <-b.queue:
			n := b.dropped.Add(1)
			b.metrics.RecordDropped(string(old.Type))
			b.logger.Warn("event queue full, dropped oldest event",
				slog.String("dropped_type", string(old.Type)),
				slog.String("dropped_id", old.Id),
				slog.Uint64("dropped_total", n),
				slog.Int("capacity", cap(b.queue)))
		default:
			// A consumer drained a slot in between; retry the enqueue.
		}
	}
}

func (b *Bus) mirrorEvent(ev datatypes.Event) {
	if b.mirror == nil {
		return
	}
	if err := b.mirror.Mirror(ev); err != nil {
		b.logger.Warn("failed to mirror event",
			slog.String("type", string(ev.Type)),
			slog.String("id", ev.Id),
			slog.String("error", err.Error()))
	}
}

// Next waits up to timeout for an event. If none arrives it returns a
// keepalive event. It returns ctx.Err() when ctx is done first.
func (b *Bus) Next(ctx context.Context, timeout time.Duration) (datatypes.Event, error) {
	select {
	case ev := <-b.queue:
		b.metrics.SetQueueDepth(len(b.queue))
		return ev, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-b.queue:
		b.metrics.SetQueueDepth(len(b.queue))
		return ev, nil
	case <-timer.C:
		return datatypes.NewKeepaliveEvent(), nil
	case <-ctx.Done():
		return datatypes.Event{}, ctx.Err()
	}
}

// Len returns the number of queued events.
func (b *Bus) Len() int {
	return len(b.queue)
}

// Capacity returns the queue bound.
func (b *Bus) Capacity() int {
	return cap(b.queue)
}

// Dropped returns how many events the overflow policy has discarded.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close releases the mirror. Queued events are discarded with the process.
func (b *Bus) Close() {
	if b.mirror != nil {
		b.mirror.Close()
	}
}
