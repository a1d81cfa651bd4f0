// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/commitsentry/services/sentry/datatypes"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "commitsentry.events"

// publisher is the slice of *nats.Conn the mirror uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSMirror publishes every event as JSON to "<subject>.<type>".
type NATSMirror struct {
	conn    *nats.Conn
	pub     publisher
	subject string
	logger  *slog.Logger
}

// NewNATSMirror connects to the NATS server at url. The connection retries in
// the background, so an unreachable server at startup is not fatal.
func NewNATSMirror(url, subject string, logger *slog.Logger) (*NATSMirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("commitsentry"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("event mirror disconnected from NATS", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("event mirror reconnected to NATS", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logger.Info("event mirror connected to NATS",
		slog.String("url", url),
		slog.String("subject", subject))

	return &NATSMirror{conn: conn, pub: conn, subject: subject, logger: logger}, nil
}

func newMirrorWithPublisher(pub publisher, subject string) *NATSMirror {
	return &NATSMirror{pub: pub, subject: subject, logger: slog.Default()}
}

// Subject returns the subject an event of type t is published on.
func (m *NATSMirror) Subject(t datatypes.EventType) string {
	return m.subject + "." + string(t)
}

// Mirror publishes ev.
func (m *NATSMirror) Mirror(ev datatypes.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", ev.Id, err)
	}
	if err := m.pub.Publish(m.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", ev.Id, err)
	}
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (m *NATSMirror) IsConnected() bool {
	return m.conn != nil && m.conn.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (m *NATSMirror) Close() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.conn.Close()
	}
	m.logger.Info("event mirror disconnected from NATS")
}
