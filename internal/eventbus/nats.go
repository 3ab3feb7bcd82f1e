/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	// SubjectRoot prefixes every subject: <root>.<channel>.<event>.
	SubjectRoot string
	Name        string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectRoot:   "playout",
		Name:          "playoutd",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSSink publishes events to NATS core subjects.
type NATSSink struct {
	conn   publisher
	root   string
	logger zerolog.Logger
}

// NewNATSSink connects to NATS. The connection reconnects on its own;
// events published while disconnected are buffered by the client.
func NewNATSSink(cfg NATSConfig, logger zerolog.Logger) (*NATSSink, error) {
	logger = logger.With().Str("component", "nats_sink").Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	logger.Info().Str("url", cfg.URL).Str("subject_root", cfg.SubjectRoot).Msg("NATS event sink connected")
	return newNATSSink(conn, cfg.SubjectRoot, logger), nil
}

func newNATSSink(conn publisher, root string, logger zerolog.Logger) *NATSSink {
	if root == "" {
		root = "playout"
	}
	return &NATSSink{conn: conn, root: root, logger: logger}
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject for a channel event.
func (s *NATSSink) Subject(channel string, eventType events.EventType) string {
	return strings.Join([]string{s.root, subjectToken(channel), string(eventType)}, ".")
}

// Send implements Sink.
func (s *NATSSink) Send(ctx context.Context, channel string, eventType events.EventType, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := s.Subject(channel, eventType)
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	err := s.conn.FlushTimeout(sendTimeout)
	s.conn.Close()
	if err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// subjectToken replaces characters that are not allowed in a subject token.
func subjectToken(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, v)
}
