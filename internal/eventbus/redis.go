/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
)

// ErrCircuitOpen is returned while the redis sink is backing off.
var ErrCircuitOpen = errors.New("redis sink circuit open")

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix starts every pub/sub channel: <prefix>:<channel>:<event>.
	Prefix string

	PoolSize     int
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Prefix:        "playout",
		PoolSize:      4,
		DialTimeout:   5 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisSink publishes events on Redis pub/sub channels. After
// MaxFailures consecutive errors it stops trying for CheckInterval.
type RedisSink struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	failCount int
	openUntil time.Time
}

// NewRedisSink creates a sink. The connection is checked once; an
// unreachable server is reported but not fatal.
func NewRedisSink(cfg RedisConfig, logger zerolog.Logger) *RedisSink {
	if cfg.Prefix == "" {
		cfg.Prefix = "playout"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	s := &RedisSink{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "redis_sink").Logger(),
		now:    time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unreachable, events will be retried")
	} else {
		s.logger.Info().Str("addr", cfg.Addr).Msg("Redis event sink initialized")
	}
	return s
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Channel returns the pub/sub channel for a channel event.
func (s *RedisSink) Channel(channel string, eventType events.EventType) string {
	return fmt.Sprintf("%s:%s:%s", s.cfg.Prefix, channel, eventType)
}

// Send implements Sink.
func (s *RedisSink) Send(ctx context.Context, channel string, eventType events.EventType, data []byte) error {
	if !s.allow() {
		return ErrCircuitOpen
	}
	if err := s.client.Publish(ctx, s.Channel(channel, eventType), data).Err(); err != nil {
		s.handleFailure()
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	s.mu.Lock()
	s.failCount = 0
	s.mu.Unlock()
	return nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.now().Before(s.openUntil)
}

// handleFailure implements circuit breaker logic.
func (s *RedisSink) handleFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failCount++
	if s.failCount >= s.cfg.MaxFailures {
		s.openUntil = s.now().Add(s.cfg.CheckInterval)
		s.failCount = 0
		s.logger.Warn().
			Dur("retry_in", s.cfg.CheckInterval).
			Msg("Redis failure threshold reached, pausing event forwarding")
	}
}
