/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// PutStatus stores the latest status of a channel.
func (c *Cache) PutStatus(ctx context.Context, st models.PlayoutStatus) error {
	return c.set(ctx, KeyStatus+st.Channel, st, c.config.StatusTTL)
}

// GetStatus returns the mirrored status of a channel.
func (c *Cache) GetStatus(ctx context.Context, channel string) (models.PlayoutStatus, bool, error) {
	var st models.PlayoutStatus
	ok, err := c.get(ctx, KeyStatus+channel, &st)
	return st, ok, err
}

// DeleteStatus removes a channel's status.
func (c *Cache) DeleteStatus(ctx context.Context, channel string) error {
	return c.delete(ctx, KeyStatus+channel)
}

// Statuses returns every mirrored status ordered by channel.
func (c *Cache) Statuses(ctx context.Context) ([]models.PlayoutStatus, error) {
	keys, err := c.scanKeys(ctx, KeyStatus+"*")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	out := make([]models.PlayoutStatus, 0, len(keys))
	for _, key := range keys {
		st, ok, err := c.GetStatus(ctx, strings.TrimPrefix(key, KeyStatus))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// StatusMirror copies status events from the bus into the cache.
type StatusMirror struct {
	cache  *Cache
	bus    *events.Bus
	sub    events.Subscriber
	logger zerolog.Logger
}

// NewStatusMirror subscribes to status events.
func NewStatusMirror(c *Cache, bus *events.Bus, logger zerolog.Logger) *StatusMirror {
	return &StatusMirror{
		cache:  c,
		bus:    bus,
		sub:    bus.Subscribe(events.EventStatus),
		logger: logger.With().Str("component", "status_mirror").Logger(),
	}
}

// Run mirrors statuses until ctx is cancelled.
func (m *StatusMirror) Run(ctx context.Context) error {
	defer m.bus.Unsubscribe(events.EventStatus, m.sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-m.sub:
			if !ok {
				return nil
			}
			st, ok := payload["status"].(models.PlayoutStatus)
			if !ok {
				continue
			}
			if !m.cache.IsAvailable() {
				telemetry.StatusMirrorWrites.WithLabelValues("skipped").Inc()
				continue
			}
			if err := m.cache.PutStatus(ctx, st); err != nil {
				telemetry.StatusMirrorWrites.WithLabelValues("error").Inc()
				m.logger.Debug().Err(err).Str("channel", st.Channel).Msg("status mirror write failed")
				continue
			}
			telemetry.StatusMirrorWrites.WithLabelValues("ok").Inc()
		}
	}
}
