/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"sync/atomic"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

// StatusPublisher holds the latest status snapshot of one channel. Reads
// never block and never observe a partially updated snapshot.
type StatusPublisher struct {
	channel string
	bus     *events.Bus
	current atomic.Pointer[models.PlayoutStatus]
}

// NewStatusPublisher creates a publisher. bus may be nil.
func NewStatusPublisher(channel string, bus *events.Bus) *StatusPublisher {
	p := &StatusPublisher{channel: channel, bus: bus}
	p.current.Store(&models.PlayoutStatus{
		Channel: channel,
		State:   models.StateIdle,
		Health:  models.HealthStopped,
		Mode:    models.ModePlaylist,
		Index:   -1,
	})
	return p
}

// Publish replaces the snapshot and fans it out on the bus.
func (p *StatusPublisher) Publish(status models.PlayoutStatus) {
	status.Channel = p.channel
	next := status.Copy()
	prev := p.current.Swap(&next)

	p.Emit(events.EventStatus, events.Payload{"status": next.Copy()})
	if prev == nil || prev.Health != next.Health {
		p.Emit(events.EventHealth, events.Payload{
			"health": string(next.Health),
			"state":  string(next.State),
			"reason": next.Reason,
		})
	}
}

// Snapshot returns a copy of the latest status.
func (p *StatusPublisher) Snapshot() models.PlayoutStatus {
	return p.current.Load().Copy()
}

// Health returns the coarse health of the channel.
func (p *StatusPublisher) Health() models.Health {
	return p.current.Load().Health
}

// Emit publishes a channel event on the bus.
func (p *StatusPublisher) Emit(eventType events.EventType, payload events.Payload) {
	if p.bus == nil {
		return
	}
	if payload == nil {
		payload = events.Payload{}
	}
	payload["channel"] = p.channel
	p.bus.Publish(eventType, payload)
}
