/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// EventStatus carries a full PlayoutStatus snapshot.
	EventStatus EventType = "status"
	// EventNowPlaying is published when an item or ingest goes on air.
	EventNowPlaying  EventType = "now_playing"
	EventItemSkipped EventType = "item_skipped"
	EventCorrection  EventType = "correction"
	EventHealth      EventType = "health"
	EventIngest      EventType = "ingest"
	EventPlaylist    EventType = "playlist"
)

// AllTypes lists every event type, for forwarders that mirror the bus.
var AllTypes = []EventType{
	EventStatus,
	EventNowPlaying,
	EventItemSkipped,
	EventCorrection,
	EventHealth,
	EventIngest,
	EventPlaylist,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers without blocking. Slow
// subscribers miss events.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	// Held across the sends so Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
