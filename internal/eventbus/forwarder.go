/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors in-process playout events to external brokers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/logging"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

const sendTimeout = 2 * time.Second

// Sink delivers encoded events to a broker.
type Sink interface {
	Name() string
	Send(ctx context.Context, channel string, eventType events.EventType, data []byte) error
	Close() error
}

// message is the wire envelope of a forwarded event.
type message struct {
	EventType events.EventType `json:"event_type"`
	Channel   string           `json:"channel"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, channel string, payload events.Payload, nodeID string, now time.Time) ([]byte, error) {
	msg := message{
		EventType: eventType,
		Channel:   channel,
		Payload:   payload,
		Timestamp: now.UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

// Forwarder subscribes to the bus and sends every event to a sink.
type Forwarder struct {
	bus    *events.Bus
	sink   Sink
	nodeID string
	logger zerolog.Logger
	dedup  *logging.Deduper

	subs map[events.EventType]events.Subscriber
}

// NewForwarder subscribes to all event types. Events published before
// Run starts are buffered by the bus subscriptions.
func NewForwarder(bus *events.Bus, sink Sink, nodeID string, logger zerolog.Logger) *Forwarder {
	f := &Forwarder{
		bus:    bus,
		sink:   sink,
		nodeID: nodeID,
		logger: logger.With().Str("component", "event_forwarder").Str("sink", sink.Name()).Logger(),
		dedup:  logging.NewDeduper(time.Minute),
		subs:   make(map[events.EventType]events.Subscriber, len(events.AllTypes)),
	}
	for _, t := range events.AllTypes {
		f.subs[t] = bus.Subscribe(t)
	}
	return f
}

type delivery struct {
	eventType events.EventType
	payload   events.Payload
}

// Run forwards events until ctx is cancelled, then unsubscribes.
func (f *Forwarder) Run(ctx context.Context) error {
	merged := make(chan delivery, 64)
	var wg sync.WaitGroup

	defer func() {
		for t, sub := range f.subs {
			f.bus.Unsubscribe(t, sub)
		}
	}()
	defer wg.Wait()

	for t, sub := range f.subs {
		wg.Add(1)
		go func(t events.EventType, sub events.Subscriber) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case p, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- delivery{eventType: t, payload: p}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(t, sub)
	}

	f.logger.Info().Msg("event forwarder started")
	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("event forwarder stopped")
			return nil
		case d := <-merged:
			f.forward(ctx, d.eventType, d.payload)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, eventType events.EventType, payload events.Payload) {
	channel, _ := payload["channel"].(string)
	if channel == "" {
		channel = "_"
	}

	data, err := marshalMessage(eventType, channel, payload, f.nodeID, time.Now())
	if err != nil {
		telemetry.EventsForwarded.WithLabelValues(f.sink.Name(), "error").Inc()
		f.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to encode event")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := f.sink.Send(sendCtx, channel, eventType, data); err != nil {
		telemetry.EventsForwarded.WithLabelValues(f.sink.Name(), "error").Inc()
		if ok, suppressed := f.dedup.Allow(err.Error(), time.Now()); ok {
			f.logger.Warn().Err(err).Str("event_type", string(eventType)).Int("suppressed", suppressed).Msg("failed to forward event")
		}
		return
	}
	telemetry.EventsForwarded.WithLabelValues(f.sink.Name(), "ok").Inc()
}
