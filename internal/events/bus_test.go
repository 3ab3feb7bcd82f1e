/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"testing"
)

func TestBusDeliversByType(t *testing.T) {
	bus := NewBus()
	status := bus.Subscribe(EventStatus)
	skipped := bus.Subscribe(EventItemSkipped)

	bus.Publish(EventStatus, Payload{"channel": "news"})

	select {
	case p := <-status:
		if p["channel"] != "news" {
			t.Errorf("payload = %v", p)
		}
	default:
		t.Fatal("status subscriber got nothing")
	}
	select {
	case p := <-skipped:
		t.Fatalf("unexpected delivery %v", p)
	default:
	}
}

func TestBusDropsForSlowSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventHealth)

	for i := 0; i < 20; i++ {
		bus.Publish(EventHealth, Payload{"n": i})
	}
	if got := len(sub); got != cap(sub) {
		t.Fatalf("buffered %d, want %d", got, cap(sub))
	}
	if p := <-sub; p["n"] != 0 {
		t.Errorf("first payload = %v, want n=0", p)
	}
}

func TestBusUnsubscribeWhilePublishing(t *testing.T) {
	bus := NewBus()
	subs := make([]Subscriber, 16)
	for i := range subs {
		subs[i] = bus.Subscribe(EventStatus)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			bus.Publish(EventStatus, Payload{"n": i})
		}
	}()
	for _, sub := range subs {
		bus.Unsubscribe(EventStatus, sub)
	}
	wg.Wait()

	for _, sub := range subs {
		for range sub {
		}
	}
}
