/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/friendsincode/grimnir_playout/internal/config"
)

// unboundedBackoff stands in for a missing max backoff.
const unboundedBackoff = 24 * time.Hour

// clockFunc adapts a time source to backoff.Clock.
type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// RestartPolicy caps restarts within a rolling window and spaces them
// with exponential backoff. The backoff starts over once the window
// holds no attempts. It is not safe for concurrent use; the supervisor's
// run loop owns its policies.
type RestartPolicy struct {
	MaxAttempts int
	Window      time.Duration

	now      func() time.Time
	backoff  *backoff.ExponentialBackOff
	attempts []time.Time
}

// NewRestartPolicy builds a policy from channel restart settings. A nil
// clock uses time.Now.
func NewRestartPolicy(cfg config.RestartConfig, now func() time.Time) *RestartPolicy {
	if now == nil {
		now = time.Now
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = unboundedBackoff
	}
	b.Multiplier = cfg.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Clock = clockFunc(now)
	b.Reset()

	return &RestartPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Window:      cfg.Window,
		now:         now,
		backoff:     b,
	}
}

// Next records an attempt and returns how long to wait before it. ok is
// false once MaxAttempts attempts fall within Window; nothing is recorded
// then.
func (p *RestartPolicy) Next() (delay time.Duration, ok bool) {
	now := p.now()
	p.prune(now)
	if p.MaxAttempts > 0 && len(p.attempts) >= p.MaxAttempts {
		return 0, false
	}
	if len(p.attempts) == 0 {
		p.backoff.Reset()
	}
	p.attempts = append(p.attempts, now)
	return p.backoff.NextBackOff(), true
}

// Attempts returns the number of attempts inside the window.
func (p *RestartPolicy) Attempts() int {
	p.prune(p.now())
	return len(p.attempts)
}

// Reset forgets every recorded attempt.
func (p *RestartPolicy) Reset() {
	p.attempts = p.attempts[:0]
	p.backoff.Reset()
}

func (p *RestartPolicy) prune(now time.Time) {
	if p.Window <= 0 {
		return
	}
	keep := p.attempts[:0]
	for _, t := range p.attempts {
		if now.Sub(t) < p.Window {
			keep = append(keep, t)
		}
	}
	p.attempts = keep
}
