/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// minRemaining is the shortest tail of an item worth starting.
const minRemaining = 0.1

// plan is the scheduler's decision about what to start next.
type plan struct {
	// Index is the item to play; -1 when the program is exhausted.
	Index int
	// Seek is how far into the item's slot to start.
	Seek float64
	// Filler is played before Index when the channel is early. It is the
	// channel filler clip or slate.
	Filler float64
	// Shift is wall clock elapsed minus declared elapsed at Index.
	Shift float64
	// Corrected is set when Shift exceeded the threshold.
	Corrected bool
	// Skipped lists items passed over entirely.
	Skipped []int
}

// planNext decides how to continue at offset seconds into the day when
// next is the item due in order. Shifts within threshold are left alone;
// a late channel seeks into the item that is due now and an early one
// covers the difference with filler.
func planNext(program []models.PlayItem, next int, offset, threshold float64) plan {
	if next < 0 {
		next = 0
	}
	if next >= len(program) {
		return plan{Index: -1}
	}

	shift := offset - program[next].Begin
	p := plan{Index: next, Shift: shift}
	if math.Abs(shift) <= threshold {
		return p
	}
	p.Corrected = true

	if shift < 0 {
		p.Filler = -shift
		return p
	}

	j := next
	for j < len(program) && program[j].End()-offset < minRemaining {
		p.Skipped = append(p.Skipped, j)
		j++
	}
	if j == len(program) {
		p.Index = -1
		return p
	}
	p.Index = j

	item := program[j]
	switch {
	case offset > item.Begin:
		p.Seek = offset - item.Begin
	case item.Begin-offset > threshold:
		// Landed in a gap after skipping.
		p.Filler = item.Begin - offset
	}
	return p
}

// logPlan records a correction. Nothing is logged for plans within the
// threshold.
func logPlan(logger zerolog.Logger, p plan, program []models.PlayItem, offset float64) {
	if !p.Corrected {
		return
	}

	for _, i := range p.Skipped {
		item := program[i]
		logger.Warn().
			Str("uid", item.UID).
			Str("source", item.Source).
			Float64("begin", item.Begin).
			Float64("duration", item.Duration).
			Float64("offset", offset).
			Msg("skipping item to catch up with wall clock")
	}

	ev := logger.Warn().Float64("shift", round3(p.Shift)).Float64("offset", round3(offset))
	if p.Index >= 0 {
		ev = ev.Str("uid", program[p.Index].UID).Int("index", p.Index)
	}
	switch {
	case p.Index < 0:
		ev.Msg("drift correction: program exhausted")
	case p.Seek > 0:
		ev.Float64("seek", round3(p.Seek)).Msg("drift correction: seeking into due item")
	case p.Filler > 0:
		ev.Float64("filler", round3(p.Filler)).Msg("drift correction: filling until item is due")
	default:
		ev.Msg("drift correction: starting due item")
	}
}

func correctionKind(p plan) string {
	switch {
	case p.Index < 0:
		return "exhausted"
	case p.Seek > 0:
		return "seek"
	case p.Filler > 0:
		return "filler"
	default:
		return "skip"
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
