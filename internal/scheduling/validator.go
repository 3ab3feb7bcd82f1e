/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduling checks and corrects the chronology of day playlists.
package scheduling

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Options are the tolerances and switches validation runs with.
type Options struct {
	GapTolerance      float64
	DurationTolerance float64
	DayLength         float64
	FillGaps          bool
	Filler            string
	AutoCorrect       bool
	OpenEnded         bool
}

// OptionsFor derives validation options from a channel.
func OptionsFor(ch config.ChannelConfig) Options {
	return Options{
		GapTolerance:      ch.Timing.GapTolerance,
		DurationTolerance: ch.Timing.DurationTolerance,
		DayLength:         ch.DayLength,
		FillGaps:          ch.Timing.FillGaps,
		Filler:            ch.Filler,
		AutoCorrect:       ch.AutoCorrect(),
		OpenEnded:         ch.Timing.OpenEnded,
	}
}

// Result is the outcome of validating one day.
type Result struct {
	Day       models.PlaylistDay
	Valid     bool
	Changed   bool
	Errors    []models.Violation
	Warnings  []models.Violation
	Media     map[string]mediaengine.MediaInfo
	CheckedAt time.Time
}

func (r *Result) warn(v models.Violation) {
	r.Warnings = append(r.Warnings, v)
}

func (r *Result) fail(v models.Violation) {
	r.Errors = append(r.Errors, v)
	r.Valid = false
}

// Validator checks gaps, overlaps and ordering of a day.
type Validator struct {
	opts   Options
	logger zerolog.Logger
	newUID func() string
}

// NewValidator creates a new playlist validator.
func NewValidator(opts Options, logger zerolog.Logger) *Validator {
	return &Validator{
		opts:   opts,
		logger: logger.With().Str("component", "playlist_validator").Logger(),
		newUID: uuid.NewString,
	}
}

// Validate checks day and, when allowed, corrects it. The returned day is
// a copy; the input is never modified. A *models.PlaylistValidationError
// is returned only when auto-correction is off and inconsistencies remain.
func (v *Validator) Validate(day models.PlaylistDay) (*Result, error) {
	result := &Result{
		Day:       day.Clone(),
		Valid:     true,
		Errors:    []models.Violation{},
		Warnings:  []models.Violation{},
		CheckedAt: time.Now(),
	}

	v.checkOrder(result)
	v.checkFilters(result)
	v.checkTiming(result)

	logger := v.logger.With().Str("channel", day.Channel).Str("date", day.Date).Logger()
	for _, w := range result.Warnings {
		logger.Warn().Str("kind", string(w.Kind)).Str("uid", w.UID).Bool("corrected", w.Corrected).Msg(w.Message)
	}
	for _, e := range result.Errors {
		logger.Error().Str("kind", string(e.Kind)).Str("uid", e.UID).Msg(e.Message)
	}

	if !result.Valid {
		return result, &models.PlaylistValidationError{
			Channel:    day.Channel,
			Date:       day.Date,
			Violations: result.Errors,
		}
	}
	return result, nil
}

func (v *Validator) checkOrder(r *Result) {
	program := r.Day.Program
	for i := 1; i < len(program); i++ {
		if program[i].Begin > program[i-1].Begin {
			continue
		}
		viol := models.Violation{
			Kind:    models.ViolationOrder,
			Index:   i,
			UID:     program[i].UID,
			At:      program[i].Begin,
			Message: fmt.Sprintf("item %s begins at %s, not after %s", program[i].UID, clock(program[i].Begin), clock(program[i-1].Begin)),
		}
		if !v.opts.AutoCorrect {
			r.fail(viol)
			continue
		}
		sort.SliceStable(program, func(a, b int) bool { return program[a].Begin < program[b].Begin })
		viol.Corrected = true
		viol.Message += "; program re-sorted by begin"
		r.warn(viol)
		r.Changed = true
		return
	}
}

func (v *Validator) checkFilters(r *Result) {
	for i := range r.Day.Program {
		item := &r.Day.Program[i]
		if item.CustomFilter == "" {
			continue
		}
		err := mediaengine.ValidateCustomFilter(item.CustomFilter)
		if err == nil {
			continue
		}
		viol := models.Violation{
			Kind:    models.ViolationFilter,
			Index:   i,
			UID:     item.UID,
			At:      item.Begin,
			Message: err.Error(),
		}
		if !v.opts.AutoCorrect {
			r.fail(viol)
			continue
		}
		item.CustomFilter = ""
		viol.Corrected = true
		viol.Message += "; filter removed"
		r.warn(viol)
		r.Changed = true
	}
}

// checkTiming walks the program once, inserting filler into gaps and
// truncating overlapped items.
func (v *Validator) checkTiming(r *Result) {
	tol := math.Max(v.opts.GapTolerance, 0.001)
	in := r.Day.Program
	out := make([]models.PlayItem, 0, len(in))
	cursor := 0.0

	for i := 0; i < len(in); i++ {
		item := in[i]

		if gap := item.Begin - cursor; gap > tol {
			out = v.handleGap(r, out, i, cursor, gap)
		}

		if i+1 < len(in) {
			next := in[i+1]
			if overlap := item.End() - next.Begin; overlap > tol || next.Begin <= item.Begin {
				viol := models.Violation{
					Kind:    models.ViolationOverlap,
					Index:   i,
					UID:     item.UID,
					At:      next.Begin,
					Amount:  overlap,
					Message: fmt.Sprintf("item %s overlaps %s by %.3fs", item.UID, next.UID, overlap),
				}
				if v.opts.AutoCorrect {
					truncate(&item, next.Begin-item.Begin)
					viol.Corrected = true
					viol.Message += fmt.Sprintf("; duration truncated to %.3fs", item.Duration)
					r.warn(viol)
					r.Changed = true
				} else {
					r.fail(viol)
				}
			}
		}

		if item.Duration <= 0 {
			r.warn(models.Violation{
				Kind:      models.ViolationOverlap,
				Index:     i,
				UID:       item.UID,
				At:        item.Begin,
				Message:   fmt.Sprintf("item %s has no time left and was dropped", item.UID),
				Corrected: true,
			})
			r.Changed = true
			continue
		}

		out = append(out, item)
		cursor = item.End()
	}

	if v.opts.DayLength > 0 && !v.opts.OpenEnded {
		if short := v.opts.DayLength - cursor; short > tol {
			out = v.handleGap(r, out, len(in), cursor, short)
		} else if long := cursor - v.opts.DayLength; long > tol && len(out) > 0 && !out[len(out)-1].Overtime {
			r.warn(models.Violation{
				Kind:    models.ViolationLongDay,
				Index:   len(out) - 1,
				UID:     out[len(out)-1].UID,
				At:      v.opts.DayLength,
				Amount:  long,
				Message: fmt.Sprintf("program runs %.3fs past the day length and will be cut at rollover", long),
			})
		}
	}

	r.Day.Program = out
}

func (v *Validator) handleGap(r *Result, out []models.PlayItem, index int, at, gap float64) []models.PlayItem {
	kind := models.ViolationGap
	if index >= len(r.Day.Program) {
		kind = models.ViolationShortDay
	}
	viol := models.Violation{
		Kind:    kind,
		Index:   index,
		At:      at,
		Amount:  gap,
		Message: fmt.Sprintf("%.3fs gap at %s", gap, clock(at)),
	}
	if index < len(r.Day.Program) {
		viol.UID = r.Day.Program[index].UID
	}

	if !v.opts.FillGaps {
		viol.Message += "; no filler configured"
		r.warn(viol)
		return out
	}

	source := v.opts.Filler
	if source == "" {
		source = models.SlateSource
	}
	out = append(out, models.PlayItem{
		UID:      v.newUID(),
		Begin:    at,
		Source:   source,
		Duration: gap,
		Category: models.CategoryFiller,
		Title:    "Filler",
	})
	viol.Corrected = true
	viol.Message += "; filler inserted"
	r.warn(viol)
	r.Changed = true
	return out
}

// truncate shortens item to length seconds, moving an explicit out point
// with it.
func truncate(item *models.PlayItem, length float64) {
	if length < 0 {
		length = 0
	}
	if item.Out > item.In {
		item.Out = item.In + length
	}
	item.Duration = length
}

// clock formats a day offset as HH:MM:SS.mmm.
func clock(offset float64) string {
	neg := offset < 0
	ms := int64(math.Round(math.Abs(offset) * 1000))
	s := fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
	if neg {
		return "-" + s
	}
	return s
}
