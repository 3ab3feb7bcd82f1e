/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Prober reads media metadata. *mediaengine.Prober implements it.
type Prober interface {
	Probe(ctx context.Context, path string) (mediaengine.MediaInfo, error)
}

// Reconcile probes every source of day, clamps out points to the true
// source length and then validates the result. Missing media and probe
// failures are reported as warnings; playout skips or falls back on them.
func (v *Validator) Reconcile(ctx context.Context, day models.PlaylistDay, prober Prober) (*Result, error) {
	probed := day.Clone()
	media := make(map[string]mediaengine.MediaInfo, len(probed.Program))
	var warnings, failures []models.Violation
	changed := false

	for i := range probed.Program {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := &probed.Program[i]
		if item.Source == models.SlateSource {
			continue
		}

		info, err := prober.Probe(ctx, item.Source)
		switch {
		case errors.Is(err, models.ErrMediaNotFound):
			warnings = append(warnings, models.Violation{
				Kind:    models.ViolationMedia,
				Index:   i,
				UID:     item.UID,
				At:      item.Begin,
				Message: fmt.Sprintf("source %s not found; item will be skipped", item.Source),
			})
			continue
		case err != nil:
			warnings = append(warnings, models.Violation{
				Kind:    models.ViolationProbe,
				Index:   i,
				UID:     item.UID,
				At:      item.Begin,
				Message: fmt.Sprintf("probe failed, using declared duration: %v", err),
			})
			continue
		}
		media[item.UID] = info

		excess := item.OutPoint() - info.Duration
		switch {
		case excess > 0.01 && v.opts.AutoCorrect:
			truncate(item, info.Duration-item.In)
			changed = true
			warnings = append(warnings, models.Violation{
				Kind:      models.ViolationDuration,
				Index:     i,
				UID:       item.UID,
				At:        item.Begin,
				Amount:    excess,
				Message:   fmt.Sprintf("out point exceeds source length %.3fs by %.3fs; clamped", info.Duration, excess),
				Corrected: true,
			})
		case excess > v.opts.DurationTolerance:
			failures = append(failures, models.Violation{
				Kind:    models.ViolationDuration,
				Index:   i,
				UID:     item.UID,
				At:      item.Begin,
				Amount:  excess,
				Message: fmt.Sprintf("out point exceeds source length %.3fs by %.3fs", info.Duration, excess),
			})
		case item.In == 0 && item.Out == 0 && math.Abs(info.Duration-item.Duration) > v.opts.DurationTolerance:
			warnings = append(warnings, models.Violation{
				Kind:    models.ViolationDuration,
				Index:   i,
				UID:     item.UID,
				At:      item.Begin,
				Amount:  info.Duration - item.Duration,
				Message: fmt.Sprintf("declared duration %.3fs differs from source length %.3fs", item.Duration, info.Duration),
			})
		}
	}

	result, err := v.Validate(probed)
	result.Media = media
	result.Changed = result.Changed || changed
	result.Warnings = append(warnings, result.Warnings...)
	if len(failures) > 0 {
		result.Errors = append(failures, result.Errors...)
		result.Valid = false
		for _, f := range failures {
			v.logger.Error().Str("channel", day.Channel).Str("uid", f.UID).Msg(f.Message)
		}
		return result, &models.PlaylistValidationError{Channel: day.Channel, Date: day.Date, Violations: result.Errors}
	}
	for _, w := range warnings {
		v.logger.Warn().Str("channel", day.Channel).Str("kind", string(w.Kind)).Str("uid", w.UID).Msg(w.Message)
	}
	return result, err
}
