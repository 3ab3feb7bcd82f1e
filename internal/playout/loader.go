/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/media"
	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/playlist"
	"github.com/friendsincode/grimnir_playout/internal/scheduling"
	"github.com/friendsincode/grimnir_playout/internal/smartblock"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// Day is a validated program ready for playout.
type Day struct {
	Playlist models.PlaylistDay
	// Start is the wall clock instant of offset zero.
	Start time.Time
	// Media holds probe results by item uid.
	Media map[string]mediaengine.MediaInfo
	// Missing marks item uids whose source could not be found.
	Missing map[string]bool
	// Filler describes the channel filler clip, if any.
	Filler mediaengine.MediaInfo
	Source string
}

// Date returns the calendar date of the day.
func (d *Day) Date() string {
	return d.Playlist.Date
}

// Resolvable reports whether at least one item of the program can be
// played.
func (d *Day) Resolvable() bool {
	for _, item := range d.Playlist.Program {
		if !d.Missing[item.UID] {
			return true
		}
	}
	return false
}

// DayLoader produces the day that starts at start.
type DayLoader interface {
	Load(ctx context.Context, start time.Time) (*Day, error)
}

// LoaderOptions wires a Loader.
type LoaderOptions struct {
	Channel   config.ChannelConfig
	Store     playlist.Store
	Validator *scheduling.Validator
	// Prober enables media reconciliation; nil validates timing only.
	Prober scheduling.Prober
	// Generator, Template and Library enable the generated fallback day.
	Generator *smartblock.Generator
	Template  *smartblock.Template
	Library   *media.Library
	Logger    zerolog.Logger
}

// Loader reads a day from the store, falling back to the generator when
// none exists, and validates it.
type Loader struct {
	opts   LoaderOptions
	logger zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(opts LoaderOptions) *Loader {
	return &Loader{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "day_loader").Str("channel", opts.Channel.ID).Logger(),
	}
}

// Load implements DayLoader.
func (l *Loader) Load(ctx context.Context, start time.Time) (day *Day, err error) {
	ch := l.opts.Channel
	date := start.Format(models.DateLayout)

	ctx, span := telemetry.StartChannelSpan(ctx, "playout.load_day", ch.ID, date)
	defer func() { telemetry.EndSpan(span, err) }()

	source := "store"
	pl, err := l.opts.Store.Load(ctx, ch.ID, start)
	switch {
	case err == nil:
	case errors.Is(err, playlist.ErrNotFound) && l.canGenerate():
		source = "generator"
		l.logger.Info().Str("date", date).Msg("no playlist found, generating")
		pl, err = l.generate(ctx, date)
		if err != nil {
			telemetry.PlaylistLoads.WithLabelValues(ch.ID, source, "error").Inc()
			return nil, err
		}
		if ch.Generator.Save {
			if err := l.opts.Store.Save(ctx, pl); err != nil {
				l.logger.Warn().Err(err).Str("date", date).Msg("failed to save generated playlist")
			}
		}
	default:
		telemetry.PlaylistLoads.WithLabelValues(ch.ID, source, "error").Inc()
		return nil, fmt.Errorf("load playlist %s/%s: %w", ch.ID, date, err)
	}

	var result *scheduling.Result
	if l.opts.Prober != nil {
		result, err = l.opts.Validator.Reconcile(ctx, pl, l.opts.Prober)
	} else {
		result, err = l.opts.Validator.Validate(pl)
	}
	if err != nil {
		telemetry.PlaylistLoads.WithLabelValues(ch.ID, source, "invalid").Inc()
		return nil, err
	}

	day = &Day{
		Playlist: result.Day,
		Start:    start,
		Media:    result.Media,
		Missing:  make(map[string]bool),
		Source:   source,
	}
	for _, w := range result.Warnings {
		if w.Kind == models.ViolationMedia {
			day.Missing[w.UID] = true
		}
	}
	if ch.Filler != "" && l.opts.Prober != nil {
		info, err := l.opts.Prober.Probe(ctx, ch.Filler)
		if err != nil {
			l.logger.Warn().Err(err).Str("filler", ch.Filler).Msg("filler probe failed")
		}
		day.Filler = info
	}

	telemetry.PlaylistLoads.WithLabelValues(ch.ID, source, "ok").Inc()
	l.logger.Info().
		Str("date", date).
		Str("source", source).
		Int("items", len(day.Playlist.Program)).
		Float64("length", day.Playlist.Length()).
		Int("warnings", len(result.Warnings)).
		Int("missing", len(day.Missing)).
		Msg("playlist loaded")
	return day, nil
}

func (l *Loader) canGenerate() bool {
	return l.opts.Channel.Generator.Enabled && l.opts.Generator != nil && l.opts.Template != nil && l.opts.Library != nil
}

func (l *Loader) generate(ctx context.Context, date string) (models.PlaylistDay, error) {
	scan, err := l.opts.Library.Scan(ctx)
	if err != nil {
		return models.PlaylistDay{}, fmt.Errorf("scan media library: %w", err)
	}
	day, err := l.opts.Generator.Generate(ctx, smartblock.GenerateRequest{
		Channel:  l.opts.Channel.ID,
		Date:     date,
		Template: *l.opts.Template,
		Pool:     scan.Files,
		Seed:     l.opts.Channel.Generator.Seed,
	})
	if err != nil {
		return models.PlaylistDay{}, fmt.Errorf("generate playlist %s/%s: %w", l.opts.Channel.ID, date, err)
	}
	return day, nil
}
