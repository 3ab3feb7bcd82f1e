/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// OutputMode is the delivery format of a channel's encode stage.
type OutputMode string

const (
	OutputHLS  OutputMode = "hls"
	OutputRTMP OutputMode = "rtmp"
	OutputSRT  OutputMode = "srt"
	OutputUDP  OutputMode = "udp"
)

var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ChannelsFile is the document read from PLAYOUT_CHANNELS_FILE.
type ChannelsFile struct {
	Channels []ChannelConfig `yaml:"channels" validate:"required,min=1,dive"`
}

// ChannelConfig describes one linear channel. It is read-only once loaded.
type ChannelConfig struct {
	ID           string  `yaml:"id" validate:"required,max=64"`
	Name         string  `yaml:"name"`
	Timezone     string  `yaml:"timezone"`
	DayStart     string  `yaml:"day_start"`
	DayLength    float64 `yaml:"day_length" validate:"gte=0"`
	StoragePath  string  `yaml:"storage_path" validate:"required"`
	PlaylistPath string  `yaml:"playlist_path"`
	Filler       string  `yaml:"filler"`

	Output          OutputConfig     `yaml:"output"`
	Processing      ProcessingConfig `yaml:"processing"`
	Ingest          IngestConfig     `yaml:"ingest"`
	Timing          TimingConfig     `yaml:"timing"`
	Restart         RestartConfig    `yaml:"restart"`
	Generator       GeneratorConfig  `yaml:"generator"`
	ReplayPreempted bool             `yaml:"replay_preempted"`
}

// OutputConfig selects the persistent output target.
type OutputConfig struct {
	Mode   OutputMode `yaml:"mode" validate:"required,oneof=hls rtmp srt udp"`
	Target string     `yaml:"target" validate:"required"`
	// Params replaces the default codec arguments of the encode stage.
	Params []string `yaml:"params"`
	// HLS only.
	SegmentSeconds int `yaml:"segment_seconds" validate:"gte=0"`
	ListSize       int `yaml:"list_size" validate:"gte=0"`
}

// ProcessingConfig controls the per-item decode filter graph.
type ProcessingConfig struct {
	Width          int        `yaml:"width" validate:"gte=0"`
	Height         int        `yaml:"height" validate:"gte=0"`
	FPS            float64    `yaml:"fps" validate:"gte=0"`
	Aspect         float64    `yaml:"aspect" validate:"gte=0"`
	AudioOnly      bool       `yaml:"audio_only"`
	Loudnorm       bool       `yaml:"loudnorm"`
	LoudnessTarget float64    `yaml:"loudness_target" validate:"lte=0"`
	TruePeak       float64    `yaml:"true_peak" validate:"lte=0"`
	LoudnessRange  float64    `yaml:"loudness_range" validate:"gte=0"`
	FadeDuration   float64    `yaml:"fade_duration" validate:"gte=0"`
	Volume         float64    `yaml:"volume" validate:"gte=0"`
	Logo           LogoConfig `yaml:"logo"`
	// CustomFilter is applied to every item before the item's own filter.
	CustomFilter string `yaml:"custom_filter"`
}

// LogoConfig is the optional channel logo overlay.
type LogoConfig struct {
	Path     string  `yaml:"path"`
	Position string  `yaml:"position"`
	Opacity  float64 `yaml:"opacity" validate:"gte=0,lte=1"`
	Scale    string  `yaml:"scale"`
}

// IngestConfig configures the live ingest listener.
type IngestConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint" validate:"required_if=Enabled true"`
	CustomFilter string `yaml:"custom_filter"`
}

// TimingConfig holds every tolerance the scheduler and validator use.
type TimingConfig struct {
	GapTolerance      float64       `yaml:"gap_tolerance" validate:"gte=0"`
	DriftThreshold    float64       `yaml:"drift_threshold" validate:"gte=0"`
	DurationTolerance float64       `yaml:"duration_tolerance" validate:"gte=0"`
	FillGaps          bool          `yaml:"fill_gaps"`
	AutoCorrect       *bool         `yaml:"auto_correct"`
	OpenEnded         bool          `yaml:"open_ended"`
	Tick              time.Duration `yaml:"tick"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Prefetch          time.Duration `yaml:"prefetch"`
	OverrunGrace      time.Duration `yaml:"overrun_grace"`
}

// RestartConfig parameterizes the restart policies of the supervisor.
type RestartConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=0"`
	Window         time.Duration `yaml:"window"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" validate:"gte=0"`
	StopGrace      time.Duration `yaml:"stop_grace"`
}

// GeneratorConfig enables playlist generation when no day exists.
type GeneratorConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Template   string   `yaml:"template" validate:"required_if=Enabled true"`
	Folders    []string `yaml:"folders"`
	Extensions []string `yaml:"extensions"`
	Seed       *int64   `yaml:"seed"`
	Save       bool     `yaml:"save"`
}

// LoadChannels reads, defaults and validates a channels file.
func LoadChannels(path string) ([]ChannelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channels file: %w", err)
	}
	return ParseChannels(data)
}

// ParseChannels decodes a channels document.
func ParseChannels(data []byte) ([]ChannelConfig, error) {
	var doc ChannelsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}

	for i := range doc.Channels {
		doc.Channels[i].ApplyDefaults()
	}

	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("validate channels: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Channels))
	for _, ch := range doc.Channels {
		if _, dup := seen[ch.ID]; dup {
			return nil, fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = struct{}{}

		if err := ch.check(); err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.ID, err)
		}
	}

	return doc.Channels, nil
}

// ApplyDefaults fills zero values with operational defaults.
func (c *ChannelConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.DayStart == "" {
		c.DayStart = "00:00:00"
	}
	if c.DayLength == 0 {
		c.DayLength = 86400
	}
	if c.PlaylistPath == "" {
		c.PlaylistPath = c.StoragePath
	}

	p := &c.Processing
	if !p.AudioOnly {
		if p.Width == 0 {
			p.Width = 1024
		}
		if p.Height == 0 {
			p.Height = 576
		}
		if p.FPS == 0 {
			p.FPS = 25
		}
		if p.Aspect == 0 {
			p.Aspect = float64(p.Width) / float64(p.Height)
		}
	}
	if p.LoudnessTarget == 0 {
		p.LoudnessTarget = -23
	}
	if p.TruePeak == 0 {
		p.TruePeak = -2
	}
	if p.LoudnessRange == 0 {
		p.LoudnessRange = 11
	}
	if p.FadeDuration == 0 {
		p.FadeDuration = 0.5
	}
	if p.Volume == 0 {
		p.Volume = 1
	}
	if p.Logo.Position == "" {
		p.Logo.Position = "W-w-12:12"
	}
	if p.Logo.Opacity == 0 {
		p.Logo.Opacity = 0.7
	}

	if c.Output.Mode == OutputHLS {
		if c.Output.SegmentSeconds == 0 {
			c.Output.SegmentSeconds = 6
		}
		if c.Output.ListSize == 0 {
			c.Output.ListSize = 600
		}
	}

	t := &c.Timing
	if t.GapTolerance == 0 {
		t.GapTolerance = 0.5
	}
	if t.DriftThreshold == 0 {
		t.DriftThreshold = 1.0
	}
	if t.DurationTolerance == 0 {
		t.DurationTolerance = 1.2
	}
	if t.AutoCorrect == nil {
		on := true
		t.AutoCorrect = &on
	}
	if t.Tick == 0 {
		t.Tick = 500 * time.Millisecond
	}
	if t.RetryInterval == 0 {
		t.RetryInterval = 30 * time.Second
	}
	if t.Prefetch == 0 {
		t.Prefetch = 2 * time.Minute
	}
	if t.OverrunGrace == 0 {
		t.OverrunGrace = 5 * time.Second
	}

	r := &c.Restart
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.Window == 0 {
		r.Window = 5 * time.Minute
	}
	if r.InitialBackoff == 0 {
		r.InitialBackoff = 500 * time.Millisecond
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = 30 * time.Second
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2
	}
	if r.StopGrace == 0 {
		r.StopGrace = 5 * time.Second
	}

	if len(c.Generator.Folders) == 0 && c.Generator.Enabled {
		c.Generator.Folders = []string{c.StoragePath}
	}
	if len(c.Generator.Extensions) == 0 {
		c.Generator.Extensions = []string{".mp4", ".mkv", ".mov", ".ts", ".mxf", ".mp3", ".flac", ".wav"}
	}
}

func (c ChannelConfig) check() error {
	if !channelIDPattern.MatchString(c.ID) {
		return fmt.Errorf("id %q may only contain letters, digits, '-' and '_'", c.ID)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if _, err := parseClock(c.DayStart); err != nil {
		return err
	}
	if c.DayLength > 86400 {
		return fmt.Errorf("day_length %.0f exceeds 24h", c.DayLength)
	}
	if !c.Processing.AudioOnly && (c.Processing.Width%2 != 0 || c.Processing.Height%2 != 0) {
		return fmt.Errorf("output geometry %dx%d must be even", c.Processing.Width, c.Processing.Height)
	}
	if c.Restart.MaxBackoff < c.Restart.InitialBackoff {
		return fmt.Errorf("restart.max_backoff must not be below restart.initial_backoff")
	}
	return nil
}

// AutoCorrect reports whether the validator may fix inconsistencies.
func (c ChannelConfig) AutoCorrect() bool {
	return c.Timing.AutoCorrect == nil || *c.Timing.AutoCorrect
}

// Location returns the channel's time zone.
func (c ChannelConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DayStartOffset returns day_start as a duration after midnight.
func (c ChannelConfig) DayStartOffset() time.Duration {
	d, err := parseClock(c.DayStart)
	if err != nil {
		return 0
	}
	return d
}

// DayBounds returns the start of the playout day containing t and its
// calendar date.
func (c ChannelConfig) DayBounds(t time.Time) (start time.Time, date string) {
	local := t.In(c.Location())
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	start = midnight.Add(c.DayStartOffset())
	if local.Before(start) {
		midnight = midnight.AddDate(0, 0, -1)
		start = midnight.Add(c.DayStartOffset())
	}
	return start, midnight.Format("2006-01-02")
}

func parseClock(v string) (time.Duration, error) {
	parts := strings.Split(v, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("day_start %q: want HH:MM[:SS]", v)
	}
	layout := "15:04"
	if len(parts) == 3 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return 0, fmt.Errorf("day_start %q: %w", v, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}
