/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mediaengine builds ffmpeg commands for the decode and encode
// stages and probes media with ffprobe.
package mediaengine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

// CommandBuilder turns play items and channel configuration into ffmpeg
// arguments. It holds no mutable state and is safe for concurrent use.
type CommandBuilder struct {
	channel config.ChannelConfig
	encoder *EncoderBuilder
}

// NewCommandBuilder creates a builder for one channel.
func NewCommandBuilder(channel config.ChannelConfig) *CommandBuilder {
	return &CommandBuilder{
		channel: channel,
		encoder: NewEncoderBuilder(channel.Output, channel.Processing),
	}
}

// ValidateChannel checks the channel wide custom filters. A malformed
// one would fail every decode stage of the channel.
func ValidateChannel(ch config.ChannelConfig) error {
	if err := ValidateCustomFilter(ch.Processing.CustomFilter); err != nil {
		return fmt.Errorf("processing.custom_filter: %w", err)
	}
	if err := ValidateCustomFilter(ch.Ingest.CustomFilter); err != nil {
		return fmt.Errorf("ingest.custom_filter: %w", err)
	}
	return nil
}

// EncoderArgs returns the arguments of the persistent encode stage.
func (b *CommandBuilder) EncoderArgs() ([]string, error) {
	return b.encoder.Build()
}

// DecoderArgs returns the decode stage arguments for item, starting seek
// seconds into its scheduled slot.
func (b *CommandBuilder) DecoderArgs(item models.PlayItem, info MediaInfo, seek float64) ([]string, error) {
	if seek < 0 {
		seek = 0
	}
	length := item.Duration - seek
	if length <= 0 {
		return nil, fmt.Errorf("item %s: seek %.3f is past its duration %.3f", item.UID, seek, item.Duration)
	}
	if item.Source == models.SlateSource {
		return b.SlateArgs(length), nil
	}

	p := b.channel.Processing
	args := decoderPreamble()
	inPoint := item.In + seek

	args = append(args, inputArgs(item.Source, inPoint, length)...)
	next := 1

	in := graphInput{
		info:     info,
		seek:     seek,
		length:   length,
		trimmed:  info.Duration > 0 && item.OutPoint() < info.Duration-0.1,
		logo:     true,
		category: item.Category,
		custom:   nonEmpty(p.CustomFilter, item.CustomFilter),
	}

	switch {
	case item.Audio != "":
		args = append(args, inputArgs(item.Audio, inPoint, length)...)
		in.audioIn = next
		next++
	case !info.HasAudio:
		in.silent = true
	}

	if !p.AudioOnly && !info.HasVideo {
		args = append(args, "-f", "lavfi", "-t", ffnum(length), "-i", b.blackSource())
		in.videoIn = next
		in.info.Width, in.info.Height = p.Width, p.Height
		in.info.FPS, in.info.Aspect = p.FPS, p.Aspect
		in.info.VideoDuration = 0
	}

	graph, err := filterGraph(p, in)
	if err != nil {
		return nil, withUID(err, item.UID)
	}
	args = append(args, graph...)
	return append(args, b.decoderOutput(length)...), nil
}

// IngestArgs returns decode stage arguments that listen on the ingest
// endpoint instead of reading a file.
func (b *CommandBuilder) IngestArgs() ([]string, error) {
	ing := b.channel.Ingest
	if ing.Endpoint == "" {
		return nil, fmt.Errorf("channel %s has no ingest endpoint", b.channel.ID)
	}

	p := b.channel.Processing
	args := decoderPreamble()
	if listens(ing.Endpoint) {
		args = append(args, "-listen", "1")
	}
	args = append(args, "-i", ing.Endpoint)

	graph, err := filterGraph(p, graphInput{
		info:   MediaInfo{HasAudio: true, HasVideo: !p.AudioOnly},
		ingest: true,
		logo:   true,
		custom: nonEmpty(p.CustomFilter, ing.CustomFilter),
	})
	if err != nil {
		return nil, err
	}
	args = append(args, graph...)
	return append(args, b.decoderOutput(0)...), nil
}

// FillerArgs returns decode stage arguments covering length seconds with
// the channel filler, looped as needed, or a slate without one.
func (b *CommandBuilder) FillerArgs(length float64, info MediaInfo) ([]string, error) {
	if length <= 0 {
		return nil, fmt.Errorf("filler length must be positive, got %.3f", length)
	}
	if b.channel.Filler == "" {
		return b.SlateArgs(length), nil
	}

	item := models.PlayItem{
		UID:      "filler",
		Source:   b.channel.Filler,
		Duration: length,
		Category: models.CategoryFiller,
	}
	args := decoderPreamble()
	args = append(args, "-stream_loop", "-1", "-t", ffnum(length), "-i", item.Source)

	p := b.channel.Processing
	in := graphInput{
		info:     info,
		length:   length,
		trimmed:  true,
		logo:     true,
		category: models.CategoryFiller,
		custom:   nonEmpty(p.CustomFilter),
		silent:   !info.HasAudio,
	}
	in.info.VideoDuration = 0
	next := 1
	if !p.AudioOnly && !info.HasVideo {
		args = append(args, "-f", "lavfi", "-t", ffnum(length), "-i", b.blackSource())
		in.videoIn = next
		in.info.Width, in.info.Height = p.Width, p.Height
		in.info.FPS, in.info.Aspect = p.FPS, p.Aspect
	}

	graph, err := filterGraph(p, in)
	if err != nil {
		return nil, err
	}
	args = append(args, graph...)
	return append(args, b.decoderOutput(length)...), nil
}

// SlateArgs returns decode stage arguments for length seconds of black
// video and silence.
func (b *CommandBuilder) SlateArgs(length float64) []string {
	p := b.channel.Processing
	args := decoderPreamble()
	d := ffnum(length)
	if p.AudioOnly {
		args = append(args,
			"-f", "lavfi", "-t", d, "-i", "anullsrc=r=48000:cl=stereo",
			"-map", "0:a:0",
		)
		return append(args, b.decoderOutput(length)...)
	}
	args = append(args,
		"-f", "lavfi", "-t", d, "-i", b.blackSource(),
		"-f", "lavfi", "-t", d, "-i", "anullsrc=r=48000:cl=stereo",
		"-map", "0:v:0", "-map", "1:a:0",
	)
	return append(args, b.decoderOutput(length)...)
}

func (b *CommandBuilder) blackSource() string {
	p := b.channel.Processing
	return fmt.Sprintf("color=c=black:s=%dx%d:r=%s", p.Width, p.Height, ffnum(p.FPS))
}

// decoderOutput encodes to the intermediate mpegts stream on stdout.
func (b *CommandBuilder) decoderOutput(length float64) []string {
	p := b.channel.Processing
	var out []string
	if length > 0 {
		out = append(out, "-t", ffnum(length))
	}
	if !p.AudioOnly {
		out = append(out,
			"-pix_fmt", "yuv420p",
			"-r", ffnum(p.FPS),
			"-c:v", "mpeg2video",
			"-g", "1",
			"-b:v", "50000k",
			"-minrate", "50000k",
			"-maxrate", "50000k",
			"-bufsize", "25000k",
		)
	}
	return append(out,
		"-c:a", "s302m", "-strict", "-2",
		"-sample_fmt", "s16", "-ar", "48000", "-ac", "2",
		"-f", "mpegts", "-",
	)
}

func decoderPreamble() []string {
	return []string{"-hide_banner", "-nostats", "-v", "level+error", "-re"}
}

func inputArgs(source string, inPoint, length float64) []string {
	var args []string
	if inPoint > 0 {
		args = append(args, "-ss", ffnum(inPoint))
	}
	return append(args, "-t", ffnum(length), "-i", source)
}

func listens(endpoint string) bool {
	for _, scheme := range []string{"rtmp://", "rtmps://", "http://", "https://"} {
		if strings.HasPrefix(endpoint, scheme) {
			return true
		}
	}
	return false
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func withUID(err error, uid string) error {
	var fe *models.FilterBuildError
	if errors.As(err, &fe) {
		copied := *fe
		copied.UID = uid
		return &copied
	}
	return err
}
