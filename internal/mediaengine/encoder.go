/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/friendsincode/grimnir_playout/internal/config"
)

// EncoderBuilder builds the arguments of a channel's persistent encode
// stage. The stage reads the decoded mpegts stream from stdin.
type EncoderBuilder struct {
	output     config.OutputConfig
	processing config.ProcessingConfig
}

// NewEncoderBuilder creates a new encoder builder
func NewEncoderBuilder(output config.OutputConfig, processing config.ProcessingConfig) *EncoderBuilder {
	if output.Mode == config.OutputHLS {
		if output.SegmentSeconds == 0 {
			output.SegmentSeconds = 6
		}
		if output.ListSize == 0 {
			output.ListSize = 600
		}
	}
	if !processing.AudioOnly && processing.FPS == 0 {
		processing.FPS = 25
	}
	return &EncoderBuilder{output: output, processing: processing}
}

// Build generates the ffmpeg argument list for the encode stage.
func (eb *EncoderBuilder) Build() ([]string, error) {
	if eb.output.Target == "" {
		return nil, fmt.Errorf("output target is required")
	}

	args := []string{
		"-hide_banner", "-nostats", "-v", "level+error",
		"-thread_queue_size", "1024",
		"-f", "mpegts", "-i", "pipe:0",
	}

	if len(eb.output.Params) > 0 {
		args = append(args, eb.output.Params...)
	} else {
		args = append(args, eb.buildCodecs()...)
	}

	muxer, err := eb.buildMuxer()
	if err != nil {
		return nil, fmt.Errorf("build muxer: %w", err)
	}
	return append(args, muxer...), nil
}

// buildCodecs returns the default codec block for the output mode.
func (eb *EncoderBuilder) buildCodecs() []string {
	audio := []string{"-c:a", "aac", "-b:a", "128k", "-ar", "44100", "-ac", "2"}
	if eb.processing.AudioOnly {
		return append([]string{"-vn"}, audio...)
	}

	keyint := strconv.Itoa(int(eb.processing.FPS * 2))
	video := []string{
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "main",
		"-pix_fmt", "yuv420p",
		"-crf", "23",
		"-maxrate", "2500k",
		"-bufsize", "5000k",
		"-g", keyint,
		"-keyint_min", keyint,
		"-sc_threshold", "0",
	}
	if eb.output.Mode == config.OutputHLS {
		video = append(video, "-flags", "+cgop")
	}
	return append(video, audio...)
}

// buildMuxer returns the muxer and target arguments.
func (eb *EncoderBuilder) buildMuxer() ([]string, error) {
	switch eb.output.Mode {
	case config.OutputHLS:
		dir := eb.output.Target
		return []string{
			"-f", "hls",
			"-hls_time", strconv.Itoa(eb.output.SegmentSeconds),
			"-hls_list_size", strconv.Itoa(eb.output.ListSize),
			"-hls_flags", "append_list+delete_segments+omit_endlist+program_date_time",
			"-hls_segment_filename", filepath.Join(dir, "stream-%05d.ts"),
			filepath.Join(dir, "stream.m3u8"),
		}, nil

	case config.OutputRTMP:
		return []string{"-f", "flv", eb.output.Target}, nil

	case config.OutputSRT, config.OutputUDP:
		return []string{"-f", "mpegts", "-mpegts_flags", "+resend_headers", eb.output.Target}, nil

	default:
		return nil, fmt.Errorf("unsupported output mode: %s", eb.output.Mode)
	}
}
