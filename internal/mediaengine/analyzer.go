/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// MediaInfo is what the decode stage needs to know about a source.
type MediaInfo struct {
	Duration      float64
	VideoDuration float64
	Width         int
	Height        int
	FPS           float64
	Aspect        float64
	Interlaced    bool
	HasAudio      bool
	HasVideo      bool
}

// Prober reads stream metadata with ffprobe.
type Prober struct {
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewProber creates a prober. bin defaults to "ffprobe".
func NewProber(bin string, logger zerolog.Logger) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{
		bin:     bin,
		timeout: 30 * time.Second,
		logger:  logger.With().Str("component", "prober").Logger(),
	}
}

// Probe returns metadata for path. A missing local file yields
// models.ErrMediaNotFound; any other failure wraps models.ErrProbeFailed.
func (p *Prober) Probe(ctx context.Context, path string) (MediaInfo, error) {
	if !isRemote(path) {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
			return MediaInfo{}, fmt.Errorf("%s: %w", path, models.ErrMediaNotFound)
		}
		if err != nil {
			return MediaInfo{}, fmt.Errorf("%s: %v: %w", path, err, models.ErrMediaNotFound)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return MediaInfo{}, fmt.Errorf("%s: %s: %w", path, strings.TrimSpace(string(exitErr.Stderr)), models.ErrProbeFailed)
		}
		return MediaInfo{}, fmt.Errorf("%s: %v: %w", path, err, models.ErrProbeFailed)
	}

	info, err := ParseProbeOutput(output)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("%s: %w", path, err)
	}

	p.logger.Debug().
		Str("file", path).
		Float64("duration", info.Duration).
		Bool("video", info.HasVideo).
		Bool("audio", info.HasAudio).
		Msg("probe complete")
	return info, nil
}

// ProbeAll probes paths with bounded concurrency. Failed paths map to
// their error.
func (p *Prober) ProbeAll(ctx context.Context, paths []string, concurrency int) (map[string]MediaInfo, map[string]error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	type result struct {
		path string
		info MediaInfo
		err  error
	}
	resultCh := make(chan result, len(paths))
	sem := make(chan struct{}, concurrency)

	for _, path := range paths {
		go func(path string) {
			sem <- struct{}{}
			defer func() { <-sem }()
			info, err := p.Probe(ctx, path)
			resultCh <- result{path: path, info: info, err: err}
		}(path)
	}

	infos := make(map[string]MediaInfo, len(paths))
	errs := make(map[string]error)
	for range paths {
		r := <-resultCh
		if r.err != nil {
			errs[r.path] = r.err
			continue
		}
		infos[r.path] = r.info
	}
	return infos, errs
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType          string `json:"codec_type"`
		Width              int    `json:"width"`
		Height             int    `json:"height"`
		RFrameRate         string `json:"r_frame_rate"`
		AvgFrameRate       string `json:"avg_frame_rate"`
		DisplayAspectRatio string `json:"display_aspect_ratio"`
		FieldOrder         string `json:"field_order"`
		Duration           string `json:"duration"`
		Disposition        struct {
			AttachedPic int `json:"attached_pic"`
		} `json:"disposition"`
	} `json:"streams"`
}

// ParseProbeOutput decodes ffprobe's JSON output.
func ParseProbeOutput(data []byte) (MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return MediaInfo{}, fmt.Errorf("decode ffprobe output: %v: %w", err, models.ErrProbeFailed)
	}

	var info MediaInfo
	info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)

	for _, s := range out.Streams {
		streamDur, _ := strconv.ParseFloat(s.Duration, 64)
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
			if info.Duration == 0 {
				info.Duration = streamDur
			}
		case "video":
			if s.Disposition.AttachedPic == 1 || info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.VideoDuration = streamDur
			info.FPS = parseRatio(s.RFrameRate, '/')
			if info.FPS == 0 {
				info.FPS = parseRatio(s.AvgFrameRate, '/')
			}
			info.Aspect = parseRatio(s.DisplayAspectRatio, ':')
			if info.Aspect == 0 && s.Height > 0 {
				info.Aspect = float64(s.Width) / float64(s.Height)
			}
			switch s.FieldOrder {
			case "tt", "bb", "tb", "bt":
				info.Interlaced = true
			}
			if info.Duration == 0 {
				info.Duration = streamDur
			}
		}
	}

	if !info.HasAudio && !info.HasVideo {
		return MediaInfo{}, fmt.Errorf("no audio or video streams: %w", models.ErrProbeFailed)
	}
	if info.Duration <= 0 {
		return MediaInfo{}, fmt.Errorf("unknown duration: %w", models.ErrProbeFailed)
	}
	return info, nil
}

func parseRatio(v string, sep byte) float64 {
	i := strings.IndexByte(v, sep)
	if i < 0 {
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	num, err1 := strconv.ParseFloat(v[:i], 64)
	den, err2 := strconv.ParseFloat(v[i+1:], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func isRemote(path string) bool {
	i := strings.Index(path, "://")
	return i > 0 && !strings.ContainsAny(path[:i], `/\`)
}
