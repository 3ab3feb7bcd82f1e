/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Link labels a custom filter uses to mark its video and audio parts.
// A filter without either label is applied to video, or to audio on
// audio-only channels.
const (
	customVideoIn  = "c_v_in"
	customVideoOut = "c_v_out"
	customAudioIn  = "c_a_in"
	customAudioOut = "c_a_out"
)

var (
	filterNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+(@[A-Za-z0-9_]+)?$`)
	allowedLabels     = map[string]bool{
		customVideoIn: true, customVideoOut: true,
		customAudioIn: true, customAudioOut: true,
	}
)

// ValidateCustomFilter checks the syntax of a raw filter string without
// running ffmpeg. It accepts up to one linear video chain and one linear
// audio chain separated by ';'.
func ValidateCustomFilter(filter string) error {
	_, _, err := splitCustomFilter(filter)
	return err
}

// splitCustomFilter validates filter and returns its video and audio
// filter lists with link labels removed.
func splitCustomFilter(filter string) (video, audio string, err error) {
	fail := func(reason string, args ...any) (string, string, error) {
		return "", "", &models.FilterBuildError{Filter: filter, Reason: fmt.Sprintf(reason, args...)}
	}

	trimmed := strings.TrimSpace(filter)
	if trimmed == "" {
		return "", "", nil
	}
	if strings.ContainsAny(trimmed, "\x00\r\n") {
		return fail("contains control characters")
	}

	chains, err := splitTopLevel(trimmed, ';')
	if err != nil {
		return fail("%v", err)
	}
	if len(chains) > 2 {
		return fail("at most one video and one audio chain are supported")
	}

	for _, chain := range chains {
		body, in, out, err := stripLabels(strings.TrimSpace(chain))
		if err != nil {
			return fail("%v", err)
		}
		if err := checkChain(body); err != nil {
			return fail("%v", err)
		}

		isAudio := out == customAudioOut || in == customAudioIn
		isVideo := out == customVideoOut || in == customVideoIn
		switch {
		case isAudio && isVideo:
			return fail("chain mixes video and audio labels")
		case isAudio:
			if audio != "" {
				return fail("more than one audio chain")
			}
			audio = body
		case isVideo:
			if video != "" {
				return fail("more than one video chain")
			}
			video = body
		default:
			if len(chains) > 1 {
				return fail("chains must be labelled [%s] or [%s]", customVideoOut, customAudioOut)
			}
			video = body
		}
	}
	return video, audio, nil
}

// stripLabels removes a leading input label and a trailing output label.
func stripLabels(chain string) (body, in, out string, err error) {
	body = chain
	if strings.HasPrefix(body, "[") {
		end := strings.IndexByte(body, ']')
		if end < 0 {
			return "", "", "", fmt.Errorf("unterminated link label")
		}
		in = body[1:end]
		body = body[end+1:]
	}
	if strings.HasSuffix(body, "]") {
		start := strings.LastIndexByte(body, '[')
		if start < 0 {
			return "", "", "", fmt.Errorf("unbalanced ']'")
		}
		out = body[start+1 : len(body)-1]
		body = body[:start]
	}
	for _, label := range []string{in, out} {
		if label != "" && !allowedLabels[label] {
			return "", "", "", fmt.Errorf("unsupported link label [%s]", label)
		}
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", "", "", fmt.Errorf("empty filter chain")
	}
	return body, in, out, nil
}

func checkChain(chain string) error {
	filters, err := splitTopLevel(chain, ',')
	if err != nil {
		return err
	}
	for _, f := range filters {
		f = strings.TrimSpace(f)
		if f == "" {
			return fmt.Errorf("empty filter in chain %q", chain)
		}
		if strings.ContainsAny(f, "[]") && !quotedBrackets(f) {
			return fmt.Errorf("link labels are only allowed at chain ends")
		}
		name := f
		if i := strings.IndexByte(f, '='); i >= 0 {
			name = f[:i]
		}
		if !filterNamePattern.MatchString(name) {
			return fmt.Errorf("invalid filter name %q", name)
		}
	}
	return nil
}

// quotedBrackets reports whether every bracket in f sits inside quotes.
func quotedBrackets(f string) bool {
	inQuote := false
	for i := 0; i < len(f); i++ {
		switch c := f[i]; {
		case c == '\\':
			i++
		case c == '\'':
			inQuote = !inQuote
		case (c == '[' || c == ']') && !inQuote:
			return false
		}
	}
	return true
}

// splitTopLevel splits s on sep outside quotes and escapes.
func splitTopLevel(s string, sep byte) ([]string, error) {
	var parts []string
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\':
			i++
		case c == '\'':
			inQuote = !inQuote
		case c == sep && !inQuote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unbalanced quote")
	}
	return append(parts, s[start:]), nil
}

// graphInput carries everything the decode filter graph depends on.
type graphInput struct {
	info     MediaInfo
	seek     float64
	length   float64
	trimmed  bool
	ingest   bool
	logo     bool
	videoIn  int
	audioIn  int
	silent   bool
	custom   []string
	category string
}

// filterGraph assembles the -filter_complex graph and its output maps.
// Video: deinterlace, pad, fps, scale, setdar, tpad, fade, logo overlay,
// custom. Audio: source, apad, fade, loudnorm, volume, custom.
func filterGraph(p config.ProcessingConfig, in graphInput) ([]string, error) {
	var customVideo, customAudio []string
	for _, raw := range in.custom {
		v, a, err := splitCustomFilter(raw)
		if err != nil {
			return nil, err
		}
		if p.AudioOnly && v != "" && a == "" && !strings.Contains(raw, "[") {
			a, v = v, ""
		}
		if v != "" {
			customVideo = append(customVideo, v)
		}
		if a != "" {
			customAudio = append(customAudio, a)
		}
	}

	var graph []string
	var maps []string

	if !p.AudioOnly {
		graph = append(graph, videoChain(p, in, customVideo)...)
		maps = append(maps, "-map", "[vout0]")
	}
	graph = append(graph, audioChain(p, in, customAudio))
	maps = append(maps, "-map", "[aout0]")

	return append([]string{"-filter_complex", strings.Join(graph, ";")}, maps...), nil
}

func videoChain(p config.ProcessingConfig, in graphInput, custom []string) []string {
	var vf []string
	info := in.info
	targetAspect := p.Aspect
	if targetAspect == 0 && p.Height > 0 {
		targetAspect = float64(p.Width) / float64(p.Height)
	}

	if info.Interlaced {
		vf = append(vf, "yadif=0:-1:0")
	}
	if info.Aspect > 0 && math.Abs(info.Aspect-targetAspect) > 0.03 {
		if info.Aspect < targetAspect {
			vf = append(vf, fmt.Sprintf("pad='ih*%s:ih:(ow-iw)/2:(oh-ih)/2'", ffnum(targetAspect)))
		} else {
			vf = append(vf, fmt.Sprintf("pad='iw:iw/%s:(ow-iw)/2:(oh-ih)/2'", ffnum(targetAspect)))
		}
	}
	if in.ingest || info.FPS == 0 || math.Abs(info.FPS-p.FPS) > 0.01 {
		vf = append(vf, "fps="+ffnum(p.FPS))
	}
	if in.ingest || info.Width != p.Width || info.Height != p.Height {
		vf = append(vf, fmt.Sprintf("scale=%d:%d", p.Width, p.Height))
	}
	if in.ingest || math.Abs(info.Aspect-targetAspect) > 0.01 {
		vf = append(vf, "setdar=dar="+ffnum(targetAspect))
	}
	if !in.ingest && info.VideoDuration > 0 {
		available := info.VideoDuration - in.seek
		if missing := in.length - available; missing > 0.1 {
			vf = append(vf, "tpad=stop_mode=add:stop_duration="+ffnum(missing))
		}
	}
	if p.FadeDuration > 0 {
		if in.seek > 0 || in.ingest {
			vf = append(vf, fmt.Sprintf("fade=in:st=0:d=%s", ffnum(p.FadeDuration)))
		}
		if in.trimmed && in.length > p.FadeDuration {
			vf = append(vf, fmt.Sprintf("fade=out:st=%s:d=%s", ffnum(in.length-p.FadeDuration), ffnum(p.FadeDuration)))
		}
	}
	if len(vf) == 0 {
		vf = append(vf, "null")
	}

	tail := append([]string(nil), custom...)
	if in.logo && p.Logo.Path != "" && in.category != models.CategoryAdvertisement {
		logo := fmt.Sprintf("movie=%s:loop=0,setpts=N/(FRAME_RATE*TB),format=rgba,colorchannelmixer=aa=%s",
			escapeFilterPath(p.Logo.Path), ffnum(p.Logo.Opacity))
		if p.Logo.Scale != "" {
			logo += ",scale=" + p.Logo.Scale
		}
		overlay := "overlay=" + p.Logo.Position + ":shortest=1"
		return []string{
			fmt.Sprintf("[%d:v:0]", in.videoIn) + strings.Join(vf, ",") + "[v]",
			logo + "[l]",
			"[v][l]" + strings.Join(append([]string{overlay}, tail...), ",") + "[vout0]",
		}
	}
	return []string{fmt.Sprintf("[%d:v:0]", in.videoIn) + strings.Join(append(vf, tail...), ",") + "[vout0]"}
}

func audioChain(p config.ProcessingConfig, in graphInput, custom []string) string {
	var src string
	var af []string
	if in.silent {
		src = fmt.Sprintf("aevalsrc=0:channel_layout=stereo:duration=%s:sample_rate=48000,", ffnum(in.length))
	} else {
		src = fmt.Sprintf("[%d:a:0]", in.audioIn)
		if !in.ingest {
			af = append(af, "apad=whole_dur="+ffnum(in.length))
		}
	}

	if p.FadeDuration > 0 {
		if in.seek > 0 || in.ingest {
			af = append(af, fmt.Sprintf("afade=in:st=0:d=%s", ffnum(p.FadeDuration)))
		}
		if in.trimmed && in.length > p.FadeDuration {
			af = append(af, fmt.Sprintf("afade=out:st=%s:d=%s", ffnum(in.length-p.FadeDuration), ffnum(p.FadeDuration)))
		}
	}
	if p.Loudnorm {
		af = append(af, fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=%s", ffnum(p.LoudnessTarget), ffnum(p.TruePeak), ffnum(p.LoudnessRange)))
	}
	if p.Volume > 0 && p.Volume != 1 {
		af = append(af, "volume="+ffnum(p.Volume))
	}
	af = append(af, custom...)
	if len(af) == 0 {
		af = append(af, "anull")
	}
	return src + strings.Join(af, ",") + "[aout0]"
}

// ffnum formats a float without trailing zeros.
func ffnum(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}

// escapeFilterPath escapes a path for use as a filter option value.
func escapeFilterPath(path string) string {
	r := strings.NewReplacer(`\`, `\\\\`, `:`, `\\:`, `'`, `\\\'`, `,`, `\,`, `;`, `\;`, `[`, `\[`, `]`, `\]`)
	return r.Replace(path)
}
