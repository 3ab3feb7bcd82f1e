/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package smartblock generates day playlists from a template and a pool of
// probed media.
package smartblock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// ErrEmptyTemplate indicates a template without slots.
var ErrEmptyTemplate = errors.New("template has no slots")

// unit is the resolution of the exact search, in seconds.
const unit = 0.1

// Generator builds PlaylistDays from templates.
type Generator struct {
	logger zerolog.Logger
}

// NewGenerator creates a playlist generator.
func NewGenerator(logger zerolog.Logger) *Generator {
	return &Generator{logger: logger.With().Str("component", "playlist_generator").Logger()}
}

// GenerateRequest describes one day to generate.
type GenerateRequest struct {
	Channel  string
	Date     string
	Template Template
	Pool     []models.MediaFile
	// Seed makes the output deterministic for a date. Nil seeds from the clock.
	Seed *int64
}

// candidate is a pool entry eligible for a slot.
type candidate struct {
	file  models.MediaFile
	units int
}

// Generate fills every slot of the template. It fails with
// *models.GeneratorUnsatisfiable when a slot cannot be filled.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (models.PlaylistDay, error) {
	if len(req.Template.Slots) == 0 {
		return models.PlaylistDay{}, ErrEmptyTemplate
	}

	rng := rand.New(rand.NewSource(seedFor(req.Seed, req.Channel, req.Date)))
	used := make(map[string]bool)
	day := models.PlaylistDay{Channel: req.Channel, Date: req.Date, Program: []models.PlayItem{}}
	var cursor float64

	for idx, slot := range req.Template.Slots {
		if err := ctx.Err(); err != nil {
			return models.PlaylistDay{}, err
		}

		candidates := filterPool(req.Pool, slot, used)
		if slot.Shuffle {
			rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
		}

		selected, total, err := selectSlot(candidates, slot)
		if err != nil {
			var unsat *models.GeneratorUnsatisfiable
			if errors.As(err, &unsat) {
				unsat.Index = idx
			}
			g.logger.Warn().Err(err).Str("channel", req.Channel).Str("date", req.Date).Msg("slot unsatisfiable")
			return models.PlaylistDay{}, err
		}

		for _, c := range selected {
			id, err := uuid.NewRandomFromReader(rng)
			if err != nil {
				return models.PlaylistDay{}, fmt.Errorf("generate uid: %w", err)
			}
			day.Program = append(day.Program, models.PlayItem{
				UID:      id.String(),
				Begin:    round3(cursor),
				Source:   c.file.Path,
				Duration: c.file.Duration,
				Category: c.file.Category,
				Title:    c.file.Title,
			})
			cursor += c.file.Duration
			used[c.file.Path] = true
		}

		g.logger.Debug().
			Str("slot", slot.Name).
			Int("items", len(selected)).
			Float64("target", float64(slot.Duration)).
			Float64("total", total).
			Msg("slot filled")
	}

	g.logger.Info().
		Str("channel", req.Channel).
		Str("date", req.Date).
		Int("items", len(day.Program)).
		Float64("length", cursor).
		Msg("playlist generated")
	return day, nil
}

// filterPool returns eligible pool entries sorted by path. Media already
// used earlier in the day is only reused when nothing else fits.
func filterPool(pool []models.MediaFile, slot Slot, used map[string]bool) []candidate {
	var fresh, reused []candidate
	for _, f := range pool {
		if f.Duration <= 0 {
			continue
		}
		if slot.Category != "" && !strings.EqualFold(f.Category, slot.Category) {
			continue
		}
		if len(slot.Folders) > 0 && !inFolders(f.Path, slot.Folders) {
			continue
		}
		c := candidate{file: f, units: int(math.Round(f.Duration / unit))}
		if used[f.Path] {
			reused = append(reused, c)
		} else {
			fresh = append(fresh, c)
		}
	}
	byPath := func(list []candidate) {
		sort.Slice(list, func(i, j int) bool { return list[i].file.Path < list[j].file.Path })
	}
	byPath(fresh)
	byPath(reused)
	return append(fresh, reused...)
}

func inFolders(path string, folders []string) bool {
	clean := filepath.Clean(path)
	for _, folder := range folders {
		folder = filepath.Clean(folder)
		if clean == folder || strings.HasPrefix(clean, folder+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// selectSlot picks candidates whose total lies in the slot's range: a
// greedy pass first, then an exact subset-sum search.
func selectSlot(candidates []candidate, slot Slot) ([]candidate, float64, error) {
	target := float64(slot.Duration)
	lo := math.Max(target-float64(slot.Tolerance), 0)
	hi := target + float64(slot.Tolerance)

	if sel, total := greedy(candidates, lo, hi); total >= lo && total <= hi {
		return sel, total, nil
	}

	sel, total, best := subsetSum(candidates, target, lo, hi)
	if sel != nil {
		return sel, total, nil
	}
	return nil, 0, &models.GeneratorUnsatisfiable{
		Slot:      slot.Name,
		Target:    target,
		Tolerance: float64(slot.Tolerance),
		Best:      best,
		Shortfall: math.Max(lo-best, 0),
	}
}

func greedy(candidates []candidate, lo, hi float64) ([]candidate, float64) {
	var sel []candidate
	var total float64
	for _, c := range candidates {
		if total >= lo {
			break
		}
		if total+c.file.Duration <= hi {
			sel = append(sel, c)
			total += c.file.Duration
		}
	}
	return sel, total
}

// subsetSum searches totals in 100ms units. It returns the selection
// closest to target or, when none fits, the best total not above hi.
func subsetSum(candidates []candidate, target, lo, hi float64) ([]candidate, float64, float64) {
	hiU := int(math.Floor(hi/unit + 1e-9))
	if hiU <= 0 {
		return nil, 0, 0
	}
	reach := make([]bool, hiU+1)
	via := make([]int32, hiU+1)
	reach[0] = true

	for i, c := range candidates {
		if c.units <= 0 || c.units > hiU {
			continue
		}
		for s := hiU; s >= c.units; s-- {
			if !reach[s] && reach[s-c.units] {
				reach[s] = true
				via[s] = int32(i)
			}
		}
	}

	// Try reachable sums ordered by distance from target until the exact
	// seconds (not just units) fall inside the range.
	targetU := int(math.Round(target / unit))
	loU := int(math.Ceil(lo/unit - 1e-9))
	try := func(s int) ([]candidate, float64, bool) {
		if s < loU-1 || s > hiU || s <= 0 || !reach[s] {
			return nil, 0, false
		}
		sel, total := rebuild(candidates, via, s)
		return sel, total, total >= lo && total <= hi
	}
	for d := 0; targetU-d >= loU-1 || targetU+d <= hiU; d++ {
		if sel, total, ok := try(targetU - d); ok {
			return sel, total, total
		}
		if d == 0 {
			continue
		}
		if sel, total, ok := try(targetU + d); ok {
			return sel, total, total
		}
	}

	best := 0.0
	for s := hiU; s > 0; s-- {
		if reach[s] {
			_, best = rebuild(candidates, via, s)
			break
		}
	}
	return nil, 0, best
}

func rebuild(candidates []candidate, via []int32, s int) ([]candidate, float64) {
	var idx []int
	for s > 0 {
		i := int(via[s])
		idx = append(idx, i)
		s -= candidates[i].units
	}
	sort.Ints(idx)
	sel := make([]candidate, 0, len(idx))
	var total float64
	for _, i := range idx {
		sel = append(sel, candidates[i])
		total += candidates[i].file.Duration
	}
	return sel, total
}

func seedFor(seed *int64, channel, date string) int64 {
	if seed == nil {
		return time.Now().UnixNano()
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(channel + "/" + date))
	return *seed ^ int64(h.Sum64())
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
