/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media scans media folders and caches probe results so the
// playlist generator can pick from a known pool.
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/mediaengine"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Prober probes many files at once.
type Prober interface {
	ProbeAll(ctx context.Context, paths []string, concurrency int) (map[string]mediaengine.MediaInfo, map[string]error)
}

// ScanResult summarizes one library scan.
type ScanResult struct {
	Files    []models.MediaFile
	Total    int
	Cached   int
	Probed   int
	Errors   int
	Duration time.Duration
}

// Library is a set of media folders.
type Library struct {
	folders     []string
	extensions  map[string]bool
	prober      Prober
	cache       Cache
	concurrency int
	logger      zerolog.Logger
}

// NewLibrary creates a library over folders. Only files with one of the
// given extensions are considered.
func NewLibrary(folders, extensions []string, prober Prober, cache Cache, logger zerolog.Logger) *Library {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Library{
		folders:     folders,
		extensions:  exts,
		prober:      prober,
		cache:       cache,
		concurrency: 4,
		logger:      logger.With().Str("component", "media_library").Logger(),
	}
}

// Scan walks every folder and returns the probed pool. Files whose size
// and modification time match the cache are not probed again.
func (l *Library) Scan(ctx context.Context) (*ScanResult, error) {
	start := time.Now()
	result := &ScanResult{}

	var pending []models.MediaFile
	for _, root := range l.folders {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("error accessing path")
				result.Errors++
				if d != nil && d.IsDir() && path != root {
					return fs.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !l.isMediaFile(d.Name()) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				result.Errors++
				return nil
			}
			result.Total++

			file := models.MediaFile{
				Path:     path,
				Category: categoryOf(root, path),
				Title:    strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
				Size:     info.Size(),
				ModTime:  info.ModTime().UTC(),
			}

			cached, ok, err := l.cache.Get(ctx, path)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("media cache lookup failed")
			}
			if ok && cached.Size == file.Size && cached.ModTime.Equal(file.ModTime) {
				result.Files = append(result.Files, cached)
				result.Cached++
				return nil
			}
			pending = append(pending, file)
			return nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	if len(pending) > 0 {
		paths := make([]string, len(pending))
		for i, f := range pending {
			paths[i] = f.Path
		}
		infos, errs := l.prober.ProbeAll(ctx, paths, l.concurrency)
		for _, f := range pending {
			if err, failed := errs[f.Path]; failed {
				l.logger.Warn().Err(err).Str("path", f.Path).Msg("probe failed, skipping")
				result.Errors++
				continue
			}
			info := infos[f.Path]
			f.Duration = info.Duration
			f.HasAudio = info.HasAudio
			f.HasVideo = info.HasVideo
			f.Interlaced = info.Interlaced
			if err := l.cache.Put(ctx, f); err != nil {
				l.logger.Warn().Err(err).Str("path", f.Path).Msg("media cache store failed")
			}
			result.Files = append(result.Files, f)
			result.Probed++
		}
	}

	sort.Slice(result.Files, func(i, j int) bool { return result.Files[i].Path < result.Files[j].Path })
	result.Duration = time.Since(start)

	l.logger.Info().
		Int("total_files", result.Total).
		Int("cached", result.Cached).
		Int("probed", result.Probed).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("media scan complete")

	return result, nil
}

func (l *Library) isMediaFile(name string) bool {
	return l.extensions[strings.ToLower(filepath.Ext(name))]
}

// categoryOf is the first directory below root, or empty for files
// directly in root.
func categoryOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return ""
	}
	return strings.SplitN(filepath.ToSlash(dir), "/", 2)[0]
}
