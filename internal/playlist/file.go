/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/lestrrat-go/strftime"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// DefaultPattern lays playlists out as <root>/<year>/<month>/<date>.json.
const DefaultPattern = "%Y/%m/%Y-%m-%d.json"

// FileStore keeps one JSON document per day below a channel root.
type FileStore struct {
	roots   map[string]string
	pattern *strftime.Strftime
	logger  zerolog.Logger
}

// NewFileStore creates a file store. roots maps channel ids to their
// playlist directories; pattern may contain strftime placeholders.
func NewFileStore(roots map[string]string, pattern string, logger zerolog.Logger) (*FileStore, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	p, err := strftime.New(pattern)
	if err != nil {
		return nil, fmt.Errorf("playlist path pattern %q: %w", pattern, err)
	}
	copied := make(map[string]string, len(roots))
	for id, root := range roots {
		copied[id] = root
	}
	return &FileStore{
		roots:   copied,
		pattern: p,
		logger:  logger.With().Str("component", "playlist_store").Logger(),
	}, nil
}

// Path returns the document path for a channel and date.
func (s *FileStore) Path(channelID string, date time.Time) (string, error) {
	root, ok := s.roots[channelID]
	if !ok {
		return "", fmt.Errorf("no playlist root for channel %q", channelID)
	}
	return filepath.Join(root, filepath.FromSlash(s.pattern.FormatString(date))), nil
}

// Load reads the document for a day.
func (s *FileStore) Load(ctx context.Context, channelID string, date time.Time) (models.PlaylistDay, error) {
	if err := ctx.Err(); err != nil {
		return models.PlaylistDay{}, err
	}
	path, err := s.Path(channelID, date)
	if err != nil {
		return models.PlaylistDay{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.PlaylistDay{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return models.PlaylistDay{}, fmt.Errorf("read playlist: %w", err)
	}

	day, err := Decode(data)
	if err != nil {
		return models.PlaylistDay{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := checkLoaded(day, channelID, date); err != nil {
		return models.PlaylistDay{}, err
	}

	s.logger.Debug().Str("channel", channelID).Str("path", path).Int("items", len(day.Program)).Msg("playlist loaded")
	return day, nil
}

// Save writes a day atomically.
func (s *FileStore) Save(ctx context.Context, day models.PlaylistDay) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckDocument(day); err != nil {
		return err
	}
	date, err := day.Day(time.UTC)
	if err != nil {
		return err
	}
	path, err := s.Path(day.Channel, date)
	if err != nil {
		return err
	}

	data, err := Encode(day)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create playlist dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending playlist file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending playlist file")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write playlist: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit playlist: %w", err)
	}

	s.logger.Info().Str("channel", day.Channel).Str("date", day.Date).Str("path", path).Msg("playlist saved")
	return nil
}

// Watch reports writes to documents below the channel root.
func (s *FileStore) Watch(ctx context.Context, channelID string, onChange func(date string)) error {
	root, ok := s.roots[channelID]
	if !ok {
		return fmt.Errorf("no playlist root for channel %q", channelID)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create playlist watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addTree(watcher, event.Name)
					continue
				}
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if date, ok := dateFromPath(event.Name); ok {
				onChange(date)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Str("channel", channelID).Msg("playlist watcher error")
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create playlist root: %w", err)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// dateFromPath extracts YYYY-MM-DD from a document file name.
func dateFromPath(path string) (string, bool) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if len(name) < len(models.DateLayout) {
		return "", false
	}
	candidate := name[len(name)-len(models.DateLayout):]
	if _, err := time.Parse(models.DateLayout, candidate); err != nil {
		return "", false
	}
	return candidate, true
}
