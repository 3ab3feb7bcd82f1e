/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/media"
	"github.com/friendsincode/grimnir_playout/internal/playlist"
)

// backends holds the persistence layer shared by every command.
type backends struct {
	store playlist.Store
	cache media.Cache
	db    *gorm.DB
}

func (b *backends) Close() {
	if b.db == nil {
		return
	}
	if err := db.Close(b.db); err != nil {
		logger.Warn().Err(err).Msg("failed to close database")
	}
}

// openBackends opens the playlist store for the configured backend and the
// media duration cache. The database is opened when playlists live there
// or a DSN is configured; otherwise durations are cached in memory.
func openBackends(ctx context.Context, channels []config.ChannelConfig) (*backends, error) {
	b := &backends{}

	if cfg.PlaylistBackend == config.PlaylistBackendDB || cfg.DatabaseEnabled() {
		database, err := db.Connect(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.Migrate(database); err != nil {
			_ = db.Close(database)
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		b.db = database
		b.cache = media.NewDBCache(database)
	} else {
		b.cache = media.NewMemoryCache()
	}

	switch cfg.PlaylistBackend {
	case config.PlaylistBackendDB:
		b.store = playlist.NewDBStore(b.db, logger)
	case config.PlaylistBackendS3:
		client, err := playlist.NewS3Client(ctx, playlist.S3Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.store = playlist.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix, logger)
	default:
		roots := make(map[string]string, len(channels))
		for _, ch := range channels {
			root := ch.PlaylistPath
			if root == "" {
				root = ch.StoragePath
			}
			roots[ch.ID] = root
		}
		store, err := playlist.NewFileStore(roots, "", logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.store = store
	}

	logger.Debug().
		Str("playlist_backend", string(cfg.PlaylistBackend)).
		Bool("database", b.db != nil).
		Msg("storage ready")
	return b, nil
}
