/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Cache stores probe results keyed by path.
type Cache interface {
	Get(ctx context.Context, path string) (models.MediaFile, bool, error)
	Put(ctx context.Context, file models.MediaFile) error
}

// MemoryCache keeps probe results for the life of the process.
type MemoryCache struct {
	mu    sync.RWMutex
	files map[string]models.MediaFile
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{files: make(map[string]models.MediaFile)}
}

func (c *MemoryCache) Get(_ context.Context, path string) (models.MediaFile, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.files[path]
	return f, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, file models.MediaFile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[file.Path] = file
	return nil
}

// DBCache persists probe results in the media_files table.
type DBCache struct {
	db *gorm.DB
}

// NewDBCache creates a database backed cache.
func NewDBCache(db *gorm.DB) *DBCache {
	return &DBCache{db: db}
}

func (c *DBCache) Get(ctx context.Context, path string) (models.MediaFile, bool, error) {
	var f models.MediaFile
	err := c.db.WithContext(ctx).Where("path = ?", path).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.MediaFile{}, false, nil
	}
	if err != nil {
		return models.MediaFile{}, false, err
	}
	return f, true, nil
}

func (c *DBCache) Put(ctx context.Context, file models.MediaFile) error {
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&file).Error
}
