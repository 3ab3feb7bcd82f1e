/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// DBStore keeps playlist documents in a SQL table. The document column
// holds the exact serialized form so reads return what was written.
type DBStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewDBStore creates a database-backed store.
func NewDBStore(db *gorm.DB, logger zerolog.Logger) *DBStore {
	return &DBStore{db: db, logger: logger.With().Str("component", "playlist_store").Logger()}
}

// Load reads the document for a day.
func (s *DBStore) Load(ctx context.Context, channelID string, date time.Time) (models.PlaylistDay, error) {
	var doc models.PlaylistDocument
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND date = ?", channelID, date.Format(models.DateLayout)).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PlaylistDay{}, fmt.Errorf("%s/%s: %w", channelID, date.Format(models.DateLayout), ErrNotFound)
	}
	if err != nil {
		return models.PlaylistDay{}, fmt.Errorf("query playlist: %w", err)
	}

	day, err := Decode([]byte(doc.Document))
	if err != nil {
		return models.PlaylistDay{}, err
	}
	if err := checkLoaded(day, channelID, date); err != nil {
		return models.PlaylistDay{}, err
	}
	return day, nil
}

// Save upserts the document for a day.
func (s *DBStore) Save(ctx context.Context, day models.PlaylistDay) error {
	if err := CheckDocument(day); err != nil {
		return err
	}
	data, err := Encode(day)
	if err != nil {
		return err
	}

	doc := models.PlaylistDocument{
		ChannelID: day.Channel,
		Date:      day.Date,
		Document:  string(data),
		Items:     len(day.Program),
		Length:    day.Length(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "items", "length", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("save playlist: %w", err)
	}

	s.logger.Info().Str("channel", day.Channel).Str("date", day.Date).Int("items", len(day.Program)).Msg("playlist saved")
	return nil
}
