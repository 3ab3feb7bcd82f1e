/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := applySQLitePragmas(database); err != nil {
		return err
	}

	return database.AutoMigrate(
		&models.PlaylistDocument{},
		&models.MediaFile{},
	)
}

// applySQLitePragmas lets status readers run while a playlist is saved.
func applySQLitePragmas(database *gorm.DB) error {
	if database.Dialector.Name() != "sqlite" {
		return nil
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := database.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
