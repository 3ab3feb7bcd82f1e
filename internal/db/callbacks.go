/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

const startTimeKey = "playout:start_time"

// RegisterCallbacks records latency and errors of every CRUD operation.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		name     string
		register func(string, func(*gorm.DB)) error
		fn       func(*gorm.DB)
	}{
		{"telemetry:before_query", cb.Query().Before("gorm:query").Register, beforeCallback},
		{"telemetry:after_query", cb.Query().After("gorm:query").Register, afterCallback("query")},
		{"telemetry:before_create", cb.Create().Before("gorm:create").Register, beforeCallback},
		{"telemetry:after_create", cb.Create().After("gorm:create").Register, afterCallback("create")},
		{"telemetry:before_update", cb.Update().Before("gorm:update").Register, beforeCallback},
		{"telemetry:after_update", cb.Update().After("gorm:update").Register, afterCallback("update")},
		{"telemetry:before_delete", cb.Delete().Before("gorm:delete").Register, beforeCallback},
		{"telemetry:after_delete", cb.Delete().After("gorm:delete").Register, afterCallback("delete")},
	}
	for _, h := range hooks {
		if err := h.register(h.name, h.fn); err != nil {
			return err
		}
	}
	return nil
}

func beforeCallback(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func afterCallback(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())

		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, "query_error").Inc()
		}
	}
}

// UpdateConnectionMetrics updates connection pool metrics.
func UpdateConnectionMetrics(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
