/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// PlaylistBackend selects where day playlists are persisted.
type PlaylistBackend string

const (
	PlaylistBackendFile PlaylistBackend = "file"
	PlaylistBackendDB   PlaylistBackend = "db"
	PlaylistBackendS3   PlaylistBackend = "s3"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment     string
	InstanceID      string
	ChannelsFile    string
	PlaylistBackend PlaylistBackend
	DBBackend       DatabaseBackend
	DBDSN           string
	FFmpegBin       string
	FFprobeBin      string
	MetricsBind     string
	LockDir         string

	// S3 playlist storage
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Prefix          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Status mirrors
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	StatusTTL       time.Duration
	NATSURL         string
	NATSToken       string
	NATSSubjectRoot string
}

// Load reads environment variables (and an optional .env file), applies
// defaults, and validates the result.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("PLAYOUT_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:     getEnvAny([]string{"PLAYOUT_ENV", "GRIMNIR_ENV"}, "development"),
		InstanceID:      getEnvAny([]string{"PLAYOUT_INSTANCE_ID", "GRIMNIR_INSTANCE_ID"}, hostname()),
		ChannelsFile:    getEnv("PLAYOUT_CHANNELS_FILE", "channels.yaml"),
		PlaylistBackend: PlaylistBackend(getEnv("PLAYOUT_PLAYLIST_BACKEND", string(PlaylistBackendFile))),
		DBBackend:       DatabaseBackend(getEnvAny([]string{"PLAYOUT_DB_BACKEND", "GRIMNIR_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:           getEnvAny([]string{"PLAYOUT_DB_DSN", "GRIMNIR_DB_DSN"}, ""),
		FFmpegBin:       getEnv("PLAYOUT_FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:      getEnv("PLAYOUT_FFPROBE_BIN", "ffprobe"),
		MetricsBind:     getEnvAny([]string{"PLAYOUT_METRICS_BIND", "GRIMNIR_METRICS_BIND"}, "127.0.0.1:9000"),
		LockDir:         getEnv("PLAYOUT_LOCK_DIR", os.TempDir()),

		S3AccessKeyID:     getEnvAny([]string{"PLAYOUT_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"PLAYOUT_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"PLAYOUT_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"PLAYOUT_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Prefix:          getEnv("PLAYOUT_S3_PREFIX", "playlists"),
		S3Endpoint:        getEnvAny([]string{"PLAYOUT_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"PLAYOUT_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		TracingEnabled:    getEnvBoolAny([]string{"PLAYOUT_TRACING_ENABLED", "GRIMNIR_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"PLAYOUT_OTLP_ENDPOINT", "GRIMNIR_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"PLAYOUT_TRACING_SAMPLE_RATE", "GRIMNIR_TRACING_SAMPLE_RATE"}, 1.0),

		RedisAddr:       getEnvAny([]string{"PLAYOUT_REDIS_ADDR", "GRIMNIR_REDIS_ADDR"}, ""),
		RedisPassword:   getEnvAny([]string{"PLAYOUT_REDIS_PASSWORD", "GRIMNIR_REDIS_PASSWORD"}, ""),
		RedisDB:         getEnvIntAny([]string{"PLAYOUT_REDIS_DB", "GRIMNIR_REDIS_DB"}, 0),
		StatusTTL:       time.Duration(getEnvIntAny([]string{"PLAYOUT_STATUS_TTL_SECONDS"}, 30)) * time.Second,
		NATSURL:         getEnvAny([]string{"PLAYOUT_NATS_URL", "NATS_URL"}, ""),
		NATSToken:       getEnv("PLAYOUT_NATS_TOKEN", ""),
		NATSSubjectRoot: getEnv("PLAYOUT_NATS_SUBJECT_ROOT", "playout"),
	}

	switch cfg.PlaylistBackend {
	case PlaylistBackendFile, PlaylistBackendDB, PlaylistBackendS3:
	default:
		return nil, fmt.Errorf("unsupported playlist backend %q", cfg.PlaylistBackend)
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.PlaylistBackend == PlaylistBackendDB && cfg.DBDSN == "" {
		return nil, fmt.Errorf("PLAYOUT_DB_DSN must be provided for the db playlist backend")
	}

	if cfg.PlaylistBackend == PlaylistBackendS3 && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("PLAYOUT_S3_BUCKET must be provided for the s3 playlist backend")
	}

	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("PLAYOUT_TRACING_SAMPLE_RATE must be between 0 and 1")
	}

	return cfg, nil
}

// DatabaseEnabled reports whether a database connection is configured.
func (c *Config) DatabaseEnabled() bool {
	return c != nil && c.DBDSN != ""
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "playoutd"
	}
	return name
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
