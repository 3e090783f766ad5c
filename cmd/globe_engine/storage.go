package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/geochirp/globe-engine/internal/config"
	"github.com/geochirp/globe-engine/internal/database"
	"github.com/geochirp/globe-engine/internal/storage"
	"github.com/geochirp/globe-engine/internal/storage/memory"
	pgstorage "github.com/geochirp/globe-engine/internal/storage/postgres"
	redisstorage "github.com/geochirp/globe-engine/internal/storage/redis"
	sqlitestorage "github.com/geochirp/globe-engine/internal/storage/sqlite"
	wsstorage "github.com/geochirp/globe-engine/internal/storage/websocket"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrUnknownStorage is returned for an unrecognised storage.type.
var ErrUnknownStorage = fmt.Errorf("unknown storage type")

// createStorageBackend builds the configured backend. The caller owns Init
// and Close.
func createStorageBackend(storageCfg config.StorageConfig, dbCfg config.DBConfig, logsDir string, start time.Time, logger *slog.Logger, zlog zerolog.Logger) (storage.Backend, error) {
	switch storageCfg.Type {
	case "postgres":
		fallback := filepath.Join(logsDir, fmt.Sprintf("%s_%s.db", AppName, start.Format("20060102_150405")))
		logger.Info("Postgres storage backend selected", "host", dbCfg.Host, "fallback", fallback)
		return pgstorage.New(pgstorage.Config{
			DB:           dbCfg,
			PollInterval: storageCfg.Postgres.PollInterval,
		}, database.NewManager(zlog, fallback), logger), nil

	case "sqlite":
		backend, err := sqlitestorage.New(storageCfg.SQLite, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend selected", "path", storageCfg.SQLite.Path)
		return backend, nil

	case "websocket":
		wsURL := httpToWS(storageCfg.Websocket.URL)
		logger.Info("WebSocket storage backend selected", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:    wsURL,
			Secret: storageCfg.Websocket.Secret,
		}, logger), nil

	case "redis":
		backend, err := redisstorage.New(redisstorage.Config{
			URL:       storageCfg.Redis.URL,
			Key:       storageCfg.Redis.Key,
			Channel:   storageCfg.Redis.Channel,
			Retention: storageCfg.Redis.Retention,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis backend: %w", err)
		}
		logger.Info("Redis storage backend selected", "key", storageCfg.Redis.Key)
		return backend, nil

	case "memory", "":
		logger.Info("Memory storage backend selected")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, storageCfg.Type)
	}
}

// gormDB returns the database behind a SQL backend, if any.
func gormDB(b storage.Backend) *gorm.DB {
	if g, ok := b.(interface{ DB() *gorm.DB }); ok {
		return g.DB()
	}
	return nil
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
