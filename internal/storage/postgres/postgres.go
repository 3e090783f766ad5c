// Package postgres implements storage.Backend on PostgreSQL. When the server
// is unreachable at startup it falls back to a local SQLite file so composed
// messages are not lost.
package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/geochirp/globe-engine/internal/config"
	"github.com/geochirp/globe-engine/internal/database"
	gormstorage "github.com/geochirp/globe-engine/internal/storage/gorm"
	"github.com/geochirp/globe-engine/internal/storage"
)

// Config holds configuration for the Postgres storage backend.
type Config struct {
	DB           config.DBConfig
	PollInterval time.Duration
}

// Backend wraps the GORM backend with a managed Postgres connection.
type Backend struct {
	*gormstorage.Backend
	cfg     Config
	manager *database.Manager
	log     *slog.Logger
}

var _ storage.Backend = (*Backend)(nil)

// New creates a new Postgres storage backend. The connection is opened by Init.
func New(cfg Config, manager *database.Manager, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:     cfg,
		manager: manager,
		log:     logger,
	}
}

// Init connects, migrates the schema and starts the embedded GORM backend.
func (b *Backend) Init() error {
	if err := b.manager.Connect(b.cfg.DB); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if b.manager.Fallback {
		b.log.Warn("postgres unavailable, storing messages in local sqlite", "path", b.manager.SqlitePath)
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:           b.manager.DB,
		Logger:       b.log,
		PollInterval: b.cfg.PollInterval,
	})
	return b.Backend.Init()
}

// Close stops the GORM backend and releases the connection pool.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	err := b.Backend.Close()
	if cerr := b.manager.Close(); err == nil {
		err = cerr
	}
	return err
}

// Local reports whether the backend fell back to SQLite.
func (b *Backend) Local() bool {
	return b.manager.Fallback
}
