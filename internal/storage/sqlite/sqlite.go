// Package sqlitestorage implements the storage.Backend interface on a SQLite
// file. It wraps the GORM backend via composition; the only SQLite-specific
// concern is opening and closing the database file.
package sqlitestorage

import (
	"fmt"
	"log/slog"

	"github.com/geochirp/globe-engine/internal/config"
	"github.com/geochirp/globe-engine/internal/database"
	gormstorage "github.com/geochirp/globe-engine/internal/storage/gorm"
	"github.com/geochirp/globe-engine/internal/storage"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	path string
}

var _ storage.Backend = (*Backend)(nil)

// New opens the SQLite database at cfg.Path. An empty path keeps the
// database in memory.
func New(cfg config.SQLiteConfig, logger *slog.Logger) (*Backend, error) {
	db, err := database.OpenSqlite(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:           db,
			Logger:       logger,
			PollInterval: cfg.PollInterval,
		}),
		path: cfg.Path,
	}, nil
}

// Close stops the GORM backend and closes the database file.
func (b *Backend) Close() error {
	err := b.Backend.Close()
	sqlDB, dbErr := b.DB().DB()
	if dbErr != nil {
		return dbErr
	}
	if cerr := sqlDB.Close(); err == nil {
		err = cerr
	}
	return err
}

// Path returns the database file path.
func (b *Backend) Path() string {
	return b.path
}
