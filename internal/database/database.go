// Package database opens the gorm connections used by the SQL storage
// backends and the engine sample sink.
package database

import (
	"database/sql"
	"fmt"

	"github.com/geochirp/globe-engine/internal/config"
	"github.com/geochirp/globe-engine/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	createBatchSize  = 1000
	postgresMaxConns = 10
)

var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA journal_mode = WAL;",
	"PRAGMA synchronous = NORMAL;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
}

// Manager holds one connection, Postgres when reachable and SQLite otherwise.
type Manager struct {
	DB      *gorm.DB
	IsValid bool
	// Fallback is set when Connect had to use the SQLite file.
	Fallback   bool
	SqlitePath string
	Logger     zerolog.Logger

	pool *sql.DB
}

// NewManager creates a manager. sqlitePath is the fallback file used when
// Postgres is unreachable; empty means in memory.
func NewManager(log zerolog.Logger, sqlitePath string) *Manager {
	return &Manager{SqlitePath: sqlitePath, Logger: log}
}

// Connect opens Postgres and falls back to SQLite when it cannot be reached.
func (m *Manager) Connect(cfg config.DBConfig) error {
	m.IsValid = false

	db, pool, err := pingPostgres(cfg)
	if err == nil {
		pool.SetMaxOpenConns(postgresMaxConns)
		m.use(db, pool, false)
		m.Logger.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Connected to database")
		return nil
	}
	m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")

	if db, err = OpenSqlite(m.SqlitePath); err != nil {
		return fmt.Errorf("failed to open local SQLite DB: %w", err)
	}
	if pool, err = db.DB(); err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	m.use(db, pool, true)
	m.Logger.Info().Str("path", m.SqlitePath).Msg("Using local SQLite DB")
	return nil
}

func (m *Manager) use(db *gorm.DB, pool *sql.DB, fallback bool) {
	m.DB, m.pool = db, pool
	m.Fallback = fallback
	m.IsValid = true
}

func pingPostgres(cfg config.DBConfig) (*gorm.DB, *sql.DB, error) {
	db, err := OpenPostgres(cfg)
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(); err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	return db, pool, nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	if m.pool == nil {
		return nil
	}
	m.IsValid = false
	return m.pool.Close()
}

// Migrate creates or updates every table in model.DatabaseModels.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func gormConfig(prepare bool) *gorm.Config {
	return &gorm.Config{
		PrepareStmt:            prepare,
		SkipDefaultTransaction: true,
		CreateBatchSize:        createBatchSize,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

// OpenPostgres opens (but does not ping) the configured Postgres database.
func OpenPostgres(cfg config.DBConfig) (*gorm.DB, error) {
	dialector := postgres.New(postgres.Config{DSN: cfg.DSN(), PreferSimpleProtocol: true})
	return gorm.Open(dialector, gormConfig(false))
}

// OpenSqlite opens the SQLite file at path, or a private in-memory database
// when path is empty.
func OpenSqlite(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(true))
	if err != nil {
		return nil, err
	}

	if path == "" {
		// one connection, or each pooled connection gets its own empty database
		pool, err := db.DB()
		if err != nil {
			return nil, err
		}
		pool.SetMaxOpenConns(1)
	}

	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting %q: %w", pragma, err)
		}
	}
	return db, nil
}
