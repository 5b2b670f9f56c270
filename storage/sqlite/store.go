// Package sqlite implements the storage contracts on SQLite: the persisted
// event queue, the remote payload cache and the preference store share one
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the Store.
type Config struct {
	// DataSourceName is the SQLite connection string, a file path or ":memory:".
	DataSourceName string

	// EnableWAL appends _journal_mode=WAL to file databases.
	EnableWAL bool

	// Logger is optional; the default logger is used when nil.
	Logger *logging.Logger

	// SkipMigrations leaves the schema untouched. Used with pre-provisioned
	// or mocked databases.
	SkipMigrations bool

	MaxOpenConns    int           // Default: 4, forced to 1 for in-memory databases
	MaxIdleConns    int           // Default: 2
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if isMemoryDSN(c.DataSourceName) {
		// Each connection to :memory: is a separate database.
		c.MaxOpenConns = 1
		c.MaxIdleConns = 1
		c.ConnMaxLifetime = 0
		c.ConnMaxIdleTime = 0
		return
	}
	if c.EnableWAL && c.DataSourceName != "" && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + "_journal_mode=WAL"
	}
}

// DefaultConfig returns a Config with WAL enabled for dataSourceName.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store owns the database handle behind the three storage views.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger

	events      *EventQueue
	payloads    *PayloadStore
	preferences *Preferences
}

// NewWithDataSource opens dataSourceName with DefaultConfig.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// New opens the database described by config and migrates it.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.OrDefault(config.Logger).WithComponent("sqlite-store")
	logger.Debug("opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store, err := NewWithDB(db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an already open database. The Store takes ownership of db.
func NewWithDB(db *sql.DB, config *Config) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if config == nil {
		config = &Config{}
	}

	if !config.SkipMigrations {
		if err := migrateUp(db); err != nil {
			return nil, fmt.Errorf("failed to setup database schema: %w", err)
		}
	}

	s := &Store{
		db:     db,
		logger: logging.OrDefault(config.Logger).WithComponent("sqlite-store"),
	}
	s.events = &EventQueue{store: s}
	s.payloads = &PayloadStore{store: s}
	s.preferences = &Preferences{store: s}
	return s, nil
}

// Events returns the persisted event queue.
func (s *Store) Events() *EventQueue { return s.events }

// Payloads returns the remote payload cache.
func (s *Store) Payloads() *PayloadStore { return s.payloads }

// Preferences returns the key-value preference store.
func (s *Store) Preferences() *Preferences { return s.preferences }

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats returns database connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

func (s *Store) checkOpen(op syncErrors.Operation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncErrors.NewStorageError(op, ErrStoreClosed)
	}
	return nil
}

// withTx runs fn in a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, op syncErrors.Operation, fn func(tx *sql.Tx) error) error {
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
		}
		return syncErrors.NewStorageError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return syncErrors.NewStorageError(op, err)
	}
	return nil
}

// placeholders returns "?,?,...,?" with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
