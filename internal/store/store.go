// Package store implements the Metadata Store Adapter (spec.md §4,
// "Metadata Store Adapter: Transactional interface over a relational
// store"): a Postgres-backed repository for cameras, streams,
// recordings, recording schedules and events, with one high-level
// operation mapping to exactly one transaction (spec.md §5).
//
// The connection-pool setup below is grounded on
// frameworks/pkg/database's Connect (Livepeer-FrameWorks-monorepo).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// Config carries the subset of config.StoreConfig the store needs,
// kept separate so this package has no dependency on internal/config.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store wraps a *sql.DB with the engine's repositories.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Connect opens the database, verifies connectivity, and applies the
// connection-pool settings from cfg.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	logger := logging.GetLogger("store")
	logger.WithFields(logging.Fields{
		"max_open_conns":    cfg.MaxOpenConns,
		"max_idle_conns":    cfg.MaxIdleConns,
		"conn_max_lifetime": cfg.ConnMaxLifetime,
	}).Info("metadata store connected")

	return &Store{db: db, logger: logger}, nil
}

// New wraps an already-open *sql.DB (used by unit tests with sqlmock).
func New(db *sql.DB) *Store {
	return &Store{db: db, logger: logging.GetLogger("store")}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a single transaction, committing on success and
// rolling back on any error returned by fn or by Commit — the "each
// high-level operation maps to exactly one transaction" rule (§5).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
