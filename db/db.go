// ABOUTME: Database connection management and initialization
// ABOUTME: Handles opening SQLite database with WAL mode and the transactional Store wrapper
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrClientNotFound   = errors.New("client not found")
	ErrActivityNotFound = errors.New("activity not found")
	ErrVersionConflict  = errors.New("version conflict")
)

func OpenDatabase(path string) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// Configure connection pool for SQLite (avoid database locked errors)
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store groups the repositories over one connection or transaction.
type Store struct {
	db *sql.DB

	Clients     *ClientRepository
	Activities  *ActivityRepository
	Completions *CompletionRepository
	SyncStates  *SyncStateRepository
}

// NewStore wires every repository to the given database.
func NewStore(database *sql.DB) *Store {
	s := newStore(database)
	s.db = database
	return s
}

func newStore(q querier) *Store {
	return &Store{
		Clients:     &ClientRepository{q: q},
		Activities:  &ActivityRepository{q: q},
		Completions: &CompletionRepository{q: q},
		SyncStates:  &SyncStateRepository{q: q},
	}
}

// InTx runs fn against a Store bound to a single transaction.
// Nested calls reuse the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(newStore(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
