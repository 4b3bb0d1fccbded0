// Package state persists and restores the complete run state, enabling
// pause/resume, crash recovery and forked runs.
package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "simtrader/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps tagged state blobs in a single sqlite database, one row
// per tag, each guarded by a sha256 checksum.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the state database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL keeps partially written saves recoverable after a crash.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS states (
		tag        TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		checksum   BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save writes a state blob under tag, replacing any previous blob.
func (s *SQLiteStore) Save(tag string, data []byte) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	checksum := sha256.Sum256(data)
	query := `INSERT OR REPLACE INTO states (tag, data, checksum, updated_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, tag, data, checksum[:], time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write state to db: %w", err)
	}

	return tx.Commit()
}

// Load reads the state blob stored under tag and verifies its checksum.
func (s *SQLiteStore) Load(tag string) ([]byte, error) {
	query := `SELECT data, checksum FROM states WHERE tag = ?`
	var data []byte
	var storedChecksum []byte
	err := s.db.QueryRow(query, tag).Scan(&data, &storedChecksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tag %q: %w", tag, apperrors.ErrStateNotFound)
		}
		return nil, fmt.Errorf("failed to read state from db: %w", err)
	}

	computed := sha256.Sum256(data)
	if len(storedChecksum) != len(computed) {
		return nil, fmt.Errorf("tag %q checksum length mismatch: %w", tag, apperrors.ErrStateCorrupted)
	}
	for i := range computed {
		if storedChecksum[i] != computed[i] {
			return nil, fmt.Errorf("tag %q: %w", tag, apperrors.ErrStateCorrupted)
		}
	}
	return data, nil
}

// Tags lists the saved tags, most recent first.
func (s *SQLiteStore) Tags() ([]string, error) {
	rows, err := s.db.Query(`SELECT tag FROM states ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
