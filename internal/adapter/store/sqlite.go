package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"forge-ai/internal/domain"
)

// SQLiteSessionStore implements domain.SessionStore using SQLite.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore opens (or creates) a SQLite database at dbPath and
// runs the schema migration.
func NewSQLiteSessionStore(dbPath string) (*SQLiteSessionStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SQLiteSessionStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			messages   TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}

// Save upserts a session record.
func (s *SQLiteSessionStore) Save(ctx context.Context, rec domain.SessionRecord) error {
	msgJSON, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			messages   = excluded.messages,
			updated_at = excluded.updated_at`,
		rec.ID, string(msgJSON),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	return nil
}

// Load reads a session record by id.
func (s *SQLiteSessionStore) Load(ctx context.Context, id string) (*domain.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, messages, created_at, updated_at FROM sessions WHERE id = ?", id,
	)

	var rec domain.SessionRecord
	var msgJSON, createdAt, updatedAt string
	if err := row.Scan(&rec.ID, &msgJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewDomainError("SQLiteSessionStore.Load", domain.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(msgJSON), &rec.Messages); err != nil {
		return nil, fmt.Errorf("parse messages for %s: %w", id, err)
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", id, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", id, err)
	}
	return &rec, nil
}

// Delete removes a session record.
func (s *SQLiteSessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewDomainError("SQLiteSessionStore.Delete", domain.ErrSessionNotFound, id)
	}
	return nil
}

// List returns all session ids, most recently updated first.
func (s *SQLiteSessionStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM sessions ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ domain.SessionStore = (*SQLiteSessionStore)(nil)
