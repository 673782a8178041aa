// Package sqlite is a file-backed [repository.Store] for local runs and
// tests. It uses the pure-Go modernc driver, so no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"psych-agent/internal/domain"
	"psych-agent/internal/repository"
)

// migrations is the ordered list of SQL migration statements.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		prompt TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		user_id INTEGER PRIMARY KEY REFERENCES users(id),
		conversation_summary TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Store implements repository.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ repository.Store = (*Store)(nil)

// Open opens (or creates) a SQLite database at the given path and applies the
// schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertUser(ctx context.Context, name, persona string) (domain.User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, prompt) VALUES (?, ?)`,
		name, persona,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, fmt.Errorf("sqlite: insert user %q: %w", name, repository.ErrConflict)
		}
		return domain.User{}, fmt.Errorf("sqlite: insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.User{}, fmt.Errorf("sqlite: insert user id: %w", err)
	}
	return domain.User{ID: id, Name: name, Persona: &persona}, nil
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.findUser(ctx, `SELECT id, name, prompt FROM users WHERE id = ?`, id)
}

func (s *Store) FindUserByName(ctx context.Context, name string) (*domain.User, error) {
	return s.findUser(ctx, `SELECT id, name, prompt FROM users WHERE name = ?`, name)
}

func (s *Store) findUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var (
		u      domain.User
		prompt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Name, &prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find user %v: %w", arg, err)
	}
	if prompt.Valid {
		u.Persona = &prompt.String
	}
	return &u, nil
}

func (s *Store) UpdateUserPersona(ctx context.Context, id int64, persona string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET prompt = ? WHERE id = ?`, persona, id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: update persona %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: update persona rows: %w", err)
	}
	return n, nil
}

func (s *Store) FindSummary(ctx context.Context, userID int64) (*string, error) {
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_summary FROM conversations WHERE user_id = ?`,
		userID,
	).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find summary %d: %w", userID, err)
	}
	if !summary.Valid {
		return nil, nil
	}
	return &summary.String, nil
}

func (s *Store) UpsertSummary(ctx context.Context, userID int64, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, conversation_summary, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			conversation_summary = excluded.conversation_summary,
			updated_at = excluded.updated_at`,
		userID, summary,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert summary %d: %w", userID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
