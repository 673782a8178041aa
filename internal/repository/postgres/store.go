// Package postgres stores users and conversation summaries in PostgreSQL via
// pgx. The schema mirrors the relational layout the service was first
// deployed with: a users table with a unique name and a conversations table
// keyed by user_id.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"psych-agent/internal/domain"
	"psych-agent/internal/repository"
)

// Schema is the DDL applied by [Store.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id     BIGSERIAL PRIMARY KEY,
    name   TEXT UNIQUE NOT NULL,
    prompt TEXT
);

CREATE TABLE IF NOT EXISTS conversations (
    user_id              BIGINT PRIMARY KEY REFERENCES users (id),
    conversation_summary TEXT
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [repository.Store] backed by PostgreSQL.
type Store struct {
	db DB
}

var _ repository.Store = (*Store)(nil)

// New wraps an existing connection or pool.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open creates a pool for dsn and verifies connectivity. The returned close
// function releases the pool.
func Open(ctx context.Context, dsn string) (*Store, func(), error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(pool), pool.Close, nil
}

// Migrate creates the tables if they do not exist. It is safe to call on
// every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// InsertUser creates a user row. A taken name yields [repository.ErrConflict].
func (s *Store) InsertUser(ctx context.Context, name, persona string) (domain.User, error) {
	const query = `
		INSERT INTO users (name, prompt)
		VALUES ($1, $2)
		RETURNING id, name, prompt`

	var u domain.User
	err := s.db.QueryRow(ctx, query, name, persona).Scan(&u.ID, &u.Name, &u.Persona)
	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.User{}, fmt.Errorf("postgres: insert user %q: %w", name, repository.ErrConflict)
		}
		return domain.User{}, fmt.Errorf("postgres: insert user: %w", err)
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `SELECT id, name, prompt FROM users WHERE id = $1`
	return s.findUser(ctx, query, id)
}

func (s *Store) FindUserByName(ctx context.Context, name string) (*domain.User, error) {
	const query = `SELECT id, name, prompt FROM users WHERE name = $1`
	return s.findUser(ctx, query, name)
}

func (s *Store) findUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Persona)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: find user %v: %w", arg, err)
	}
	return &u, nil
}

func (s *Store) UpdateUserPersona(ctx context.Context, id int64, persona string) (int64, error) {
	const query = `UPDATE users SET prompt = $1 WHERE id = $2`
	tag, err := s.db.Exec(ctx, query, persona, id)
	if err != nil {
		return 0, fmt.Errorf("postgres: update persona %d: %w", id, err)
	}
	return tag.RowsAffected(), nil
}

// FindSummary returns nil both when no conversation row exists and when the
// row holds a NULL summary.
func (s *Store) FindSummary(ctx context.Context, userID int64) (*string, error) {
	const query = `SELECT conversation_summary FROM conversations WHERE user_id = $1`
	var summary *string
	err := s.db.QueryRow(ctx, query, userID).Scan(&summary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: find summary %d: %w", userID, err)
	}
	return summary, nil
}

func (s *Store) UpsertSummary(ctx context.Context, userID int64, summary string) error {
	const query = `
		INSERT INTO conversations (user_id, conversation_summary)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET conversation_summary = EXCLUDED.conversation_summary`
	if _, err := s.db.Exec(ctx, query, userID, summary); err != nil {
		return fmt.Errorf("postgres: upsert summary %d: %w", userID, err)
	}
	return nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
