package repository

import (
	"context"
	"errors"

	"psych-agent/internal/domain"
)

// ErrConflict is returned by InsertUser when the name is already taken.
var ErrConflict = errors.New("repository: conflict")

// UserStore is the identity record contract consumed by the usecases.
type UserStore interface {
	InsertUser(ctx context.Context, name, persona string) (domain.User, error)
	// FindUserByID and FindUserByName return (nil, nil) when no row exists.
	FindUserByID(ctx context.Context, id int64) (*domain.User, error)
	FindUserByName(ctx context.Context, name string) (*domain.User, error)
	UpdateUserPersona(ctx context.Context, id int64, persona string) (int64, error)
}

// MemoryStore holds at most one summary per user.
type MemoryStore interface {
	// FindSummary returns nil when the user has no summary yet.
	FindSummary(ctx context.Context, userID int64) (*string, error)
	UpsertSummary(ctx context.Context, userID int64, summary string) error
}

// Store is implemented by every backend.
type Store interface {
	UserStore
	MemoryStore
}
