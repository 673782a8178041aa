package usecase

import (
	"context"
	"errors"
	"fmt"

	"psych-agent/internal/domain"
	"psych-agent/internal/repository"
)

// IdentityResolver maps usernames to users, creating them on first sight.
type IdentityResolver struct {
	users repository.UserStore
}

func NewIdentityResolver(users repository.UserStore) (*IdentityResolver, error) {
	if users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	return &IdentityResolver{users: users}, nil
}

// GetOrCreate returns the user called name, creating it with defaultPersona
// if it does not exist. An existing user is returned unchanged.
//
// When a concurrent request wins the insert, the store reports a conflict and
// the user is looked up once more. Only that single retry is made.
func (r *IdentityResolver) GetOrCreate(ctx context.Context, name, defaultPersona string) (domain.User, error) {
	existing, err := r.users.FindUserByName(ctx, name)
	if err != nil {
		return domain.User{}, fmt.Errorf("usecase: find user %q: %w", name, err)
	}
	if existing != nil {
		return *existing, nil
	}

	created, err := r.users.InsertUser(ctx, name, defaultPersona)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return domain.User{}, fmt.Errorf("usecase: insert user %q: %w", name, err)
	}

	winner, err := r.users.FindUserByName(ctx, name)
	if err != nil {
		return domain.User{}, fmt.Errorf("usecase: find user %q after conflict: %w", name, err)
	}
	if winner == nil {
		return domain.User{}, fmt.Errorf("usecase: user %q missing after insert conflict", name)
	}
	return *winner, nil
}

// GetByID returns nil when no user has id.
func (r *IdentityResolver) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u, err := r.users.FindUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("usecase: find user %d: %w", id, err)
	}
	return u, nil
}

// GetByName returns nil when no user is called name.
func (r *IdentityResolver) GetByName(ctx context.Context, name string) (*domain.User, error) {
	u, err := r.users.FindUserByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("usecase: find user %q: %w", name, err)
	}
	return u, nil
}
