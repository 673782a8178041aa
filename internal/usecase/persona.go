package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"psych-agent/internal/domain"
	"psych-agent/internal/repository"
)

// PersonaResolver decides which persona drives a user's replies.
type PersonaResolver struct {
	// Default applies to users without a persona of their own.
	Default string

	users repository.UserStore
}

func NewPersonaResolver(users repository.UserStore, defaultPersona string) (*PersonaResolver, error) {
	if users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	if strings.TrimSpace(defaultPersona) == "" {
		return nil, errors.New("usecase: default persona must not be empty")
	}
	return &PersonaResolver{Default: defaultPersona, users: users}, nil
}

// Effective returns u's own persona verbatim when it is set and non-blank,
// otherwise the default.
func (p *PersonaResolver) Effective(u domain.User) string {
	if u.HasPersona() {
		return *u.Persona
	}
	return p.Default
}

// SetPersona replaces the persona of userID. It reports false when no such
// user exists.
func (p *PersonaResolver) SetPersona(ctx context.Context, userID int64, text string) (bool, error) {
	n, err := p.users.UpdateUserPersona(ctx, userID, text)
	if err != nil {
		return false, fmt.Errorf("usecase: update persona of user %d: %w", userID, err)
	}
	return n > 0, nil
}
