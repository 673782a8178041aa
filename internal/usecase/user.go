package usecase

import (
	"context"
	"errors"
	"strings"

	"psych-agent/internal/domain"
	"psych-agent/internal/repository"
)

// LoginOutput is the memory record of the user that logged in.
type LoginOutput = domain.ConversationMemory

// UserService backs login and the summary and persona queries.
type UserService struct {
	identity *IdentityResolver
	personas *PersonaResolver
	memory   repository.MemoryStore
}

func NewUserService(identity *IdentityResolver, personas *PersonaResolver, memory repository.MemoryStore) (*UserService, error) {
	if identity == nil {
		return nil, errors.New("usecase: identity resolver must not be nil")
	}
	if personas == nil {
		return nil, errors.New("usecase: persona resolver must not be nil")
	}
	if memory == nil {
		return nil, errors.New("usecase: memory store must not be nil")
	}
	return &UserService{identity: identity, personas: personas, memory: memory}, nil
}

// Login resolves or creates the user and returns the current summary.
// Repeated logins never reset persona or summary.
func (s *UserService) Login(ctx context.Context, username string) (LoginOutput, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return LoginOutput{}, newError(ErrorInvalidInput, "empty_username", nil)
	}
	u, err := s.identity.GetOrCreate(ctx, name, s.personas.Default)
	if err != nil {
		return LoginOutput{}, newError(ErrorInternal, "store_error", err)
	}
	summary, err := s.memory.FindSummary(ctx, u.ID)
	if err != nil {
		return LoginOutput{}, newError(ErrorInternal, "store_read_error", err)
	}
	return LoginOutput{UserID: u.ID, Summary: summary}, nil
}

func (s *UserService) GetSummary(ctx context.Context, userID int64) (string, error) {
	summary, err := s.memory.FindSummary(ctx, userID)
	if err != nil {
		return "", newError(ErrorInternal, "store_read_error", err)
	}
	if summary == nil {
		return "", newError(ErrorNotFound, "summary_not_found", nil)
	}
	return *summary, nil
}

// GetPersona returns the persona currently in effect for userID.
func (s *UserService) GetPersona(ctx context.Context, userID int64) (string, error) {
	u, err := s.identity.GetByID(ctx, userID)
	if err != nil {
		return "", newError(ErrorInternal, "store_read_error", err)
	}
	if u == nil {
		return "", newError(ErrorNotFound, "user_not_found", nil)
	}
	return s.personas.Effective(*u), nil
}

// SetPersona stores text verbatim as the persona of userID and echoes it back.
func (s *UserService) SetPersona(ctx context.Context, userID int64, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", newError(ErrorInvalidInput, "empty_prompt", nil)
	}
	updated, err := s.personas.SetPersona(ctx, userID, text)
	if err != nil {
		return "", newError(ErrorInternal, "store_write_error", err)
	}
	if !updated {
		return "", newError(ErrorNotFound, "user_not_found", nil)
	}
	return text, nil
}
