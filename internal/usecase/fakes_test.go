package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"psych-agent/internal/domain"
	"psych-agent/internal/repository"
)

const testPersona = "You are a patient listener."

// memStore is an in-memory repository.Store.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]domain.User
	byName    map[string]int64
	summaries map[int64]string
	nextID    int64

	findErr   error
	insertErr error
	updateErr error
	readErr   error
	writeErr  error

	// beforeInsert runs before the uniqueness check, letting tests simulate a
	// concurrent winner.
	beforeInsert func(name string)

	inserts int
	writes  int
}

var _ repository.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		users:     map[int64]domain.User{},
		byName:    map[string]int64{},
		summaries: map[int64]string{},
	}
}

func (m *memStore) InsertUser(_ context.Context, name, persona string) (domain.User, error) {
	if m.beforeInsert != nil {
		m.beforeInsert(name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return domain.User{}, m.insertErr
	}
	if _, ok := m.byName[name]; ok {
		return domain.User{}, fmt.Errorf("memstore: insert %q: %w", name, repository.ErrConflict)
	}
	m.nextID++
	p := persona
	u := domain.User{ID: m.nextID, Name: name, Persona: &p}
	m.users[u.ID] = u
	m.byName[name] = u.ID
	return u, nil
}

// seedUser inserts without hooks or counters.
func (m *memStore) seedUser(name string, persona *string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u := domain.User{ID: m.nextID, Name: name, Persona: persona}
	m.users[u.ID] = u
	m.byName[name] = u.ID
	return u
}

func (m *memStore) FindUserByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *memStore) FindUserByName(_ context.Context, name string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	id, ok := m.byName[name]
	if !ok {
		return nil, nil
	}
	u := m.users[id]
	return &u, nil
}

func (m *memStore) UpdateUserPersona(_ context.Context, id int64, persona string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return 0, m.updateErr
	}
	u, ok := m.users[id]
	if !ok {
		return 0, nil
	}
	p := persona
	u.Persona = &p
	m.users[id] = u
	m.writes++
	return 1, nil
}

func (m *memStore) FindSummary(_ context.Context, userID int64) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	s, ok := m.summaries[userID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) UpsertSummary(_ context.Context, userID int64, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.summaries[userID] = summary
	m.writes++
	return nil
}

func (m *memStore) summary(userID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[userID]
	return s, ok
}

type genResult struct {
	cands []string
	err   error
}

// scriptedGenerator returns results in order and records the prompts it saw.
type scriptedGenerator struct {
	mu      sync.Mutex
	results []genResult
	prompts []string
	models  []string
}

func (g *scriptedGenerator) Generate(_ context.Context, model, prompt string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	g.models = append(g.models, model)
	if len(g.results) == 0 {
		return nil, errors.New("scripted generator exhausted")
	}
	r := g.results[0]
	g.results = g.results[1:]
	return r.cands, r.err
}

func reply(texts ...string) genResult { return genResult{cands: texts} }
func genFail(msg string) genResult    { return genResult{err: errors.New(msg)} }

type fixture struct {
	store    *memStore
	gen      *scriptedGenerator
	identity *IdentityResolver
	personas *PersonaResolver
	users    *UserService
	chat     *ChatService
}

func newFixture(t *testing.T, opts ...ChatOption) *fixture {
	t.Helper()
	store := newMemStore()
	gen := &scriptedGenerator{}

	identity, err := NewIdentityResolver(store)
	require.NoError(t, err)
	personas, err := NewPersonaResolver(store, testPersona)
	require.NoError(t, err)
	users, err := NewUserService(identity, personas, store)
	require.NoError(t, err)
	chat, err := NewChatService(identity, personas, store, gen, "gpt-4o", opts...)
	require.NoError(t, err)

	return &fixture{store: store, gen: gen, identity: identity, personas: personas, users: users, chat: chat}
}

func requireCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	require.Error(t, err)
	ue, ok := AsError(err)
	require.True(t, ok, "expected *usecase.Error, got %T", err)
	require.Equal(t, code, ue.Code)
	if reason != "" {
		require.Equal(t, reason, ue.Reason)
	}
}
