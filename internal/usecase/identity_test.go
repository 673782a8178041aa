package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"psych-agent/internal/repository"
)

func TestNewIdentityResolver_NilStore(t *testing.T) {
	_, err := NewIdentityResolver(nil)
	require.Error(t, err)
}

func TestGetOrCreate_CreatesThenReturnsExisting(t *testing.T) {
	store := newMemStore()
	r, err := NewIdentityResolver(store)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := r.GetOrCreate(ctx, "alice", "persona A")
	require.NoError(t, err)
	require.Equal(t, "persona A", *first.Persona)

	second, err := r.GetOrCreate(ctx, "alice", "persona B")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "persona A", *second.Persona, "existing persona must not be reset")
	require.Equal(t, 1, store.inserts)
}

func TestGetOrCreate_ConflictRetriesAsLookup(t *testing.T) {
	store := newMemStore()
	var winnerID int64
	store.beforeInsert = func(name string) {
		store.beforeInsert = nil
		winnerID = store.seedUser(name, nil).ID
	}
	r, err := NewIdentityResolver(store)
	require.NoError(t, err)

	u, err := r.GetOrCreate(context.Background(), "bob", testPersona)
	require.NoError(t, err)
	require.Equal(t, winnerID, u.ID)
	require.Equal(t, 1, store.inserts)
}

func TestGetOrCreate_ConflictThenMissingIsError(t *testing.T) {
	store := newMemStore()
	store.insertErr = repository.ErrConflict
	r, err := NewIdentityResolver(store)
	require.NoError(t, err)

	_, err = r.GetOrCreate(context.Background(), "ghost", testPersona)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing after insert conflict")
	require.Equal(t, 1, store.inserts, "only a single retry as lookup is made")
}

func TestGetOrCreate_InsertFailure(t *testing.T) {
	store := newMemStore()
	store.insertErr = errors.New("disk full")
	r, err := NewIdentityResolver(store)
	require.NoError(t, err)

	_, err = r.GetOrCreate(context.Background(), "carol", testPersona)
	require.Error(t, err)
	require.NotErrorIs(t, err, repository.ErrConflict)
	require.Contains(t, err.Error(), "disk full")
}

func TestGetByIDAndName_NotFoundIsNil(t *testing.T) {
	r, err := NewIdentityResolver(newMemStore())
	require.NoError(t, err)

	u, err := r.GetByID(context.Background(), 99)
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = r.GetByName(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, u)
}

func TestGetByID_StoreError(t *testing.T) {
	store := newMemStore()
	store.findErr = errors.New("timeout")
	r, err := NewIdentityResolver(store)
	require.NoError(t, err)

	_, err = r.GetByID(context.Background(), 1)
	require.Error(t, err)
}
