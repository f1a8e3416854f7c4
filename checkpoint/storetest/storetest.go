// Package storetest exercises the compose.CheckPointStore contract against
// any backend, so redisstore and sqlitestore share one behavioral test
// (pgstore is tested with pgxmock expectations instead).
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is the minimal shape every checkpoint store adapter implements.
type Store interface {
	Get(ctx context.Context, checkPointID string) ([]byte, bool, error)
	Set(ctx context.Context, checkPointID string, checkPoint []byte) error
}

// RunContract asserts get/set round-trip, not-found, and overwrite semantics
// hold for store. Call it from each adapter's own *_test.go with a live backend.
func RunContract(t *testing.T, ctx context.Context, store Store) {
	t.Helper()

	_, exists, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Set(ctx, "c1", []byte("first")))
	data, exists, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte("first"), data)

	require.NoError(t, store.Set(ctx, "c1", []byte("second")))
	data, exists, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte("second"), data)

	require.NoError(t, store.Set(ctx, "c2", []byte("other")))
	data, exists, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte("second"), data, "unrelated id must not disturb c1")
}

// MapStore is a trivial in-memory Store used to validate RunContract itself.
type MapStore struct {
	m map[string][]byte
}

func NewMapStore() *MapStore {
	return &MapStore{m: map[string][]byte{}}
}

func (s *MapStore) Get(_ context.Context, id string) ([]byte, bool, error) {
	data, ok := s.m[id]
	return data, ok, nil
}

func (s *MapStore) Set(_ context.Context, id string, data []byte) error {
	s.m[id] = data
	return nil
}
