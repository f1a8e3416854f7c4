package sqlitestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphrun/graphrun/checkpoint/storetest"
)

func TestStoreContract(t *testing.T) {
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	storetest.RunContract(t, context.Background(), store)
}

func TestCustomTableName(t *testing.T) {
	store, err := Open(context.Background(), ":memory:", WithTableName("snapshots"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(context.Background(), "c1", []byte("payload")))
	data, exists, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, []byte("payload"), data)
}
