package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/graphrun/graphrun/checkpoint/storetest"
)

func TestStoreContract(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	storetest.RunContract(t, context.Background(), New(client))
}

func TestKeyPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := New(client, WithPrefix("custom:"))
	require.NoError(t, store.Set(context.Background(), "run1", []byte("payload")))
	require.True(t, mr.Exists("custom:run1"))
}
