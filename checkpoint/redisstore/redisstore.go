// Package redisstore implements compose.CheckPointStore on top of Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "graphrun:checkpoint:"

// Store implements compose.CheckPointStore with a single Redis key per checkpoint id.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the default "graphrun:checkpoint:" key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New wraps an existing Redis client. The caller owns the client's lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) Get(ctx context.Context, checkPointID string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(checkPointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redisstore: get %s: %w", checkPointID, err)
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, checkPointID string, checkPoint []byte) error {
	if err := s.client.Set(ctx, s.key(checkPointID), checkPoint, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: set %s: %w", checkPointID, err)
	}
	return nil
}
