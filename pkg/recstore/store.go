// Package recstore is a thin capability over the recording blob store:
// at most one blob per match id, writes are last-writer-wins. The store does
// no locking; duplicate-work protection lives in the status tracker.
package recstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("recording not found")

// Blobs is the capability the pipeline depends on. *Store is the production
// implementation; tests substitute an in-memory one.
type Blobs interface {
	Exists(ctx context.Context, matchID string) (bool, error)
	Read(ctx context.Context, matchID string) ([]byte, error)
	Write(ctx context.Context, matchID string, data []byte) error
}

type Store struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(matchID string) string {
	return s.prefix + matchID
}

func (s *Store) Exists(ctx context.Context, matchID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(matchID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking recording %s: %w", matchID, err)
	}
	return n > 0, nil
}

func (s *Store) Read(ctx context.Context, matchID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading recording %s: %w", matchID, err)
	}
	return data, nil
}

func (s *Store) Write(ctx context.Context, matchID string, data []byte) error {
	if err := s.client.Set(ctx, s.key(matchID), data, 0).Err(); err != nil {
		return fmt.Errorf("writing recording %s: %w", matchID, err)
	}
	return nil
}
