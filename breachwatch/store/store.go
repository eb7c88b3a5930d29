// Package store is the key/value side of the pipeline. Run history lives
// here rather than in Postgres so the dashboard can read it without touching
// the marts.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ErrNotFound is returned by Get for an absent or expired key.
var ErrNotFound = errors.New("key not found")

// scanCount is the SCAN page hint.
const scanCount = 100

// KVStore is what run snapshots need from a key/value backend.
type KVStore interface {
	// Set writes value under key. A positive ttl expires the key.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	// Scan returns every key starting with prefix, in no particular order.
	Scan(ctx context.Context, prefix string) ([]string, error)
	// Delete removes keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	Close() error
}

type valkeyStore struct {
	client valkey.Client
}

// NewValkeyStore connects to the valkey server at addr.
func NewValkeyStore(addr string) (KVStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey at %s: %w", addr, err)
	}
	return &valkeyStore{client: client}, nil
}

func (s *valkeyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var cmd valkey.Completed
	if secs := int64(ttl / time.Second); secs > 0 {
		cmd = s.client.B().Set().Key(key).Value(value).ExSeconds(secs).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(value).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey SET %q: %w", key, err)
	}
	return nil
}

func (s *valkeyStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("valkey GET %q: %w", key, err)
	}
	return v, nil
}

// Scan walks the keyspace with SCAN so a large keyspace never blocks the
// server the way KEYS would.
func (s *valkeyStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(escapeGlob(prefix) + "*").Count(scanCount).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("valkey SCAN %q: %w", prefix, err)
		}
		keys = append(keys, entry.Elements...)
		if entry.Cursor == 0 {
			return keys, nil
		}
		cursor = entry.Cursor
	}
}

func (s *valkeyStore) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("valkey DEL: %w", err)
	}
	return int(n), nil
}

func (s *valkeyStore) Close() error {
	s.client.Close()
	return nil
}

// escapeGlob quotes the MATCH metacharacters in a literal prefix.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
