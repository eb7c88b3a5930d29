package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value   string
	expires time.Time
}

// MemoryStore is an in-process KVStore for tests and runs without valkey.
type MemoryStore struct {
	// Now is the clock used for expiry.
	Now func() time.Time

	mu   sync.Mutex
	data map[string]memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Now: time.Now, data: make(map[string]memEntry)}
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = m.Now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return e.value, nil
}

func (m *MemoryStore) Scan(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if _, ok := m.live(k); ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := m.live(k); ok {
			n++
		}
		delete(m.data, k)
	}
	return n, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// live drops key if it has expired. Callers hold mu.
func (m *MemoryStore) live(key string) (memEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && !m.Now().Before(e.expires) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, true
}
