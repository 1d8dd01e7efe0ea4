// Package kv defines the key/value persistence contract for conversation
// state. Values are opaque bytes; helpers encode them as JSON.
//
// Backends live in sub-packages (file, sqlite, pg, redis). Memory is
// provided here for tests and ephemeral runs.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: not found")

// Store is a collection-scoped key/value store.
type Store interface {
	Get(ctx context.Context, collection, key string) ([]byte, error)
	Set(ctx context.Context, collection, key string, value []byte) error
	Delete(ctx context.Context, collection, key string) error
	Close() error
}

// GetJSON decodes the value at key into dst. It reports false (and no
// error) when the key is absent.
func GetJSON(ctx context.Context, s Store, collection, key string, dst any) (bool, error) {
	raw, err := s.Get(ctx, collection, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("kv: decode %s/%s: %w", collection, key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, collection, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s/%s: %w", collection, key, err)
	}
	return s.Set(ctx, collection, key, raw)
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func memKey(collection, key string) string { return collection + "\x00" + key }

func (m *Memory) Get(_ context.Context, collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[memKey(collection, key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Memory) Set(_ context.Context, collection, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.mu.Lock()
	m.data[memKey(collection, key)] = v
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, key string) error {
	m.mu.Lock()
	delete(m.data, memKey(collection, key))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Keys lists the keys of a collection in sorted order.
func (m *Memory) Keys(collection string) []string {
	prefix := collection + "\x00"
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(keys)
	return keys
}
