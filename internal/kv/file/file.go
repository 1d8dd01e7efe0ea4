// Package file implements kv.Store as one JSON document per collection.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/gchat/internal/kv"
)

// Store keeps every collection in memory and rewrites its file on each
// mutation.
type Store struct {
	mu          sync.RWMutex
	dir         string
	collections map[string]map[string]json.RawMessage
}

// Open creates dir if needed and loads every collection file in it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create kv dir: %w", err)
	}
	s := &Store{
		dir:         dir,
		collections: make(map[string]map[string]json.RawMessage),
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.collections[collection][key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Set(_ context.Context, collection, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("kv file: value for %s/%s is not JSON", collection, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]json.RawMessage)
		s.collections[collection] = c
	}
	v := make(json.RawMessage, len(value))
	copy(v, value)
	c[key] = v
	return s.save(collection)
}

func (s *Store) Delete(_ context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil
	}
	if _, ok := c[key]; !ok {
		return nil
	}
	delete(c, key)
	return s.save(collection)
}

func (s *Store) Close() error { return nil }

// save writes a collection atomically. Caller holds s.mu.
func (s *Store) save(collection string) error {
	data, err := json.MarshalIndent(s.collections[collection], "", "  ")
	if err != nil {
		return err
	}

	name := sanitizeFilename(collection)
	if name == "." || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return os.ErrInvalid
	}
	target := filepath.Join(s.dir, name+".json")

	// Atomic write: temp file → rename
	tmpFile, err := os.CreateTemp(s.dir, "kv-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, target); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (s *Store) loadAll() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read kv dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, f.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name(), err)
		}
		c := make(map[string]json.RawMessage)
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("parse %s: %w", f.Name(), err)
		}
		s.collections[strings.TrimSuffix(f.Name(), ".json")] = c
	}
	return nil
}

// sanitizeFilename keeps collection names like "custom.gchat" usable as file names.
func sanitizeFilename(collection string) string {
	return strings.NewReplacer(":", "_", "/", "_", `\`, "_").Replace(collection)
}
