// Package kv provides the small file-backed key-value namespace used for
// auxiliary state kept outside the record store: the scan-history ledger and
// the device identity. One namespace is one JSON file; writes go through a
// temp file and an atomic rename, so a crash never leaves a torn document.
package kv

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is one key-value namespace.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a namespace backed by the JSON file at path. The file is
// created lazily on first Put.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get unmarshals the value for key into v. Returns false when the key is
// absent. A missing or unreadable namespace file reads as empty, never as an
// error; auxiliary state must not take the app down.
func (s *Store) Get(key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	raw, ok := doc[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode key %q: %w", key, err)
	}
	return true, nil
}

// Put stores the value for key, replacing any previous one.
func (s *Store) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode key %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	doc[key] = raw
	return s.save(doc)
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.save(doc)
}

// Keys lists every key in the namespace, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes the namespace file entirely (factory reset).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear namespace: %w", err)
	}
	return nil
}

// load reads the namespace document. Corrupt content reads as empty.
func (s *Store) load() map[string]json.RawMessage {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]json.RawMessage{}
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return map[string]json.RawMessage{}
	}
	return doc
}

// save writes the document atomically via temp file + rename.
func (s *Store) save(doc map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create namespace directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal namespace: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// deviceIDKey matches the original namespace key, version suffix included.
const deviceIDKey = "deviceId:v1"

// DeviceID returns the stable per-device identifier, generating and
// persisting one on first use.
func DeviceID(s *Store) (string, error) {
	var id string
	ok, err := s.Get(deviceIDKey, &id)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate device id: %w", err)
	}
	id = "dev_" + hex.EncodeToString(buf)
	if err := s.Put(deviceIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}
