// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Storage is a small per-extension key/value store persisted as one TOML
// file in the extension configuration directory.
type Storage struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// OpenStorage loads (or starts) the store for the named extension in dir.
func OpenStorage(dir, name string) (*Storage, error) {
	s := &Storage{
		path:   filepath.Join(dir, storageFileName(name)),
		values: make(map[string]string),
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading extension storage: %w", err)
	}
	if err := toml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("decoding extension storage %s: %w", s.path, err)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Storage) Path() string {
	return s.path
}

// Get returns the value for key.
func (s *Storage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key and persists the file.
func (s *Storage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	data, err := toml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("encoding extension storage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating extension storage directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing extension storage: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// storageFileName turns an extension name into a safe file name.
func storageFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "extension.toml"
	}
	return b.String() + ".toml"
}
