package geocode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// Store persists cache entries between runs.
//
// Save has put-if-absent semantics: keys already present in the store keep
// their existing value.
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
	Clear(ctx context.Context) error
	Close() error
}

// FileStore keeps the cache as one flat JSON object, the format used by
// earlier versions:
//
//	{"40.7128,-74.006": {"state": "New York", ...}, "water:40.7128,-74.006": false}
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// NewFileStore returns a store backed by the JSON file at path. The file
// is created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, entries: make(map[string]Entry)}
}

func (s *FileStore) Load(ctx context.Context) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.read(); err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *FileStore) read() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.entries = make(map[string]Entry)
		return nil
	}
	if err != nil {
		return err
	}

	entries := make(map[string]Entry)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("parse %s: %w", s.path, err)
		}
	}
	s.entries = entries
	return nil
}

func (s *FileStore) Save(ctx context.Context, entries map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Merge with what is on disk now; another process may have written.
	if err := s.read(); err != nil {
		return err
	}
	for k, v := range entries {
		if _, exists := s.entries[k]; !exists {
			s.entries[k] = v
		}
	}
	return s.write()
}

// write replaces the file atomically so a crash never leaves a truncated cache.
func (s *FileStore) write() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".geocache-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
