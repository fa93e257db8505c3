package kv

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// File stores each key as a JSON file in a directory.
// The filename is derived from a SHA-256 hash of the key, so keys may
// contain any characters (registry URLs included).
type File struct {
	mu  sync.RWMutex
	dir string
}

// fileRecord keeps the original key next to the value so Keys can list them.
type fileRecord struct {
	Key  string `json:"key"`
	Data []byte `json:"data"`
}

// NewFile creates a file store in dir. The directory will be created if it
// doesn't exist.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &File{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (s *File) Dir() string { return s.dir }

func (s *File) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := readRecord(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if rec.Key != key {
		// Hash collision or foreign file: treat as miss.
		return nil, false, nil
	}
	return rec.Data, true, nil
}

func (s *File) Set(ctx context.Context, key string, value []byte) error {
	data, err := json.Marshal(fileRecord{Key: key, Data: value})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *File) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *File) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries, continue walking
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := readRecord(path)
		if err != nil {
			return nil
		}
		if strings.HasPrefix(rec.Key, prefix) {
			keys = append(keys, rec.Key)
		}
		return nil
	})
	slices.Sort(keys)
	return keys, err
}

func (s *File) Close() error { return nil }

// path converts a key to a file path.
// Uses the first 2 hash chars as a subdirectory to avoid too many files in one dir.
func (s *File) path(key string) string {
	h := Hash([]byte(key))
	return filepath.Join(s.dir, h[:2], h[2:]+".json")
}

func readRecord(path string) (fileRecord, error) {
	var rec fileRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(data, &rec)
	return rec, err
}

var _ Store = (*File)(nil)
