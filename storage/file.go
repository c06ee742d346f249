package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists all keys in a single JSON document on local disk.
// Every write rewrites the document through a temp file and rename so a crash
// never leaves a half written file behind.
type FileStore struct {
	mu    sync.Mutex
	path  string
	items map[string]json.RawMessage
}

// OpenFileStore loads path, creating its directory when needed.
func OpenFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	fs := &FileStore{path: path, items: make(map[string]json.RawMessage)}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return fs, nil
	}
	if err := json.Unmarshal(b, &fs.items); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores value, which must be valid JSON.
func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return errors.New("storage: file store only accepts JSON values")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.items[key]
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	f.items[key] = cp
	if err := f.flushLocked(); err != nil {
		if had {
			f.items[key] = prev
		} else {
			delete(f.items, key)
		}
		return err
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, ok := f.items[key]
	if !ok {
		return nil
	}
	delete(f.items, key)
	if err := f.flushLocked(); err != nil {
		f.items[key] = prev
		return err
	}
	return nil
}

func (f *FileStore) flushLocked() error {
	b, err := json.MarshalIndent(f.items, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".punchclock-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}
