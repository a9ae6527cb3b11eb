package timesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MemoryStore keeps offsets in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]CachedOffset
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]CachedOffset)}
}

func (m *MemoryStore) Load(_ context.Context, key string) (CachedOffset, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	return entry, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, offset CachedOffset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = offset
	return nil
}

// FileStore keeps each key in a small JSON file under a directory, the desktop
// counterpart of browser local storage.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Load(_ context.Context, key string) (CachedOffset, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return CachedOffset{}, false, nil
	}
	if err != nil {
		return CachedOffset{}, false, fmt.Errorf("failed to read offset cache: %w", err)
	}

	var entry CachedOffset
	if err := json.Unmarshal(data, &entry); err != nil {
		// A torn or foreign file is a cache miss, not an error.
		return CachedOffset{}, false, nil
	}
	return entry, true, nil
}

func (f *FileStore) Save(_ context.Context, key string, offset CachedOffset) error {
	data, err := json.Marshal(offset)
	if err != nil {
		return fmt.Errorf("failed to marshal offset: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".offset-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write offset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace offset cache: %w", err)
	}
	return nil
}

func (f *FileStore) path(key string) string {
	name := strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(key)
	return filepath.Join(f.dir, name+".json")
}
