package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrUnavailable is returned by backends that cannot reach their storage.
	ErrUnavailable = errors.New("session storage unavailable")

	errCorrupt = errors.New("session file is not valid JSON")
)

// Backend is a synchronous string key/value store scoped to one profile.
type Backend interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set writes a single key.
	Set(key, value string) error
	// Delete removes the given keys in one write. Missing keys are ignored.
	Delete(keys ...string) error
}

// MemoryBackend keeps values in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (m *MemoryBackend) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

func (m *MemoryBackend) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// FileBackend stores all keys as one JSON object in a file shared by every
// process using the same profile directory. Writes are last-writer-wins.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend creates a backend persisting to <dir>/session.json.
// The directory is created with 0700 permissions.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("session file backend initialized")

	return &FileBackend{path: filepath.Join(dir, "session.json")}, nil
}

// Path returns the location of the session file.
func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if errors.Is(err, errCorrupt) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileBackend) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.loadForWrite()
	if err != nil {
		return err
	}
	values[key] = value
	return f.save(values)
}

func (f *FileBackend) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if errors.Is(err, errCorrupt) {
		return f.reset(values, keys)
	}
	if err != nil {
		return err
	}

	changed := false
	for _, k := range keys {
		if _, ok := values[k]; ok {
			delete(values, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.save(values)
}

// loadForWrite is load where an unparseable file counts as empty, so the
// next write replaces it.
func (f *FileBackend) loadForWrite() (map[string]string, error) {
	values, err := f.load()
	if errors.Is(err, errCorrupt) {
		return values, nil
	}
	return values, err
}

func (f *FileBackend) reset(values map[string]string, keys []string) error {
	for _, k := range keys {
		delete(values, k)
	}
	return f.save(values)
}

// load reads the file. A missing file is an empty store. An unparseable file
// returns an empty map and errCorrupt.
func (f *FileBackend) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("%w: failed to read session file: %v", ErrUnavailable, err)
	}

	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		log.Warn().Err(err).Str("path", f.path).Msg("session file is unreadable, treating it as empty")
		return make(map[string]string), errCorrupt
	}
	return values, nil
}

// save writes the file atomically through a temp file in the same directory.
func (f *FileBackend) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "session-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrUnavailable, err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("%w: failed to write session file: %v", ErrUnavailable, err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("%w: failed to chmod session file: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: failed to close session file: %v", ErrUnavailable, err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: failed to save session file: %v", ErrUnavailable, err)
	}
	return nil
}
