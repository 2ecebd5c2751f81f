package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileFormatVersion is bumped when PersistenceFile changes shape.
const fileFormatVersion = "1.0"

// File keeps every key in memory and persists the whole set to one JSON
// document on each Save, using an atomic temp-file rename.
type File struct {
	entries map[string]json.RawMessage
	closed  bool
	mu      sync.RWMutex

	filePath        string
	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// PersistenceFile represents the file structure for JSON persistence
type PersistenceFile struct {
	Version string                     `json:"version"`
	SavedAt time.Time                  `json:"saved_at"`
	Entries map[string]json.RawMessage `json:"entries"`
}

// NewFile opens (or prepares) a JSON file store.
// If filePath is empty, uses OS-appropriate tmp directory
func NewFile(filePath string, filePermissions, dirPermissions os.FileMode) (*File, error) {
	if filePath == "" {
		filePath = filepath.Join(os.TempDir(), "restock-oracle", "data.json")
	}

	f := &File{
		entries:         make(map[string]json.RawMessage),
		filePath:        filePath,
		filePermissions: filePermissions,
		dirPermissions:  dirPermissions,
	}
	if err := f.restore(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.filePath
}

// Load returns the value stored under key.
func (f *File) Load(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, false, ErrClosed
	}
	v, ok := f.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Save stores value and rewrites the file. Values must be valid JSON since
// they are embedded verbatim in the document.
func (f *File) Save(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("file store: value for %q is not valid JSON", key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	prev, had := f.entries[key]
	f.entries[key] = append(json.RawMessage(nil), value...)
	if err := f.writeLocked(); err != nil {
		// Keep memory consistent with disk
		if had {
			f.entries[key] = prev
		} else {
			delete(f.entries, key)
		}
		return err
	}
	return nil
}

// Close marks the store closed. Everything is already on disk.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *File) writeLocked() error {
	// Create data directory if needed
	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, f.dirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data := PersistenceFile{
		Version: fileFormatVersion,
		SavedAt: time.Now(),
		Entries: f.entries,
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := f.filePath + ".tmp"
	if err := os.WriteFile(tempPath, jsonData, f.filePermissions); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tempPath, f.filePath); err != nil {
		_ = os.Remove(tempPath) // Clean up temp file on rename failure
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// restore loads the file if present.
func (f *File) restore() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Clean up any stale temp files from previous crashes
	tempPath := f.filePath + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	if _, err := os.Stat(f.filePath); os.IsNotExist(err) {
		// No file to load, start fresh
		return nil
	}

	jsonData, err := os.ReadFile(f.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data PersistenceFile
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	if data.Entries != nil {
		f.entries = data.Entries
	}
	return nil
}
