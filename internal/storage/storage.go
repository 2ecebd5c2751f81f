// Package storage provides the key-value persistence boundary used by the engine.
// The engine only ever loads and saves opaque byte blobs by key; the concrete
// medium is chosen at startup from configuration.
//
// Backends:
//   - memory: process-local map, for tests and ephemeral runs
//   - file: a single JSON document written atomically (temp file + rename)
//   - bolt: bbolt B+ tree file, compact and single-file
//   - badger: LSM-tree directory, fast writes but large value logs
//   - sqlite: single-table database via the pure-Go modernc driver
//   - postgres: single-table database via a pgx connection pool
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/restockoracle/internal/config"
)

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("storage: store is closed")

// KV is the persistence capability the engine depends on.
type KV interface {
	// Load returns the value for key and whether it was present.
	Load(ctx context.Context, key string) ([]byte, bool, error)
	// Save stores value under key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error
	Close() error
}

// Backend names a storage implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendBolt     Backend = "bolt"
	BackendBadger   Backend = "badger"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Open creates the backend selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (KV, error) {
	switch Backend(cfg.Backend) {
	case BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		return NewFile(cfg.Path, 0644, 0755)
	case BackendBolt:
		return NewBolt(cfg.Path)
	case BackendBadger:
		return NewBadger(cfg.Path)
	case BackendSQLite:
		return NewSQLite(ctx, cfg.Path)
	case BackendPostgres:
		return NewPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// Info describes each backend, for CLI help output.
func Info() map[Backend]string {
	return map[Backend]string{
		BackendMemory:   "In-process map. Nothing survives a restart.",
		BackendFile:     "Single JSON file, rewritten atomically on every save. Good default for small histories.",
		BackendBolt:     "Compact B+ tree database in one file. Good for embedded use.",
		BackendBadger:   "LSM-tree database directory. Fast writes, but value logs can grow large.",
		BackendSQLite:   "SQLite database file through a pure-Go driver, no cgo required.",
		BackendPostgres: "Shared Postgres table, for running several instances against one history.",
	}
}
