package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/restockoracle/internal/config"
)

func openBackends() map[string]func(t *testing.T) KV {
	ctx := context.Background()

	backends := map[string]func(t *testing.T) KV{
		"memory": func(t *testing.T) KV { return NewMemory() },
		"file": func(t *testing.T) KV {
			s, err := NewFile(filepath.Join(t.TempDir(), "data.json"), 0644, 0755)
			require.NoError(t, err)
			return s
		},
		"bolt": func(t *testing.T) KV {
			s, err := NewBolt(filepath.Join(t.TempDir(), "data.bolt"))
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) KV {
			s, err := NewBadger(filepath.Join(t.TempDir(), "badger"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) KV {
			s, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "data.sqlite"))
			require.NoError(t, err)
			return s
		},
	}

	if dsn := os.Getenv("RESTOCK_ORACLE_TEST_POSTGRES_DSN"); dsn != "" {
		backends["postgres"] = func(t *testing.T) KV {
			s, err := NewPostgres(ctx, dsn)
			require.NoError(t, err)
			return s
		}
	}
	return backends
}

func TestKV_LoadSaveRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, open := range openBackends() {
		t.Run(name, func(t *testing.T) {
			kv := open(t)
			defer kv.Close()

			_, ok, err := kv.Load(ctx, "restock/missing")
			require.NoError(t, err)
			assert.False(t, ok, "missing key should be absent")

			require.NoError(t, kv.Save(ctx, "restock/events", []byte(`[{"id":"a"}]`)))
			require.NoError(t, kv.Save(ctx, "restock/events", []byte(`[{"id":"b"}]`)))

			got, ok, err := kv.Load(ctx, "restock/events")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `[{"id":"b"}]`, string(got), "last save wins")
		})
	}
}

func TestKV_Closed(t *testing.T) {
	ctx := context.Background()

	for name, open := range openBackends() {
		t.Run(name, func(t *testing.T) {
			kv := open(t)
			require.NoError(t, kv.Close())
			require.NoError(t, kv.Close(), "second close is a no-op")

			_, _, err := kv.Load(ctx, "k")
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, kv.Save(ctx, "k", []byte(`1`)), ErrClosed)
		})
	}
}

func TestFile_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "data.json")

	s, err := NewFile(path, 0644, 0755)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "restock/watchlist", []byte(`["Carrot"]`)))
	require.NoError(t, s.Close())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	// A stale temp file from a crash is cleaned up on open
	require.NoError(t, os.WriteFile(path+".tmp", []byte("garbage"), 0644))

	reopened, err := NewFile(path, 0644, 0755)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Load(ctx, "restock/watchlist")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `["Carrot"]`, string(got))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFile_RejectsNonJSON(t *testing.T) {
	s, err := NewFile(filepath.Join(t.TempDir(), "data.json"), 0644, 0755)
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Save(context.Background(), "k", []byte("not json")))
	_, ok, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBolt_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.bolt")

	s, err := NewBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "restock/predictions", []byte(`{}`)))
	require.NoError(t, s.Close())

	reopened, err := NewBolt(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err := reopened.Load(ctx, "restock/predictions")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBolt_EmptyValueIsPresent(t *testing.T) {
	ctx := context.Background()
	s, err := NewBolt(filepath.Join(t.TempDir(), "data.bolt"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, "restock/watchlist", []byte{}))

	got, ok, err := s.Load(ctx, "restock/watchlist")
	require.NoError(t, err)
	assert.True(t, ok, "empty value must not read as absent")
	assert.Empty(t, got)

	_, ok, err = s.Load(ctx, "restock/missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	value := []byte(`"abc"`)
	require.NoError(t, m.Save(ctx, "k", value))
	value[1] = 'z'

	got, _, err := m.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(got))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{"memory", config.StorageConfig{Backend: "memory"}, false},
		{"file", config.StorageConfig{Backend: "file", Path: filepath.Join(dir, "a.json")}, false},
		{"bolt", config.StorageConfig{Backend: "bolt", Path: filepath.Join(dir, "a.bolt")}, false},
		{"sqlite", config.StorageConfig{Backend: "sqlite", Path: filepath.Join(dir, "a.sqlite")}, false},
		{"unknown", config.StorageConfig{Backend: "redis"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv, err := Open(ctx, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, kv.Close())
		})
	}

	assert.Len(t, Info(), 6)
}
