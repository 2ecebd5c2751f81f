package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

var boltBucket = []byte("restock")

// Bolt stores values in a single bbolt bucket.
type Bolt struct {
	db     *bbolt.DB
	closed atomic.Bool
}

// NewBolt opens or creates a bbolt database file.
func NewBolt(dbPath string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory for bolt db: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistMapType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Load(_ context.Context, key string) ([]byte, bool, error) {
	if b.closed.Load() {
		return nil, false, ErrClosed
	}

	var (
		value []byte
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		// Bytes returned by Get are only valid inside the transaction.
		// A stored empty value is non-nil, so presence is tracked apart from it.
		if v := tx.Bucket(boltBucket).Get([]byte(key)); v != nil {
			found = true
			value = make([]byte, len(v))
			copy(value, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, found, nil
}

func (b *Bolt) Save(_ context.Context, key string, value []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (b *Bolt) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
