package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

const badgerPrefix = "kv:"

// Badger stores values in a badger database directory.
type Badger struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewBadger opens or creates a badger database at dir.
func NewBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Load(_ context.Context, key string) ([]byte, bool, error) {
	if b.closed.Load() {
		return nil, false, ErrClosed
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, true, nil
}

func (b *Badger) Save(_ context.Context, key string, value []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPrefix+key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (b *Badger) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
