package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Badger is the default Backend.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens a Badger database at path with synchronous writes.
func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &Badger{db: db}, nil
}

// Get implements Backend.
func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	return out, err
}

// Apply implements Backend. Batches too large for one transaction fall back to a write batch,
// which is applied in order but not atomically.
func (b *Badger) Apply(ctx context.Context, writes ...Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, w := range writes {
			if err := applyTxn(txn, w); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, w := range writes {
		var err error
		if w.Delete {
			err = wb.Delete([]byte(w.Key))
		} else {
			err = wb.Set([]byte(w.Key), w.Value)
		}
		if err != nil {
			return fmt.Errorf("write batch %s: %w", w.Key, err)
		}
	}
	return wb.Flush()
}

func applyTxn(txn *badger.Txn, w Write) error {
	if w.Delete {
		return txn.Delete([]byte(w.Key))
	}
	return txn.Set([]byte(w.Key), w.Value)
}

// Scan implements Backend.
func (b *Badger) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", item.Key(), err)
			}
			if err := fn(string(item.KeyCopy(nil)), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Backend.
func (b *Badger) Close() error {
	return b.db.Close()
}
