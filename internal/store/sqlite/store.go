// Package sqlite provides a SQLite implementation of store.Backend for deployments that prefer a
// single database file over a Badger directory.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/store"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// KV is a key/value table in a SQLite database.
type KV struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.Backend = (*KV)(nil)

// Open opens the database at path, configures WAL mode and applies the schema.
func Open(path string, logger *slog.Logger) (*KV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	if logger != nil {
		logger.Info("sqlite database opened", "path", path)
	}
	return &KV{db: db, logger: logger}, nil
}

// Get implements store.Backend.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := kv.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Apply implements store.Backend inside one transaction.
func (kv *KV) Apply(ctx context.Context, writes ...store.Write) error {
	if len(writes) == 0 {
		return ctx.Err()
	}
	tx, err := kv.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, w := range writes {
		if w.Delete {
			_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, w.Key)
		} else {
			_, err = upsert.ExecContext(ctx, w.Key, w.Value, now)
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", w.Key, err)
		}
	}
	return tx.Commit()
}

// Scan implements store.Backend. Rows are read fully before fn runs, so fn may use the database.
func (kv *KV) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	query := `SELECT key, value FROM kv WHERE key >= ? ORDER BY key`
	args := []any{prefix}
	if upper, ok := prefixUpperBound(prefix); ok {
		query = `SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key`
		args = append(args, upper)
	}

	rows, err := kv.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("scan %s: %w", prefix, err)
	}
	type pair struct {
		key   string
		value []byte
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.key, &p.value); err != nil {
			rows.Close()
			return fmt.Errorf("scan row: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

// prefixUpperBound returns the smallest string greater than every string starting with prefix.
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

// Close implements store.Backend.
func (kv *KV) Close() error {
	return kv.db.Close()
}
