// Package store persists books, annotations, reading progress and favourites in an ordered key/value
// backend, and announces every change through an EventEmitter.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
)

// EventEmitter receives change notifications. The SSE manager implements it.
type EventEmitter interface {
	Emit(event any)
}

// NoopEmitter discards events.
type NoopEmitter struct{}

// Emit implements EventEmitter.
func (NoopEmitter) Emit(any) {}

// NewNoopEmitter returns an emitter for tests and tools that need no notifications.
func NewNoopEmitter() EventEmitter { return NoopEmitter{} }

// SearchIndexer keeps a full-text index of annotations in step with the store.
// Index failures are logged and never fail the write that triggered them.
type SearchIndexer interface {
	IndexAnnotation(ctx context.Context, a *domain.Annotation) error
	DeleteAnnotations(ctx context.Context, ids ...string) error
}

// NoopSearchIndexer indexes nothing.
type NoopSearchIndexer struct{}

func (NoopSearchIndexer) IndexAnnotation(context.Context, *domain.Annotation) error { return nil }
func (NoopSearchIndexer) DeleteAnnotations(context.Context, ...string) error       { return nil }

// Write is one mutation in an atomic batch. A nil Value with Delete set removes Key.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Put builds a set mutation.
func Put(key string, value []byte) Write { return Write{Key: key, Value: value} }

// Del builds a delete mutation.
func Del(key string) Write { return Write{Key: key, Delete: true} }

// Backend is an ordered key/value store. Badger is the default; SQLite is the alternative.
type Backend interface {
	// Get returns ErrKeyNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Apply commits writes atomically.
	Apply(ctx context.Context, writes ...Write) error
	// Scan calls fn for every key starting with prefix, in key order. Returning an error stops the scan.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
	Close() error
}

// Store is the application's persistence layer.
type Store struct {
	backend Backend
	logger  *slog.Logger

	eventEmitter  EventEmitter
	searchIndexer SearchIndexer

	clock func() time.Time
}

// New opens (or creates) a Badger database at path.
func New(path string, logger *slog.Logger, emitter EventEmitter) (*Store, error) {
	b, err := OpenBadger(path)
	if err != nil {
		return nil, err
	}
	s := NewWithBackend(b, logger, emitter)
	s.logger.Info("badger database opened", "path", path)
	return s, nil
}

// NewWithBackend wraps an already opened backend.
func NewWithBackend(b Backend, log *slog.Logger, emitter EventEmitter) *Store {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	return &Store{
		backend:       b,
		logger:        logger.OrDiscard(log),
		eventEmitter:  emitter,
		searchIndexer: NoopSearchIndexer{},
	}
}

// Close closes the backend.
func (s *Store) Close() error {
	s.logger.Info("closing database")
	return s.backend.Close()
}

// SetSearchIndexer installs the annotation indexer. The index is built after the store exists, so
// it is injected rather than passed to New.
func (s *Store) SetSearchIndexer(indexer SearchIndexer) {
	if indexer == nil {
		indexer = NoopSearchIndexer{}
	}
	s.searchIndexer = indexer
}

// get decodes the JSON value at key into dest.
func (s *Store) get(ctx context.Context, key string, dest any) error {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := decodeJSON(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func decodeJSON(raw []byte, dest any) error {
	return json.Unmarshal(raw, dest)
}

// put encodes value as JSON and stores it at key.
func (s *Store) put(ctx context.Context, key string, value any) error {
	w, err := putJSON(key, value)
	if err != nil {
		return err
	}
	return s.backend.Apply(ctx, w)
}

func putJSON(key string, value any) (Write, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Write{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return Put(key, data), nil
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.backend.Get(ctx, key)
	if isKeyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Ping checks that the backend answers reads.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.exists(ctx, bookPrefix+"ping")
	return err
}
