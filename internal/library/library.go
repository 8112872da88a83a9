// Package library keeps the book catalog in step with the EPUB files on disk.
//
// A full scan runs on start; afterwards the watcher's settled events drive incremental updates.
// Each file is handled under its own lock, so an event that arrives while the same file is being
// loaded waits instead of racing it.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/alexandriaapp/alexandria-server/internal/epub"
	"github.com/alexandriaapp/alexandria-server/internal/media/images"
	"github.com/alexandriaapp/alexandria-server/internal/store"
	"github.com/alexandriaapp/alexandria-server/internal/watcher"
)

// Extension is the only file type the library loads.
const Extension = ".epub"

// Outcome is what happened to one file.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeAdded
	OutcomeUpdated
)

// ScanResult counts the outcomes of a full scan.
type ScanResult struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

// Library loads EPUBs under a root directory into the catalog.
type Library struct {
	root    string
	store   *store.Store
	covers  *images.Processor
	watcher *watcher.Watcher
	logger  *slog.Logger
	workers int

	// fileLocks serializes work on one path.
	fileLocks *SyncMap[string, *sync.Mutex]
}

// New creates a library over root. covers and w may be nil: covers are then not cached, and
// Run only performs the initial scan.
func New(root string, st *store.Store, covers *images.Processor, w *watcher.Watcher, logger *slog.Logger) *Library {
	return &Library{
		root:      filepath.Clean(root),
		store:     st,
		covers:    covers,
		watcher:   w,
		logger:    logger,
		workers:   runtime.NumCPU(),
		fileLocks: NewSyncMap[string, *sync.Mutex](),
	}
}

// Root returns the library directory.
func (l *Library) Root() string {
	return l.root
}

// Run watches the library, scans it, then applies change events until ctx is done. The watch is
// installed before the scan so nothing written during the scan is missed.
func (l *Library) Run(ctx context.Context) error {
	if l.watcher == nil {
		_, err := l.Scan(ctx)
		return err
	}

	if err := l.watcher.Watch(l.root); err != nil {
		return fmt.Errorf("watch library: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.watcher.Start(gctx)
	})
	g.Go(func() error {
		if _, err := l.Scan(gctx); err != nil {
			// A failed scan leaves the catalog as it was; events still apply.
			l.logger.Error("initial library scan failed", "root", l.root, "error", err)
		}
		for {
			select {
			case <-gctx.Done():
				return nil
			case event := <-l.watcher.Events():
				if err := l.ProcessEvent(gctx, event); err != nil {
					l.logger.Error("failed to process library event",
						"type", event.Type.String(),
						"path", event.Path,
						"error", err,
					)
				}
			case err := <-l.watcher.Errors():
				l.logger.Warn("library watcher error", "error", err)
			}
		}
	})
	return g.Wait()
}

// Stop releases the watcher.
func (l *Library) Stop() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Stop()
}

// Scan loads every EPUB under the root and drops catalog entries whose file is gone.
func (l *Library) Scan(ctx context.Context) (*ScanResult, error) {
	paths, err := l.walk(ctx)
	if err != nil {
		return nil, err
	}
	l.logger.Info("scanning library", "root", l.root, "files", len(paths))

	var added, updated, unchanged, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for _, path := range paths {
		g.Go(func() error {
			outcome, err := l.Import(gctx, path)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				l.logger.Warn("failed to load book", "path", path, "error", err)
				failed.Add(1)
				return nil
			}
			switch outcome {
			case OutcomeAdded:
				added.Add(1)
			case OutcomeUpdated:
				updated.Add(1)
			default:
				unchanged.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	removed, err := l.prune(ctx, paths)
	if err != nil {
		return nil, err
	}

	res := &ScanResult{
		Added:     int(added.Load()),
		Updated:   int(updated.Load()),
		Unchanged: int(unchanged.Load()),
		Removed:   removed,
		Failed:    int(failed.Load()),
	}
	l.logger.Info("library scan complete",
		"added", res.Added,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"removed", res.Removed,
		"failed", res.Failed,
	)
	return res, nil
}

// walk lists the EPUB files under the root, skipping hidden entries.
func (l *Library) walk(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == l.root {
				return err
			}
			l.logger.Warn("walk error", "path", path, "error", err)
			return nil
		}
		if path != l.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(path), Extension) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk library: %w", err)
	}
	return paths, nil
}

// prune removes catalog entries under the root whose files were not found.
func (l *Library) prune(ctx context.Context, found []string) (int, error) {
	present := make(map[string]struct{}, len(found))
	for _, p := range found {
		present[p] = struct{}{}
	}

	books, err := l.store.ListBooks(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, b := range books {
		if _, ok := present[b.Path]; ok || !l.contains(b.Path) {
			continue
		}
		if err := l.forget(ctx, b.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (l *Library) contains(path string) bool {
	rel, err := filepath.Rel(l.root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ProcessEvent applies one watcher event.
func (l *Library) ProcessEvent(ctx context.Context, event watcher.Event) error {
	l.logger.Debug("processing event",
		"type", event.Type.String(),
		"path", event.Path,
	)
	if !strings.EqualFold(filepath.Ext(event.Path), Extension) {
		return nil
	}

	switch event.Type {
	case watcher.EventAdded, watcher.EventModified:
		outcome, err := l.Import(ctx, event.Path)
		if err != nil {
			return err
		}
		if outcome != OutcomeUnchanged {
			l.logger.Info("library book loaded", "path", event.Path, "event", event.Type.String())
		}
		return nil
	case watcher.EventRemoved:
		_, err := l.Remove(ctx, event.Path)
		return err
	default:
		l.logger.Warn("unknown event type",
			"type", event.Type,
			"path", event.Path,
		)
		return nil
	}
}

func (l *Library) lock(path string) func() {
	m, _ := l.fileLocks.LoadOrStore(path, &sync.Mutex{})
	m.Lock()
	return m.Unlock
}

// Import loads the EPUB at path and upserts its catalog entry. A file whose size and
// modification time match the catalog is left alone.
func (l *Library) Import(ctx context.Context, path string) (Outcome, error) {
	unlock := l.lock(path)
	defer unlock()

	info, err := os.Stat(path)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("stat %s: %w", path, err)
	}

	existing, err := l.store.BookByPath(ctx, path)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return OutcomeUnchanged, err
	}
	if existing != nil && existing.Size == info.Size() && existing.ModTime == info.ModTime().Unix() {
		return OutcomeUnchanged, nil
	}

	book, err := epub.Open(path)
	if err != nil {
		return OutcomeUnchanged, err
	}
	defer book.Close()

	entry := book.Domain()
	entry.ScannedAt = l.store.Stamp()
	if l.covers != nil {
		cover, err := l.covers.Process(book)
		if err != nil {
			l.logger.Warn("failed to cache cover", "path", path, "error", err)
		} else if cover != nil {
			entry.Cover = cover
		}
	}

	// A rewritten file may carry a new identifier; the old entry then goes.
	if existing != nil && existing.Key != entry.Key {
		if err := l.forget(ctx, existing.Key); err != nil && !errors.Is(err, store.ErrNotFound) {
			return OutcomeUnchanged, err
		}
		existing = nil
	}
	if other, err := l.store.GetBook(ctx, entry.Key); err == nil && other.Path != path {
		l.logger.Warn("duplicate book identifier, keeping the newest file",
			"book_key", entry.Key,
			"previous_path", other.Path,
			"path", path,
		)
	}

	if err := l.store.UpsertBook(ctx, entry); err != nil {
		return OutcomeUnchanged, err
	}
	if existing != nil {
		return OutcomeUpdated, nil
	}
	return OutcomeAdded, nil
}

// Remove drops the catalog entry loaded from path. It reports false when there was none.
func (l *Library) Remove(ctx context.Context, path string) (bool, error) {
	unlock := l.lock(path)
	defer func() {
		unlock()
		l.fileLocks.Delete(path)
	}()

	b, err := l.store.BookByPath(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := l.forget(ctx, b.Key); err != nil {
		return false, err
	}
	l.logger.Info("library book removed", "book_key", b.Key, "path", path)
	return true, nil
}

// forget deletes a catalog entry and its cached cover. Annotations and progress stay.
func (l *Library) forget(ctx context.Context, bookKey string) error {
	if err := l.store.DeleteBook(ctx, bookKey); err != nil {
		return err
	}
	if l.covers != nil {
		if err := l.covers.Forget(bookKey); err != nil {
			l.logger.Warn("failed to delete cached cover", "book_key", bookKey, "error", err)
		}
	}
	return nil
}
