package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
)

// SearchIndex wraps a Bleve index of annotations.
//
// Thread safety: All public methods are safe for concurrent use.
// The mutex protects against index corruption during rebuild operations.
type SearchIndex struct {
	index  bleve.Index
	path   string
	logger *slog.Logger
	mu     sync.RWMutex // Protects index operations during rebuild
}

// Options configures the search index.
type Options struct {
	DataPath string       // Directory for index storage
	Logger   *slog.Logger // Logger for operations (uses discard if nil)
	// InMemory keeps the index in memory only. DataPath is ignored.
	InMemory bool
}

// mappingVersion is incremented whenever the index mapping changes.
// This triggers an automatic rebuild on startup when the version doesn't match.
const mappingVersion = "1"

// NewSearchIndex creates or opens a search index.
// If the existing index is corrupted or has an outdated mapping, it's removed and recreated; callers
// learn about that through NeedsRebuild and refill it from the store.
func NewSearchIndex(opts Options) (*SearchIndex, error) {
	log := logger.OrDiscard(opts.Logger)

	if opts.InMemory {
		index, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create memory index: %w", err)
		}
		return &SearchIndex{index: index, logger: log}, nil
	}

	if err := os.MkdirAll(opts.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	indexPath := filepath.Join(opts.DataPath, "annotations.bleve")
	versionPath := filepath.Join(opts.DataPath, "annotations.version")

	var index bleve.Index
	var err error
	needsRebuild := false

	indexExists := false
	if _, statErr := os.Stat(indexPath); statErr == nil {
		indexExists = true
	}

	if indexExists {
		existingVersion, readErr := os.ReadFile(versionPath)
		if readErr != nil {
			log.Info("search index has no version file, will rebuild with current mapping",
				"new_version", mappingVersion,
			)
			needsRebuild = true
		} else if string(existingVersion) != mappingVersion {
			log.Info("search index mapping version changed, will rebuild",
				"old_version", string(existingVersion),
				"new_version", mappingVersion,
			)
			needsRebuild = true
		}
	}

	if !needsRebuild && indexExists {
		index, err = bleve.Open(indexPath)
		if err != nil {
			log.Warn("failed to open existing index, will recreate",
				"path", indexPath,
				"error", err,
			)
			needsRebuild = true
		}
	}

	if needsRebuild {
		if removeErr := os.RemoveAll(indexPath); removeErr != nil {
			return nil, fmt.Errorf("remove old index: %w", removeErr)
		}
		index = nil
	}

	if index == nil {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		if writeErr := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); writeErr != nil {
			log.Warn("failed to write search version file", "error", writeErr)
		}
		log.Info("created new search index", "path", indexPath, "mapping_version", mappingVersion)
	} else {
		log.Info("opened existing search index", "path", indexPath)
	}

	return &SearchIndex{
		index:  index,
		path:   indexPath,
		logger: log,
	}, nil
}

// Close closes the index and releases resources.
func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// IndexAnnotation adds or replaces one highlight or note. Bookmarks carry no text and are skipped.
// It implements store.SearchIndexer.
func (s *SearchIndex) IndexAnnotation(ctx context.Context, a *domain.Annotation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, ok := AnnotationToSearchDocument(a)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Index(doc.ID, doc.ToMap())
}

// IndexAnnotations indexes many annotations in batches.
func (s *SearchIndex) IndexAnnotations(ctx context.Context, annotations []*domain.Annotation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexBatch(ctx, annotations)
}

// indexBatch must be called with mu held.
func (s *SearchIndex) indexBatch(ctx context.Context, annotations []*domain.Annotation) error {
	const batchSize = 500

	for i := 0; i < len(annotations); i += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+batchSize, len(annotations))

		batch := s.index.NewBatch()
		for _, a := range annotations[i:end] {
			doc, ok := AnnotationToSearchDocument(a)
			if !ok {
				continue
			}
			if err := batch.Index(doc.ID, doc.ToMap()); err != nil {
				return fmt.Errorf("batch index %s: %w", doc.ID, err)
			}
		}
		if err := s.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// DeleteAnnotations removes annotations from the index. Unknown ids are ignored.
// It implements store.SearchIndexer.
func (s *SearchIndex) DeleteAnnotations(ctx context.Context, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return s.index.Batch(batch)
}

// DocumentCount returns the total number of indexed documents.
func (s *SearchIndex) DocumentCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Source yields every indexable annotation. *store.Store implements it.
type Source interface {
	AllAnnotations(ctx context.Context, fn func(*domain.Annotation) error) error
}

// Rebuild drops the index and refills it from src.
//
// This acquires an exclusive lock and blocks searches until it finishes.
func (s *SearchIndex) Rebuild(ctx context.Context, src Source) (int, error) {
	var all []*domain.Annotation
	if err := src.AllAnnotations(ctx, func(a *domain.Annotation) error {
		all = append(all, a)
		return nil
	}); err != nil {
		return 0, fmt.Errorf("read annotations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reset(); err != nil {
		return 0, err
	}
	if err := s.indexBatch(ctx, all); err != nil {
		return 0, err
	}
	s.logger.Info("rebuilt search index", "path", s.path, "annotations", len(all))
	return len(all), nil
}

// reset must be called with mu held.
func (s *SearchIndex) reset() error {
	if err := s.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	var (
		index bleve.Index
		err   error
	)
	if s.path == "" {
		index, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("remove index: %w", err)
		}
		index, err = bleve.New(s.path, buildIndexMapping())
	}
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	s.index = index
	return nil
}
