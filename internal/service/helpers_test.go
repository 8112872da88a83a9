package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/epub"
	"github.com/alexandriaapp/alexandria-server/internal/epub/epubtest"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/search"
	"github.com/alexandriaapp/alexandria-server/internal/store"
	"github.com/alexandriaapp/alexandria-server/internal/validation"
)

const mobyKey = "epubjs:urn:isbn:9780142437247"

var (
	testTime    = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	testDisplay = domain.DisplayOptions{
		FontSize:   100,
		FontFamily: domain.FontGeorgia,
		TextAlign:  domain.AlignLeft,
		Theme:      domain.Theme{Name: "light", Background: "#ffffff", Text: "#2A282A", Link: "#007AFF"},
	}
)

// setupTestStore creates a temporary store with Moby-Dick in the catalog.
func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(t.TempDir(), logger.Discard(), store.NewNoopEmitter())
	require.NoError(t, err)
	s.SetClock(func() time.Time { return testTime })
	t.Cleanup(func() { _ = s.Close() })

	path := epubtest.MobyDick().Write(t, t.TempDir(), "moby-dick.epub")
	book, err := epub.Open(path)
	require.NoError(t, err)
	defer book.Close()
	require.NoError(t, s.UpsertBook(context.Background(), book.Domain()))
	return s
}

// setupTestIndex creates an in-memory search index wired to s.
func setupTestIndex(t *testing.T, s *store.Store) *search.SearchIndex {
	t.Helper()
	index, err := search.NewSearchIndex(search.Options{InMemory: true, Logger: logger.Discard()})
	require.NoError(t, err)
	s.SetSearchIndexer(index)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func newTestAnnotationService(t *testing.T) (*AnnotationService, *store.Store) {
	t.Helper()
	s := setupTestStore(t)
	index := setupTestIndex(t, s)
	return NewAnnotationService(s, index, validation.New(), logger.Discard()), s
}
