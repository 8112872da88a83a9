package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/location"
)

const (
	moby  = "epubjs:moby-dick"
	other = "epubjs:other"
)

// setupTestIndex creates a temporary on-disk search index for testing.
func setupTestIndex(t *testing.T) *SearchIndex {
	t.Helper()
	index, err := NewSearchIndex(Options{DataPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func highlight(id, bookKey, text string) *domain.Annotation {
	return &domain.Annotation{
		ID:        id,
		BookKey:   bookKey,
		Kind:      domain.KindHighlight,
		Location:  location.Span(0, 1, 0, len(text)),
		Text:      text,
		Color:     domain.ColorYellow,
		CreatedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func note(id, bookKey, text, body string) *domain.Annotation {
	a := highlight(id, bookKey, text)
	a.Kind = domain.KindNote
	a.Color = ""
	a.Body = body
	return a
}

func hitIDs(r *SearchResult) []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.ID
	}
	return ids
}

func TestNewSearchIndex(t *testing.T) {
	index := setupTestIndex(t)

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestNewSearchIndex_ReopensExisting(t *testing.T) {
	dir := t.TempDir()
	index, err := NewSearchIndex(Options{DataPath: dir})
	require.NoError(t, err)
	require.NoError(t, index.IndexAnnotation(context.Background(), highlight("hl-1", moby, "Call me Ishmael")))
	require.NoError(t, index.Close())

	index, err = NewSearchIndex(Options{DataPath: dir})
	require.NoError(t, err)
	defer index.Close()
	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestIndexAnnotation_SkipsBookmarks(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()

	require.NoError(t, index.IndexAnnotation(ctx, highlight("hl-1", moby, "Call me Ishmael")))
	require.NoError(t, index.IndexAnnotation(ctx, &domain.Annotation{ID: "bm-1", BookKey: moby, Kind: domain.KindBookmark, Location: location.Point(0, 0, 0)}))

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestSearch_ScopedToBook(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()
	require.NoError(t, index.IndexAnnotations(ctx, []*domain.Annotation{
		highlight("hl-1", moby, "Call me Ishmael"),
		highlight("hl-2", other, "Ishmael was not his name"),
		note("note-1", moby, "the watery part of the world", "whaling as an escape"),
	}))

	params := DefaultSearchParams()
	params.Query = "ishmael"
	params.BookKey = moby
	result, err := index.Search(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"hl-1"}, hitIDs(result))
	assert.Equal(t, moby, result.Hits[0].BookKey)
	assert.Equal(t, "Call me Ishmael", result.Hits[0].Text)
	assert.NotEmpty(t, result.Hits[0].Highlights["text"])

	params.BookKey = ""
	result, err = index.Search(ctx, params)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hl-1", "hl-2"}, hitIDs(result))
}

func TestSearch_NoteBodiesAndKinds(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()
	require.NoError(t, index.IndexAnnotations(ctx, []*domain.Annotation{
		highlight("hl-1", moby, "a whale of a time"),
		note("note-1", moby, "the watery part of the world", "whales everywhere"),
	}))

	params := DefaultSearchParams()
	params.Query = "whale"
	params.BookKey = moby
	result, err := index.Search(ctx, params)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hl-1", "note-1"}, hitIDs(result), "stemming matches whales")

	params.Kinds = []string{string(domain.KindNote)}
	result, err = index.Search(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"note-1"}, hitIDs(result))
	assert.Equal(t, "whales everywhere", result.Hits[0].Body)
}

func TestSearch_FuzzyMatch(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()
	require.NoError(t, index.IndexAnnotation(ctx, highlight("hl-1", moby, "Call me Ishmael")))

	params := DefaultSearchParams()
	params.Query = "ishmail"
	result, err := index.Search(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"hl-1"}, hitIDs(result))
}

func TestDeleteAnnotations(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()
	require.NoError(t, index.IndexAnnotations(ctx, []*domain.Annotation{
		highlight("hl-1", moby, "Call me Ishmael"),
		highlight("hl-2", moby, "Some years ago"),
	}))

	require.NoError(t, index.DeleteAnnotations(ctx, "hl-1", "hl-unknown"))
	require.NoError(t, index.DeleteAnnotations(ctx))

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

type sliceSource []*domain.Annotation

func (s sliceSource) AllAnnotations(_ context.Context, fn func(*domain.Annotation) error) error {
	for _, a := range s {
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

func TestRebuild(t *testing.T) {
	for _, inMemory := range []bool{false, true} {
		opts := Options{DataPath: t.TempDir(), InMemory: inMemory}
		index, err := NewSearchIndex(opts)
		require.NoError(t, err)
		ctx := context.Background()

		require.NoError(t, index.IndexAnnotation(ctx, highlight("hl-stale", moby, "stale entry")))

		n, err := index.Rebuild(ctx, sliceSource{
			highlight("hl-1", moby, "Call me Ishmael"),
			note("note-1", moby, "Some years ago", "money"),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		params := DefaultSearchParams()
		params.Query = "stale"
		result, err := index.Search(ctx, params)
		require.NoError(t, err)
		assert.Empty(t, result.Hits)

		count, err := index.DocumentCount()
		require.NoError(t, err)
		assert.Equal(t, uint64(2), count)
		require.NoError(t, index.Close())
	}
}

func TestBuildSearchQuery_MatchAllWithoutFilters(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()
	require.NoError(t, index.IndexAnnotation(ctx, highlight("hl-1", moby, "Call me Ishmael")))

	result, err := index.Search(ctx, SearchParams{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Total)
}
