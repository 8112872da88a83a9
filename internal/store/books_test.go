package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/sse"
	"github.com/alexandriaapp/alexandria-server/internal/store"
)

func createTestBook(key, title string) *domain.Book {
	return &domain.Book{
		Key:         key,
		Identifier:  "urn:uuid:" + key,
		Title:       title,
		Authors:     []string{"Herman Melville"},
		Language:    "en",
		Path:        "/books/" + title + ".epub",
		SpineLength: 3,
		Contents: []domain.TOCEntry{
			{Title: "Loomings", Href: "ch1.xhtml", SpineIndex: 0},
			{Title: "The Carpet-Bag", Href: "ch2.xhtml", SpineIndex: 1},
		},
	}
}

func TestUpsertBook_AddedThenUpdated(t *testing.T) {
	s, _, em := setupTestStore(t)
	ctx := context.Background()

	b := createTestBook(moby, "Moby-Dick")
	require.NoError(t, s.UpsertBook(ctx, b))
	b.Title = "Moby-Dick; or, The Whale"
	require.NoError(t, s.UpsertBook(ctx, b))

	got, err := s.GetBook(ctx, moby)
	require.NoError(t, err)
	assert.Equal(t, "Moby-Dick; or, The Whale", got.Title)
	assert.Equal(t, "The Carpet-Bag", got.ChapterTitle(1))

	require.Len(t, em.events, 2)
	assert.Equal(t, sse.EventBookAdded, em.events[0].Type)
	assert.Equal(t, sse.EventBookUpdated, em.events[1].Type)
}

func TestUpsertBook_RequiresKey(t *testing.T) {
	s, _, _ := setupTestStore(t)
	err := s.UpsertBook(context.Background(), &domain.Book{Title: "nameless"})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestListBooks_SortedByTitle(t *testing.T) {
	s, _, _ := setupTestStore(t)
	ctx := context.Background()

	for key, title := range map[string]string{
		"epubjs:c": "walden",
		"epubjs:a": "Emma",
		"epubjs:b": "Dracula",
	} {
		require.NoError(t, s.UpsertBook(ctx, createTestBook(key, title)))
	}

	books, err := s.ListBooks(ctx)
	require.NoError(t, err)
	titles := make([]string, len(books))
	for i, b := range books {
		titles[i] = b.Title
	}
	assert.Equal(t, []string{"Dracula", "Emma", "walden"}, titles)

	byPath, err := s.BookByPath(ctx, "/books/Emma.epub")
	require.NoError(t, err)
	assert.Equal(t, "epubjs:a", byPath.Key)

	_, err = s.BookByPath(ctx, "/books/missing.epub")
	assert.ErrorIs(t, err, store.ErrBookNotFound)
}

func TestDeleteBook_KeepsAnnotations(t *testing.T) {
	s, _, em := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBook(ctx, createTestBook(moby, "Moby-Dick")))
	addHighlight(t, s, moby, 1, "survives")
	em.reset()

	require.NoError(t, s.DeleteBook(ctx, moby))
	_, err := s.GetBook(ctx, moby)
	assert.ErrorIs(t, err, store.ErrBookNotFound)
	require.Len(t, em.events, 1)
	assert.Equal(t, sse.EventBookRemoved, em.events[0].Type)

	left, err := s.ListForBook(ctx, moby)
	require.NoError(t, err)
	assert.Len(t, left, 1)

	assert.ErrorIs(t, s.DeleteBook(ctx, moby), store.ErrNotFound)
}

func TestProgress(t *testing.T) {
	s, _, em := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetProgress(ctx, moby)
	assert.ErrorIs(t, err, store.ErrProgressNotFound)

	p := &domain.ReadingProgress{BookKey: moby, Location: location.Point(1, 3, 0), SpineIndex: 1, Percentage: 33.3}
	require.NoError(t, s.SaveProgress(ctx, p))
	assert.False(t, p.UpdatedAt.IsZero())

	got, err := s.GetProgress(ctx, moby)
	require.NoError(t, err)
	assert.Equal(t, p.Location, got.Location)
	assert.InDelta(t, 33.3, got.Percentage, 0.001)

	require.Len(t, em.events, 1)
	assert.Equal(t, sse.EventProgressUpdated, em.events[0].Type)

	err = s.SaveProgress(ctx, &domain.ReadingProgress{BookKey: moby})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestFavorites(t *testing.T) {
	s, _, em := setupTestStore(t)
	ctx := context.Background()

	first := &domain.Favorite{ReaderID: "reader-1", ItemType: "book", ItemID: "epubjs:a"}
	second := &domain.Favorite{ReaderID: "reader-1", ItemType: "book", ItemID: "epubjs:b"}
	foreign := &domain.Favorite{ReaderID: "reader-2", ItemType: "book", ItemID: "epubjs:a"}
	for _, f := range []*domain.Favorite{first, second, foreign} {
		require.NoError(t, s.SetFavorite(ctx, f, true))
	}

	favs, err := s.ListFavorites(ctx, "reader-1", "book")
	require.NoError(t, err)
	require.Len(t, favs, 2)
	assert.Equal(t, "epubjs:b", favs[0].ItemID, "most recent first")

	require.NoError(t, s.SetFavorite(ctx, first, false))
	_, err = s.GetFavorite(ctx, "reader-1", "book", "epubjs:a")
	assert.ErrorIs(t, err, store.ErrFavoriteNotFound)

	still, err := s.GetFavorite(ctx, "reader-2", "book", "epubjs:a")
	require.NoError(t, err)
	assert.True(t, foreign.CreatedAt.Equal(still.CreatedAt))

	last := em.events[len(em.events)-1]
	assert.Equal(t, sse.EventFavoriteChanged, last.Type)
	assert.Equal(t, "reader-1", last.ReaderID)
}
