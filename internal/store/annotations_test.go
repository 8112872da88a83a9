package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/sse"
	"github.com/alexandriaapp/alexandria-server/internal/store"
)

const (
	moby  = "epubjs:moby-dick"
	other = "epubjs:other"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recordingEmitter) Emit(e any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.(sse.Event))
}

func (r *recordingEmitter) annotationEvents() []sse.AnnotationsChangedData {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sse.AnnotationsChangedData
	for _, e := range r.events {
		if e.Type == sse.EventAnnotationsChanged {
			out = append(out, e.Data.(sse.AnnotationsChangedData))
		}
	}
	return out
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// setupTestStore opens a Badger store in a temp dir with a ticking clock, so every write gets a
// distinct timestamp.
func setupTestStore(t *testing.T) (*store.Store, *store.Badger, *recordingEmitter) {
	t.Helper()
	b, err := store.OpenBadger(t.TempDir())
	require.NoError(t, err)

	em := &recordingEmitter{}
	s := store.NewWithBackend(b, nil, em)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	var mu sync.Mutex
	s.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	t.Cleanup(func() { s.Close() })
	return s, b, em
}

func addHighlight(t *testing.T, s *store.Store, bookKey string, para int, text string) *domain.Annotation {
	t.Helper()
	a, err := s.AddAnnotation(context.Background(), bookKey, location.Span(0, para, 0, len(text)), text, domain.KindHighlight, domain.Payload{})
	require.NoError(t, err)
	return a
}

func TestAddAnnotation_Highlight(t *testing.T) {
	s, _, em := setupTestStore(t)
	ctx := context.Background()

	a := addHighlight(t, s, moby, 1, "Call me Ishmael.")

	assert.Regexp(t, `^hl-`, a.ID)
	assert.Equal(t, domain.ColorYellow, a.Color)
	assert.Equal(t, domain.KindHighlight, a.Kind)

	got, err := s.GetAnnotation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	events := em.annotationEvents()
	require.Len(t, events, 1)
	assert.Equal(t, sse.ActionAdded, events[0].Action)
	assert.Equal(t, moby, events[0].BookKey)
}

func TestAddAnnotation_Validation(t *testing.T) {
	s, _, em := setupTestStore(t)
	ctx := context.Background()

	_, err := s.AddAnnotation(ctx, moby, location.Point(0, 0, 0), "", domain.KindHighlight, domain.Payload{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = s.AddAnnotation(ctx, "", location.Point(0, 0, 0), "x", domain.KindNote, domain.Payload{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = s.AddAnnotation(ctx, moby, location.Point(0, 0, 0), "x", "underline", domain.Payload{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = s.AddAnnotation(ctx, moby, location.Point(0, 0, 0), "x", domain.KindHighlight, domain.Payload{Color: "green"})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	assert.Empty(t, em.annotationEvents())
}

func TestAddAnnotation_BookmarkAtSameLocationConflicts(t *testing.T) {
	s, _, _ := setupTestStore(t)
	ctx := context.Background()
	loc := location.Point(2, 0, 0)

	bm, err := s.AddAnnotation(ctx, moby, loc, "ignored", domain.KindBookmark, domain.Payload{
		Position: &domain.BookmarkPosition{ChapterTitle: "Loomings", ChapterIndex: 0, Page: 1, PagesInChapter: 4},
	})
	require.NoError(t, err)
	assert.Empty(t, bm.Text)

	_, err = s.AddAnnotation(ctx, moby, loc, "", domain.KindBookmark, domain.Payload{})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	found, err := s.FindBookmark(ctx, moby, loc)
	require.NoError(t, err)
	assert.Equal(t, bm.ID, found.ID)
	assert.Equal(t, "Loomings", found.Position.ChapterTitle)

	_, err = s.FindBookmark(ctx, other, loc)
	assert.ErrorIs(t, err, store.ErrAnnotationNotFound)
}

func TestAddAnnotation_SameLocationInTwoBooks(t *testing.T) {
	s, _, _ := setupTestStore(t)
	ctx := context.Background()
	loc := location.Point(0, 0, 0)

	first, err := s.AddAnnotation(ctx, moby, loc, "", domain.KindBookmark, domain.Payload{})
	require.NoError(t, err)
	second, err := s.AddAnnotation(ctx, other, loc, "", domain.KindBookmark, domain.Payload{})
	require.NoError(t, err, "the same location in another book is a different place")

	_, err = s.AddAnnotation(ctx, other, loc, "", domain.KindBookmark, domain.Payload{})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	found, err := s.FindBookmark(ctx, moby, loc)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	found, err = s.FindBookmark(ctx, other, loc)
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)

	got, err := s.ListForBook(ctx, other, domain.KindBookmark)
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, ids(got))

	// Freeing the shared slot leaves the other book's bookmark where it is.
	require.NoError(t, s.RemoveAnnotation(ctx, first.ID))
	found, err = s.FindBookmark(ctx, other, loc)
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
	_, err = s.AddAnnotation(ctx, other, loc, "", domain.KindBookmark, domain.Payload{})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	require.NoError(t, s.RemoveAnnotation(ctx, second.ID))
	_, err = s.FindBookmark(ctx, other, loc)
	assert.ErrorIs(t, err, store.ErrAnnotationNotFound)
}

func TestRemoveAnnotation(t *testing.T) {
	s, _, em := setupTestStore(t)
	ctx := context.Background()

	a := addHighlight(t, s, moby, 1, "whale")
	em.reset()

	require.NoError(t, s.RemoveAnnotation(ctx, a.ID))
	_, err := s.GetAnnotation(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrAnnotationNotFound)
	require.Len(t, em.annotationEvents(), 1)
	assert.Equal(t, sse.ActionRemoved, em.annotationEvents()[0].Action)

	// Absent ids are a silent no-op.
	em.reset()
	require.NoError(t, s.RemoveAnnotation(ctx, a.ID))
	require.NoError(t, s.RemoveAnnotation(ctx, "hl-never-existed"))
	assert.Empty(t, em.annotationEvents())
}

func TestListForBook_NewestFirstAndKindFilter(t *testing.T) {
	s, _, _ := setupTestStore(t)
	ctx := context.Background()

	h1 := addHighlight(t, s, moby, 1, "first")
	n1, err := s.AddAnnotation(ctx, moby, location.Span(0, 2, 0, 3), "two", domain.KindNote, domain.Payload{Body: "remember"})
	require.NoError(t, err)
	h2 := addHighlight(t, s, moby, 3, "third")
	addHighlight(t, s, other, 1, "elsewhere")

	all, err := s.ListForBook(ctx, moby)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{h2.ID, n1.ID, h1.ID}, ids(all))

	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "list must be newest first")
	}

	highlights, err := s.ListForBook(ctx, moby, domain.KindHighlight)
	require.NoError(t, err)
	assert.Equal(t, []string{h2.ID, h1.ID}, ids(highlights))

	none, err := s.ListForBook(ctx, "epubjs:unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestListForBook_PrefixSharingBookKeys(t *testing.T) {
	s, _, _ := setupTestStore(t)
	ctx := context.Background()

	// "epubjs:a" is a prefix of "epubjs:a:b"; their records must not bleed into each other.
	addHighlight(t, s, "epubjs:a", 1, "short key")
	long := addHighlight(t, s, "epubjs:a:b", 1, "long key")

	got, err := s.ListForBook(ctx, "epubjs:a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "short key", got[0].Text)

	got, err = s.ListForBook(ctx, "epubjs:a:b")
	require.NoError(t, err)
	assert.Equal(t, []string{long.ID}, ids(got))
}

func TestListForBook_SkipsCorruptRecords(t *testing.T) {
	s, b, _ := setupTestStore(t)
	ctx := context.Background()

	good := addHighlight(t, s, moby, 1, "readable")
	require.NoError(t, b.Apply(ctx,
		store.Put("book-highlights-"+moby+":hl-broken", []byte("{not json")),
		store.Put("book-highlights-"+moby+":hl-empty", []byte(`{"id":"hl-empty","bookKey":"`+moby+`"}`)),
		store.Put("book-progress-epubcfi(/6/2!/4/2/1:0)", []byte(`[1,2,3]`)),
	))

	got, err := s.ListForBook(ctx, moby)
	require.NoError(t, err)
	assert.Equal(t, []string{good.ID}, ids(got))
}

func TestListForBook_ReadsLegacyBookmarks(t *testing.T) {
	s, b, _ := setupTestStore(t)
	ctx := context.Background()

	loc := location.Point(3, 4, 0)
	legacy := fmt.Sprintf(`{
		"cfi": %q, "timestamp": 1700000000000, "chapterInfo": "Chapter 4", "pageInfo": "Page 2 of 8",
		"bookKey": %q,
		"metadata": {"created": 1700000000000, "formattedDate": "Nov 14, 2023", "chapterTitle": "The Carpet-Bag",
			"chapterIndex": 3, "pageNumber": 2, "totalPages": 8, "exactLocation": %q}
	}`, loc, moby, loc)
	require.NoError(t, b.Apply(ctx, store.Put("book-progress-"+string(loc), []byte(legacy))))

	got, err := s.ListForBook(ctx, moby, domain.KindBookmark)
	require.NoError(t, err)
	require.Len(t, got, 1)

	bm := got[0]
	assert.Equal(t, "book-progress-"+string(loc), bm.ID)
	assert.Equal(t, "The Carpet-Bag", bm.Position.ChapterTitle)
	assert.Equal(t, 8, bm.Position.PagesInChapter)
	assert.Equal(t, int64(1700000000000), bm.CreatedAt.UnixMilli())

	// Legacy bookmarks are removable by the id they were listed with.
	require.NoError(t, s.RemoveAnnotation(ctx, bm.ID))
	got, err = s.ListForBook(ctx, moby, domain.KindBookmark)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemoveAllForBook_IsScopedAndNotifiesOnce(t *testing.T) {
	s, _, em := setupTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		addHighlight(t, s, moby, i, fmt.Sprintf("moby %d", i))
	}
	_, err := s.AddAnnotation(ctx, moby, location.Point(1, 0, 0), "", domain.KindBookmark, domain.Payload{})
	require.NoError(t, err)
	keep := addHighlight(t, s, other, 1, "keep me")
	otherBookmark, err := s.AddAnnotation(ctx, other, location.Point(1, 0, 0), "", domain.KindBookmark, domain.Payload{})
	require.NoError(t, err)
	em.reset()

	n, err := s.RemoveAllForBook(ctx, moby)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	events := em.annotationEvents()
	require.Len(t, events, 1)
	assert.Equal(t, sse.ActionCleared, events[0].Action)
	assert.Equal(t, 4, events[0].Count)

	left, err := s.ListForBook(ctx, moby)
	require.NoError(t, err)
	assert.Empty(t, left)

	survivors, err := s.ListForBook(ctx, other)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{keep.ID, otherBookmark.ID}, ids(survivors))

	found, err := s.FindBookmark(ctx, other, location.Point(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, otherBookmark.ID, found.ID)
}

func TestRemoveAllForBook_ByKind(t *testing.T) {
	s, _, _ := setupTestStore(t)
	ctx := context.Background()

	h := addHighlight(t, s, moby, 1, "stay")
	_, err := s.AddAnnotation(ctx, moby, location.Point(1, 0, 0), "", domain.KindBookmark, domain.Payload{})
	require.NoError(t, err)

	n, err := s.RemoveAllForBook(ctx, moby, domain.KindBookmark)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := s.ListForBook(ctx, moby)
	require.NoError(t, err)
	assert.Equal(t, []string{h.ID}, ids(left))
}

func TestUpdateNoteBody(t *testing.T) {
	s, _, em := setupTestStore(t)
	ctx := context.Background()

	note, err := s.AddAnnotation(ctx, moby, location.Span(0, 5, 2, 9), "harpoon", domain.KindNote, domain.Payload{Body: "draft"})
	require.NoError(t, err)
	hl := addHighlight(t, s, moby, 6, "immutable")
	em.reset()

	updated, err := s.UpdateNoteBody(ctx, note.ID, "final thoughts")
	require.NoError(t, err)
	assert.Equal(t, "final thoughts", updated.Body)
	assert.True(t, updated.UpdatedAt.After(note.UpdatedAt))
	assert.Equal(t, note.CreatedAt, updated.CreatedAt)

	reread, err := s.GetAnnotation(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "final thoughts", reread.Body)
	require.Len(t, em.annotationEvents(), 1)

	// Wrong variant and unknown ids change nothing and emit nothing.
	em.reset()
	_, err = s.UpdateNoteBody(ctx, hl.ID, "nope")
	assert.ErrorIs(t, err, store.ErrNotANote)
	_, err = s.UpdateNoteBody(ctx, "note-missing", "nope")
	assert.ErrorIs(t, err, store.ErrAnnotationNotFound)
	assert.Empty(t, em.annotationEvents())

	unchanged, err := s.GetAnnotation(ctx, hl.ID)
	require.NoError(t, err)
	assert.Empty(t, unchanged.Body)
}

func ids(as []*domain.Annotation) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}
