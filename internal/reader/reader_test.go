package reader_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/epub"
	"github.com/alexandriaapp/alexandria-server/internal/epub/epubtest"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/reader"
	"github.com/alexandriaapp/alexandria-server/internal/reconcile"
	"github.com/alexandriaapp/alexandria-server/internal/render"
	"github.com/alexandriaapp/alexandria-server/internal/render/memdoc"
	"github.com/alexandriaapp/alexandria-server/internal/sse"
	"github.com/alexandriaapp/alexandria-server/internal/store"
)

var display = domain.DisplayOptions{FontSize: 100, FontFamily: domain.FontGeorgia, TextAlign: domain.AlignLeft}

type toasts struct {
	mu  sync.Mutex
	all []reader.Toast
}

func (t *toasts) Toast(toast reader.Toast) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.all = append(t.all, toast)
}

func (t *toasts) last() reader.Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.all) == 0 {
		return reader.Toast{}
	}
	return t.all[len(t.all)-1]
}

// trackingRenderer remembers the last engine so tests can look at the page.
type trackingRenderer struct {
	inner memdoc.Renderer
	mu    sync.Mutex
	last  *memdoc.Engine
}

func (r *trackingRenderer) Render(ctx context.Context, doc render.Document, opts domain.DisplayOptions) (render.Engine, error) {
	eng, err := r.inner.Render(ctx, doc, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.last = eng.(*memdoc.Engine)
	r.mu.Unlock()
	return eng, nil
}

func (r *trackingRenderer) marked() []string {
	r.mu.Lock()
	eng := r.last
	r.mu.Unlock()
	var out []string
	for _, p := range eng.Page() {
		for _, seg := range p.Segments {
			if slices.Contains(seg.Classes, "highlight-yellow") {
				out = append(out, seg.Text)
			}
		}
	}
	return out
}

type fixture struct {
	ctrl     *reader.Controller
	store    *store.Store
	renderer *trackingRenderer
	toasts   *toasts
	doc      *epub.Document
}

func newFixture(t *testing.T, opts reader.Options) *fixture {
	t.Helper()

	events := sse.NewManager(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		events.Start(ctx)
		close(done)
	}()

	b, err := store.OpenBadger(t.TempDir())
	require.NoError(t, err)
	st := store.NewWithBackend(b, nil, events)
	st.SetClock(func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) })

	data, err := epubtest.MobyDick().Bytes()
	require.NoError(t, err)
	book, err := epub.Read(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	renderer := &trackingRenderer{}
	host := render.NewHost(renderer, render.HostOptions{})
	rec := reconcile.New(st, nil, 10*time.Millisecond)

	tt := &toasts{}
	opts.Events = events
	opts.Toaster = tt
	opts.Clock = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	ctrl := reader.New(host, st, rec, opts)

	t.Cleanup(func() {
		ctrl.Close(context.Background())
		rec.Close()
		cancel()
		<-done
		st.Close()
	})
	return &fixture{ctrl: ctrl, store: st, renderer: renderer, toasts: tt, doc: epub.NewDocument(book)}
}

func (f *fixture) open(t *testing.T) *render.Session {
	t.Helper()
	require.NoError(t, f.ctrl.Open(context.Background(), f.doc, display))
	s, err := f.ctrl.Session()
	require.NoError(t, err)
	return s
}

func TestOpen_ResumesSavedProgress(t *testing.T) {
	f := newFixture(t, reader.Options{})
	require.NoError(t, f.store.SaveProgress(context.Background(), &domain.ReadingProgress{
		BookKey:  f.doc.Key(),
		Location: location.Point(1, 2, 0),
	}))

	f.open(t)

	assert.Equal(t, 1, f.ctrl.Current().SpineIndex)
	assert.Equal(t, "Book loaded successfully", f.toasts.last().Title)
}

func TestActions_RequireOpenBook(t *testing.T) {
	f := newFixture(t, reader.Options{})
	ctx := context.Background()

	_, err := f.ctrl.HighlightSelection(ctx)
	assert.ErrorIs(t, err, reader.ErrNoBook)
	_, _, err = f.ctrl.ToggleBookmark(ctx)
	assert.ErrorIs(t, err, reader.ErrNoBook)
	assert.ErrorIs(t, f.ctrl.Next(ctx), reader.ErrNoBook)
	assert.ErrorIs(t, f.ctrl.ApplyDisplayOptions(ctx, display), reader.ErrNoBook)
}

func TestHighlightSelection(t *testing.T) {
	f := newFixture(t, reader.Options{})
	s := f.open(t)
	ctx := context.Background()

	_, err := f.ctrl.HighlightSelection(ctx)
	assert.ErrorIs(t, err, reader.ErrNoSelection)

	require.NoError(t, s.Select(location.Span(0, 1, 0, 7), "Call me"))
	a, err := f.ctrl.HighlightSelection(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.KindHighlight, a.Kind)
	assert.Equal(t, "Highlight saved", f.toasts.last().Description)
	assert.Nil(t, f.ctrl.Selection(), "the selection is consumed")

	assert.Eventually(t, func() bool {
		return slices.Equal(f.renderer.marked(), []string{"Call me"})
	}, time.Second, 5*time.Millisecond)
}

func TestHighlightsFollowStoreChanges(t *testing.T) {
	f := newFixture(t, reader.Options{})
	f.open(t)
	ctx := context.Background()

	a, err := f.store.AddAnnotation(ctx, f.doc.Key(), location.Span(0, 3, 0, 5), "It is", domain.KindHighlight, domain.Payload{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return slices.Equal(f.renderer.marked(), []string{"It is"})
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.store.RemoveAnnotation(ctx, a.ID))
	assert.Eventually(t, func() bool {
		return len(f.renderer.marked()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRemoveHighlight(t *testing.T) {
	f := newFixture(t, reader.Options{})
	s := f.open(t)
	ctx := context.Background()

	require.NoError(t, s.Select(location.Span(0, 1, 0, 4), "Call"))
	a, err := f.ctrl.HighlightSelection(ctx)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(f.renderer.marked()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.ctrl.RemoveHighlight(ctx, a.ID))
	assert.Empty(t, f.renderer.marked(), "the mark comes off synchronously")
	assert.Equal(t, "Highlight removed", f.toasts.last().Description)

	_, err = f.store.GetAnnotation(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, f.ctrl.RemoveHighlight(ctx, a.ID), store.ErrNotFound)
}

func TestNotes(t *testing.T) {
	f := newFixture(t, reader.Options{})
	s := f.open(t)
	ctx := context.Background()

	require.NoError(t, s.Select(location.Span(0, 2, 0, 4), "Some"))
	note, err := f.ctrl.AddNote(ctx, "first thought")
	require.NoError(t, err)

	updated, err := f.ctrl.UpdateNote(ctx, note.ID, "second thought")
	require.NoError(t, err)
	assert.Equal(t, "second thought", updated.Body)
	assert.Equal(t, "Note saved successfully", f.toasts.last().Description)

	_, err = f.ctrl.UpdateNote(ctx, "note-missing", "x")
	assert.ErrorIs(t, err, store.ErrAnnotationNotFound)
	assert.Equal(t, "Note saved successfully", f.toasts.last().Description, "no toast for a missing note")

	require.NoError(t, s.Select(location.Span(0, 0, 0, 4), "Call"))
	h, err := f.ctrl.HighlightSelection(ctx)
	require.NoError(t, err)
	before := f.toasts.last()

	_, err = f.ctrl.UpdateNote(ctx, h.ID, "x")
	assert.ErrorIs(t, err, store.ErrNotANote)
	assert.Equal(t, before, f.toasts.last(), "highlights cannot be edited and say nothing")

	got, err := f.store.GetAnnotation(ctx, h.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Body)
}

func TestToggleBookmark(t *testing.T) {
	f := newFixture(t, reader.Options{})
	f.open(t)
	ctx := context.Background()

	added, a, err := f.ctrl.ToggleBookmark(ctx)
	require.NoError(t, err)
	require.True(t, added)
	assert.Equal(t, location.Point(0, 0, 0), a.Location)
	require.NotNil(t, a.Position)
	assert.Equal(t, "Loomings", a.Position.ChapterTitle)
	assert.Equal(t, "Bookmark added: Loomings, page 1 of 1 (Jan 1, 2024)", f.toasts.last().Description)

	added, removed, err := f.ctrl.ToggleBookmark(ctx)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, a.ID, removed.ID)

	list, err := f.store.ListForBook(ctx, f.doc.Key(), domain.KindBookmark)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestToggleBookmark_SameLocationInAnotherBook(t *testing.T) {
	f := newFixture(t, reader.Options{})
	f.open(t)
	ctx := context.Background()

	theirs, err := f.store.AddAnnotation(ctx, "epubjs:another-book", location.Point(0, 0, 0), "", domain.KindBookmark, domain.Payload{})
	require.NoError(t, err)

	added, a, err := f.ctrl.ToggleBookmark(ctx)
	require.NoError(t, err)
	require.True(t, added)
	assert.False(t, f.toasts.last().Destructive)
	assert.Equal(t, f.doc.Key(), a.BookKey)

	added, removed, err := f.ctrl.ToggleBookmark(ctx)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, a.ID, removed.ID)

	left, err := f.store.ListForBook(ctx, "epubjs:another-book", domain.KindBookmark)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, theirs.ID, left[0].ID)
}

func TestClearBookmarks(t *testing.T) {
	f := newFixture(t, reader.Options{})
	f.open(t)
	ctx := context.Background()

	_, _, err := f.ctrl.ToggleBookmark(ctx)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.GoTo(ctx, location.Point(2, 0, 0)))
	_, _, err = f.ctrl.ToggleBookmark(ctx)
	require.NoError(t, err)

	n, err := f.ctrl.ClearBookmarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "All bookmarks have been cleared", f.toasts.last().Description)
}

func TestProgressIsSavedOnNavigation(t *testing.T) {
	f := newFixture(t, reader.Options{})
	f.open(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Next(ctx))
	p, err := f.store.GetProgress(ctx, f.doc.Key())
	require.NoError(t, err)
	assert.Equal(t, 1, p.SpineIndex)
	assert.InDelta(t, 33.3, p.Percentage, 0.05)

	require.NoError(t, f.ctrl.Prev(ctx))
	p, err = f.store.GetProgress(ctx, f.doc.Key())
	require.NoError(t, err)
	assert.Equal(t, location.Point(0, 0, 0), p.Location)
	assert.Zero(t, p.Percentage)
}

func TestApplyDisplayOptions(t *testing.T) {
	f := newFixture(t, reader.Options{})
	first := f.open(t)
	ctx := context.Background()
	require.NoError(t, f.ctrl.GoTo(ctx, location.Point(1, 1, 0)))

	larger := display
	larger.FontSize = 150
	require.NoError(t, f.ctrl.ApplyDisplayOptions(ctx, larger))

	second, err := f.ctrl.Session()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, first.Closed())
	assert.Equal(t, 150, second.Options().FontSize)
	assert.Equal(t, 1, f.ctrl.Current().SpineIndex)
}

type fakeSharer struct{ err error }

func (s fakeSharer) Share(context.Context, reader.ShareContent) error { return s.err }

type fakeClipboard struct{ text string }

func (c *fakeClipboard) WriteText(_ context.Context, text string) error {
	c.text = text
	return nil
}

func TestShareSelection(t *testing.T) {
	t.Run("falls back to clipboard", func(t *testing.T) {
		clip := &fakeClipboard{}
		f := newFixture(t, reader.Options{Sharer: fakeSharer{err: errors.New("not allowed")}, Clipboard: clip})
		s := f.open(t)
		require.NoError(t, s.Select(location.Span(0, 1, 0, 16), "Call me Ishmael."))

		require.NoError(t, f.ctrl.ShareSelection(context.Background()))
		assert.Equal(t, `"Call me Ishmael." from Moby-Dick`, clip.text)
		assert.Equal(t, "Passage copied to clipboard", f.toasts.last().Description)
	})

	t.Run("cancelled share is not an error", func(t *testing.T) {
		clip := &fakeClipboard{}
		f := newFixture(t, reader.Options{Sharer: fakeSharer{err: reader.ErrShareCancelled}, Clipboard: clip})
		s := f.open(t)
		require.NoError(t, s.Select(location.Span(0, 1, 0, 4), "Call"))

		require.NoError(t, f.ctrl.ShareSelection(context.Background()))
		assert.Empty(t, clip.text)
	})

	t.Run("nothing available", func(t *testing.T) {
		f := newFixture(t, reader.Options{})
		s := f.open(t)
		assert.ErrorIs(t, f.ctrl.ShareSelection(context.Background()), reader.ErrNoSelection)

		require.NoError(t, s.Select(location.Span(0, 1, 0, 4), "Call"))
		assert.ErrorIs(t, f.ctrl.ShareSelection(context.Background()), reader.ErrNoShareSink)
	})
}

func TestClose(t *testing.T) {
	f := newFixture(t, reader.Options{})
	s := f.open(t)
	require.NoError(t, f.ctrl.GoTo(context.Background(), location.Point(2, 0, 0)))

	f.ctrl.Close(context.Background())
	f.ctrl.Close(context.Background())

	assert.True(t, s.Closed())
	p, err := f.store.GetProgress(context.Background(), f.doc.Key())
	require.NoError(t, err)
	assert.Equal(t, 2, p.SpineIndex)
	assert.ErrorIs(t, f.ctrl.Open(context.Background(), f.doc, display), render.ErrSessionClosed)
}
