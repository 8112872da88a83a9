package reconcile_test

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/epub"
	"github.com/alexandriaapp/alexandria-server/internal/epub/epubtest"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/reconcile"
	"github.com/alexandriaapp/alexandria-server/internal/render"
	"github.com/alexandriaapp/alexandria-server/internal/render/memdoc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu    sync.Mutex
	items []*domain.Annotation
	calls int
}

func (f *fakeStore) ListForBook(_ context.Context, bookKey string, kinds ...domain.AnnotationKind) ([]*domain.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []*domain.Annotation
	for _, a := range f.items {
		if a.BookKey == bookKey && (len(kinds) == 0 || slices.Contains(kinds, a.Kind)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) add(a *domain.Annotation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, a)
}

func (f *fakeStore) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = slices.DeleteFunc(f.items, func(a *domain.Annotation) bool { return a.ID == id })
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type rendererFunc func(ctx context.Context, doc render.Document, opts domain.DisplayOptions) (render.Engine, error)

func (f rendererFunc) Render(ctx context.Context, doc render.Document, opts domain.DisplayOptions) (render.Engine, error) {
	return f(ctx, doc, opts)
}

const bookKey = "epubjs:urn:isbn:9780142437247"

// openSurface renders the first page of the test book.
func openSurface(t *testing.T) (*render.Session, *memdoc.Engine) {
	t.Helper()
	data, err := epubtest.MobyDick().Bytes()
	require.NoError(t, err)
	b, err := epub.Read(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, bookKey, b.Key())

	var eng *memdoc.Engine
	renderer := rendererFunc(func(_ context.Context, _ render.Document, opts domain.DisplayOptions) (render.Engine, error) {
		eng = memdoc.New(b, opts, 0, 0, nil)
		return eng, nil
	})
	s, err := render.Open(context.Background(), epub.NewDocument(b), renderer, render.Options{
		Display: domain.DisplayOptions{FontSize: 100, FontFamily: domain.FontGeorgia, TextAlign: domain.AlignLeft},
	})
	require.NoError(t, err)
	require.NoError(t, s.Display(context.Background(), ""))
	t.Cleanup(s.Destroy)
	return s, eng
}

func highlight(id string, loc location.Location, text string) *domain.Annotation {
	return &domain.Annotation{ID: id, BookKey: bookKey, Kind: domain.KindHighlight, Location: loc, Text: text, Color: domain.ColorYellow}
}

func markedText(eng *memdoc.Engine) []string {
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

func pageText(eng *memdoc.Engine) string {
	var sb strings.Builder
	for _, p := range eng.Page() {
		for _, seg := range p.Segments {
			sb.WriteString(seg.Text)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestReconcile_AppliesStoredHighlights(t *testing.T) {
	s, eng := openSurface(t)
	store := &fakeStore{}
	store.add(highlight("hl-1", location.Span(0, 1, 0, 7), "Call me"))
	store.add(&domain.Annotation{ID: "note-1", BookKey: bookKey, Kind: domain.KindNote, Location: location.Span(0, 2, 0, 4), Text: "Some"})

	r := reconcile.New(store, nil, 0)
	before := pageText(eng)

	res := r.Reconcile(context.Background(), bookKey, s)
	assert.Equal(t, 1, res.Applied)
	assert.Zero(t, res.Failed)
	assert.Equal(t, []location.Location{location.Span(0, 1, 0, 7)}, s.Highlights())
	assert.Equal(t, []string{"Call me"}, markedText(eng))
	assert.Equal(t, before, pageText(eng), "marks never change text")
}

func TestReconcile_IsIdempotent(t *testing.T) {
	s, eng := openSurface(t)
	store := &fakeStore{}
	store.add(highlight("hl-1", location.Span(0, 1, 0, 7), "Call me"))
	store.add(highlight("hl-2", location.Span(0, 1, 5, 15), "me Ishmael"))
	r := reconcile.New(store, nil, 0)

	r.Reconcile(context.Background(), bookKey, s)
	first := eng.Page()
	res := r.Reconcile(context.Background(), bookKey, s)

	assert.Equal(t, 2, res.Applied)
	assert.Zero(t, res.Removed)
	assert.Equal(t, first, eng.Page())
	assert.Len(t, s.Highlights(), 2)
}

func TestReconcile_RemovesUnbackedMarks(t *testing.T) {
	s, eng := openSurface(t)
	require.NoError(t, s.Highlight(location.Span(0, 2, 0, 4), render.HighlightDecoration(domain.ColorYellow)))
	require.Equal(t, []string{"Some"}, markedText(eng))

	res := reconcile.New(&fakeStore{}, nil, 0).Reconcile(context.Background(), bookKey, s)
	assert.Equal(t, 1, res.Removed)
	assert.Empty(t, s.Highlights())
	assert.Empty(t, markedText(eng))
}

func TestReconcile_FailuresAreIsolated(t *testing.T) {
	s, _ := openSurface(t)
	store := &fakeStore{}
	store.add(highlight("hl-bad", "not-a-cfi", "anything"))
	store.add(highlight("hl-long", location.Span(0, 1, 0, 500), "too long"))
	store.add(highlight("hl-ok", location.Span(0, 1, 0, 4), "Call"))

	res := reconcile.New(store, nil, 0).Reconcile(context.Background(), bookKey, s)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, []location.Location{location.Span(0, 1, 0, 4)}, s.Highlights())
}

func TestReconcile_WrongBookIsRefused(t *testing.T) {
	s, _ := openSurface(t)
	store := &fakeStore{}

	res := reconcile.New(store, nil, 0).Reconcile(context.Background(), "epubjs:another", s)
	assert.True(t, res.Skipped)
	assert.Zero(t, store.callCount())
}

func TestReconcile_DetectsDrift(t *testing.T) {
	s, _ := openSurface(t)
	store := &fakeStore{}
	store.add(highlight("hl-drift", location.Span(0, 1, 0, 7), "Call Ahab"))
	store.add(highlight("hl-spacing", location.Span(0, 1, 0, 15), "Call  me\nIshmael"))

	res := reconcile.New(store, nil, 0).Reconcile(context.Background(), bookKey, s)
	assert.Equal(t, []string{"hl-drift"}, res.Drifted)
	assert.Equal(t, 2, res.Applied, "drifted highlights are still drawn")
}

func TestReconcile_ClosedSurface(t *testing.T) {
	s, _ := openSurface(t)
	store := &fakeStore{}
	store.add(highlight("hl-1", location.Span(0, 1, 0, 7), "Call me"))
	s.Destroy()

	res := reconcile.New(store, nil, 0).Reconcile(context.Background(), bookKey, s)
	assert.True(t, res.Skipped)
}

func TestSchedule_NewerPassSupersedesPending(t *testing.T) {
	s, eng := openSurface(t)
	store := &fakeStore{}
	store.add(highlight("hl-1", location.Span(0, 1, 0, 7), "Call me"))
	r := reconcile.New(store, nil, 30*time.Millisecond)
	defer r.Close()

	ctx := context.Background()
	for range 5 {
		r.Schedule(ctx, bookKey, s)
	}

	assert.Eventually(t, func() bool { return len(markedText(eng)) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, store.callCount())
}

func TestSchedule_CloseCancelsPending(t *testing.T) {
	s, _ := openSurface(t)
	store := &fakeStore{}
	r := reconcile.New(store, nil, time.Hour)

	r.Schedule(context.Background(), bookKey, s)
	r.Close()
	r.Schedule(context.Background(), bookKey, s)

	assert.Zero(t, store.callCount())
}

func TestRemoveHighlight(t *testing.T) {
	s, eng := openSurface(t)
	store := &fakeStore{}
	store.add(highlight("hl-1", location.Span(0, 1, 0, 4), "Call"))
	store.add(highlight("hl-2", location.Span(0, 3, 0, 5), "It is"))
	r := reconcile.New(store, nil, 0)
	r.Reconcile(context.Background(), bookKey, s)
	before := pageText(eng)
	renders := eng.Renders()

	store.remove("hl-1")
	require.NoError(t, r.RemoveHighlight(context.Background(), bookKey, s, location.Span(0, 1, 0, 4)))

	assert.Equal(t, []location.Location{location.Span(0, 3, 0, 5)}, s.Highlights())
	assert.Equal(t, []string{"It is"}, markedText(eng))
	assert.Equal(t, before, pageText(eng))
	assert.Greater(t, eng.Renders(), renders, "the page is redisplayed")
}
