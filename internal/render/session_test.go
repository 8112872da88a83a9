package render_test

import (
	"bytes"
	"context"
	"errors"
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
	"github.com/alexandriaapp/alexandria-server/internal/render"
	"github.com/alexandriaapp/alexandria-server/internal/render/memdoc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var display = domain.DisplayOptions{FontSize: 100, FontFamily: domain.FontGeorgia, TextAlign: domain.AlignLeft}

func testDocument(t *testing.T) *epub.Document {
	t.Helper()
	data, err := epubtest.MobyDick().Bytes()
	require.NoError(t, err)
	b, err := epub.Read(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return epub.NewDocument(b)
}

// small paginates the test book into several pages per chapter.
var small = memdoc.Renderer{Width: 160, Height: 104}

func openSession(t *testing.T, opts render.Options) *render.Session {
	t.Helper()
	s, err := render.Open(context.Background(), testDocument(t), small, opts)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)
	return s
}

// countingEngine records resizes and otherwise does nothing.
type countingEngine struct {
	mu        sync.Mutex
	resizes   [][2]int
	destroyed int
}

func (e *countingEngine) Display(context.Context, location.Location) error { return nil }
func (e *countingEngine) Next(context.Context) error                       { return nil }
func (e *countingEngine) Prev(context.Context) error                       { return nil }
func (e *countingEngine) Current() render.Position                         { return render.Position{} }
func (e *countingEngine) Decorations() render.Decorator                    { return nil }
func (e *countingEngine) Subscribe(func(render.Event)) func()              { return func() {} }

func (e *countingEngine) Resolve(context.Context, location.Location) (location.Resolved, error) {
	return location.Resolved{}, nil
}

func (e *countingEngine) TextAt(context.Context, location.Location) (string, error) {
	return "", nil
}

func (e *countingEngine) Resize(w, h int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resizes = append(e.resizes, [2]int{w, h})
	return nil
}

func (e *countingEngine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed++
	return errors.New("already gone")
}

func (e *countingEngine) resizeCalls() [][2]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][2]int(nil), e.resizes...)
}

type staticRenderer struct{ engine render.Engine }

func (r staticRenderer) Render(context.Context, render.Document, domain.DisplayOptions) (render.Engine, error) {
	return r.engine, nil
}

type failingDoc struct{}

func (failingDoc) Key() string                 { return "epubjs:broken" }
func (failingDoc) Ready(context.Context) error { return epub.ErrNotEPUB }

func TestOpen_Validation(t *testing.T) {
	invalid := errors.New("invalid")
	_, err := render.Open(context.Background(), testDocument(t), small, render.Options{
		Display:  display,
		Validate: func(any) error { return invalid },
	})
	assert.ErrorIs(t, err, invalid)

	_, err = render.Open(context.Background(), failingDoc{}, small, render.Options{Display: display})
	assert.ErrorIs(t, err, epub.ErrNotEPUB)
}

func TestSession_EventsCarryBookKey(t *testing.T) {
	s := openSession(t, render.Options{Display: display})

	var rendered []render.RenderedEvent
	var relocated []render.LocationChangedEvent
	s.OnRendered(func(e render.RenderedEvent) { rendered = append(rendered, e) })
	s.OnLocationChanged(func(e render.LocationChangedEvent) { relocated = append(relocated, e) })

	require.NoError(t, s.Display(context.Background(), ""))
	require.NoError(t, s.Next(context.Background()))

	require.Len(t, rendered, 2)
	require.Len(t, relocated, 2)
	assert.Equal(t, s.BookKey(), rendered[0].BookKey)
	assert.Equal(t, 2, relocated[1].Position.Page)
}

func TestSession_HandlersMayCallBack(t *testing.T) {
	s := openSession(t, render.Options{Display: display})

	var seen []location.Location
	s.OnRendered(func(render.RenderedEvent) {
		seen = append(seen, s.Current().Start)
		_ = s.Highlight(location.Span(0, 1, 0, 4), render.HighlightDecoration(domain.ColorYellow))
	})

	done := make(chan error, 1)
	go func() { done <- s.Display(context.Background(), "") }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("display deadlocked on a re-entrant handler")
	}
	assert.Equal(t, []location.Location{location.Point(0, 0, 0)}, seen)
	assert.Equal(t, []location.Location{location.Span(0, 1, 0, 4)}, s.Highlights())
}

func TestSession_Unsubscribe(t *testing.T) {
	s := openSession(t, render.Options{Display: display})

	calls := 0
	unsubscribe := s.OnRendered(func(render.RenderedEvent) { calls++ })
	require.NoError(t, s.Display(context.Background(), ""))
	unsubscribe()
	unsubscribe()
	require.NoError(t, s.Next(context.Background()))

	assert.Equal(t, 1, calls)
}

func TestSession_Select(t *testing.T) {
	s := openSession(t, render.Options{Display: display})

	var got render.SelectedEvent
	s.OnSelected(func(e render.SelectedEvent) { got = e })
	require.NoError(t, s.Select(location.Span(0, 1, 0, 4), "Call"))

	assert.Equal(t, s.BookKey(), got.BookKey)
	assert.Equal(t, "Call", got.Text)
	assert.Equal(t, location.Span(0, 1, 0, 4), got.Range)
}

func TestSession_ResizeIsDebounced(t *testing.T) {
	engine := &countingEngine{}
	s, err := render.Open(context.Background(), testDocument(t), staticRenderer{engine}, render.Options{
		Display:        display,
		ResizeDebounce: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Destroy()

	for i := range 10 {
		s.Resize(400+i, 600)
	}
	s.Resize(0, 600)

	assert.Eventually(t, func() bool { return len(engine.resizeCalls()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, [][2]int{{409, 600}}, engine.resizeCalls())
}

func TestSession_DestroyCancelsPendingResize(t *testing.T) {
	engine := &countingEngine{}
	s, err := render.Open(context.Background(), testDocument(t), staticRenderer{engine}, render.Options{
		Display:        display,
		ResizeDebounce: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	s.Resize(400, 600)
	s.Destroy()
	time.Sleep(40 * time.Millisecond)

	assert.Empty(t, engine.resizeCalls())
}

func TestSession_Destroy(t *testing.T) {
	engine := &countingEngine{}
	s, err := render.Open(context.Background(), testDocument(t), staticRenderer{engine}, render.Options{Display: display})
	require.NoError(t, err)

	calls := 0
	s.OnRendered(func(render.RenderedEvent) { calls++ })

	s.Destroy()
	s.Destroy()

	assert.True(t, s.Closed())
	assert.Equal(t, 1, engine.destroyed, "engine failures are logged, not repeated")
	assert.ErrorIs(t, s.Display(context.Background(), ""), render.ErrSessionClosed)
	assert.ErrorIs(t, s.Highlight(location.Span(0, 1, 0, 4), render.Decoration{}), render.ErrSessionClosed)
	assert.ErrorIs(t, s.Select("", ""), render.ErrSessionClosed)
	assert.Equal(t, -1, s.Current().SpineIndex)
	assert.Nil(t, s.Highlights())
	assert.Zero(t, calls)
}
