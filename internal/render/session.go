package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
)

// DefaultResizeDebounce coalesces bursts of viewport changes.
const DefaultResizeDebounce = 100 * time.Millisecond

// Options configure a session.
type Options struct {
	Display        domain.DisplayOptions
	ResizeDebounce time.Duration
	Logger         *slog.Logger
	// Validate checks Display before the engine is built. Nil skips validation.
	Validate func(any) error
}

type handlers[E any] struct {
	next int
	fns  map[int]func(E)
}

func (h *handlers[E]) add(fn func(E)) int {
	if h.fns == nil {
		h.fns = make(map[int]func(E))
	}
	h.next++
	h.fns[h.next] = fn
	return h.next
}

func (h *handlers[E]) snapshot() []func(E) {
	out := make([]func(E), 0, len(h.fns))
	for _, fn := range h.fns {
		out = append(out, fn)
	}
	return out
}

// Session is one rendering of one document. Engine calls are serialized; events raised during a
// call are delivered after the call returns, so handlers may call back into the session.
type Session struct {
	doc      Document
	engine   Engine
	opts     domain.DisplayOptions
	logger   *slog.Logger
	debounce time.Duration

	// mu serializes engine calls.
	mu     sync.Mutex
	closed bool

	evMu       sync.Mutex
	collecting bool
	pending    []Event
	rendered   handlers[RenderedEvent]
	relocated  handlers[LocationChangedEvent]
	selected   handlers[SelectedEvent]

	resizeMu     sync.Mutex
	resizeTimer  *time.Timer
	resizeWidth  int
	resizeHeight int

	unsubscribeEngine func()
	destroyOnce       sync.Once
}

var _ location.Resolver = (*Session)(nil)

// Open waits for doc to be ready, builds an engine and subscribes to its events. Nothing is
// displayed until Display is called.
func Open(ctx context.Context, doc Document, renderer Renderer, opts Options) (*Session, error) {
	if opts.Validate != nil {
		if err := opts.Validate(opts.Display); err != nil {
			return nil, err
		}
	}
	if err := doc.Ready(ctx); err != nil {
		return nil, fmt.Errorf("load %s: %w", doc.Key(), err)
	}
	engine, err := renderer.Render(ctx, doc, opts.Display)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", doc.Key(), err)
	}

	s := &Session{
		doc:      doc,
		engine:   engine,
		opts:     opts.Display,
		logger:   logger.OrDiscard(opts.Logger).With("book_key", doc.Key()),
		debounce: opts.ResizeDebounce,
	}
	if s.debounce <= 0 {
		s.debounce = DefaultResizeDebounce
	}
	s.unsubscribeEngine = engine.Subscribe(s.onEngineEvent)
	return s, nil
}

// BookKey returns the key of the rendered book.
func (s *Session) BookKey() string { return s.doc.Key() }

// Options returns the display options the session was opened with.
func (s *Session) Options() domain.DisplayOptions { return s.opts }

// Display shows loc, or the default position for an empty location.
func (s *Session) Display(ctx context.Context, loc location.Location) error {
	return s.call(func() error { return s.engine.Display(ctx, loc) })
}

// Next turns one page forward.
func (s *Session) Next(ctx context.Context) error {
	return s.call(func() error { return s.engine.Next(ctx) })
}

// Prev turns one page back.
func (s *Session) Prev(ctx context.Context) error {
	return s.call(func() error { return s.engine.Prev(ctx) })
}

// Current describes the visible range. The zero Position is returned once closed.
func (s *Session) Current() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Position{SpineIndex: -1}
	}
	return s.engine.Current()
}

// Resolve implements location.Resolver.
func (s *Session) Resolve(ctx context.Context, loc location.Location) (location.Resolved, error) {
	var res location.Resolved
	err := s.call(func() error {
		var err error
		res, err = s.engine.Resolve(ctx, loc)
		return err
	})
	return res, err
}

// TextAt returns the rendered text at loc.
func (s *Session) TextAt(ctx context.Context, loc location.Location) (string, error) {
	var text string
	err := s.call(func() error {
		var err error
		text, err = s.engine.TextAt(ctx, loc)
		return err
	})
	return text, err
}

// Highlight marks loc on the rendered content.
func (s *Session) Highlight(loc location.Location, d Decoration) error {
	return s.call(func() error { return s.engine.Decorations().Highlight(loc, d) })
}

// Unhighlight removes the mark at loc.
func (s *Session) Unhighlight(loc location.Location) error {
	return s.call(func() error { return s.engine.Decorations().Unhighlight(loc) })
}

// Highlights lists marked locations.
func (s *Session) Highlights() []location.Location {
	var out []location.Location
	_ = s.call(func() error {
		out = s.engine.Decorations().Highlights()
		return nil
	})
	return out
}

// Select reports a user selection, as a touch or mouse gesture on a real surface would.
func (s *Session) Select(rng location.Location, text string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	s.onEngineEvent(Event{Type: EventSelected, Range: rng, Text: text})
	return nil
}

// Resize schedules a re-layout. Calls within the debounce window coalesce into one engine resize
// with the last dimensions. Non-positive sizes are ignored.
func (s *Session) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	s.resizeMu.Lock()
	defer s.resizeMu.Unlock()
	s.resizeWidth, s.resizeHeight = width, height
	if s.resizeTimer != nil {
		s.resizeTimer.Stop()
	}
	s.resizeTimer = time.AfterFunc(s.debounce, s.flushResize)
}

func (s *Session) flushResize() {
	s.resizeMu.Lock()
	w, h := s.resizeWidth, s.resizeHeight
	s.resizeTimer = nil
	s.resizeMu.Unlock()

	err := s.call(func() error { return s.engine.Resize(w, h) })
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		s.logger.Warn("resize failed", "width", w, "height", h, "error", err)
	}
}

// OnRendered registers fn for rendered events. Call the returned function to unsubscribe.
func (s *Session) OnRendered(fn func(RenderedEvent)) func() {
	return subscribe(s, &s.rendered, fn)
}

// OnLocationChanged registers fn for relocations.
func (s *Session) OnLocationChanged(fn func(LocationChangedEvent)) func() {
	return subscribe(s, &s.relocated, fn)
}

// OnSelected registers fn for selections.
func (s *Session) OnSelected(fn func(SelectedEvent)) func() {
	return subscribe(s, &s.selected, fn)
}

func subscribe[E any](s *Session, h *handlers[E], fn func(E)) func() {
	s.evMu.Lock()
	id := h.add(fn)
	s.evMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.evMu.Lock()
			delete(h.fns, id)
			s.evMu.Unlock()
		})
	}
}

// call runs fn against the engine with the session lock held, then delivers the events fn raised.
func (s *Session) call(fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	s.evMu.Lock()
	s.collecting = true
	s.evMu.Unlock()

	err := fn()

	s.evMu.Lock()
	s.collecting = false
	events := s.pending
	s.pending = nil
	s.evMu.Unlock()
	s.mu.Unlock()

	for _, e := range events {
		s.dispatch(e)
	}
	return err
}

func (s *Session) onEngineEvent(e Event) {
	s.evMu.Lock()
	if s.collecting {
		s.pending = append(s.pending, e)
		s.evMu.Unlock()
		return
	}
	s.evMu.Unlock()
	s.dispatch(e)
}

func (s *Session) dispatch(e Event) {
	key := s.doc.Key()

	s.evMu.Lock()
	var run func()
	switch e.Type {
	case EventRendered:
		fns := s.rendered.snapshot()
		ev := RenderedEvent{BookKey: key, Position: e.Position}
		run = func() {
			for _, fn := range fns {
				fn(ev)
			}
		}
	case EventRelocated:
		fns := s.relocated.snapshot()
		ev := LocationChangedEvent{BookKey: key, Position: e.Position}
		run = func() {
			for _, fn := range fns {
				fn(ev)
			}
		}
	case EventSelected:
		fns := s.selected.snapshot()
		ev := SelectedEvent{BookKey: key, Range: e.Range, Text: e.Text}
		run = func() {
			for _, fn := range fns {
				fn(ev)
			}
		}
	default:
		s.evMu.Unlock()
		return
	}
	s.evMu.Unlock()
	run()
}

// Destroy releases the session: pending resizes are cancelled, every handler is dropped and the
// engine is destroyed. Failures are logged. Safe to call more than once.
func (s *Session) Destroy() {
	s.destroyOnce.Do(func() {
		s.resizeMu.Lock()
		if s.resizeTimer != nil {
			s.resizeTimer.Stop()
			s.resizeTimer = nil
		}
		s.resizeMu.Unlock()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.evMu.Lock()
		s.rendered = handlers[RenderedEvent]{}
		s.relocated = handlers[LocationChangedEvent]{}
		s.selected = handlers[SelectedEvent]{}
		s.pending = nil
		s.evMu.Unlock()

		if s.unsubscribeEngine != nil {
			s.unsubscribeEngine()
		}
		if err := s.engine.Destroy(); err != nil {
			s.logger.Warn("engine destroy failed", "error", err)
		}
		s.logger.Debug("render session destroyed")
	})
}

// Closed reports whether Destroy has run.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
