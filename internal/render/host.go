package render

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
)

// Host owns the single rendering container of a reader view. It guarantees that at most one
// session is live: a replacement fully destroys the previous session before the next one opens.
type Host struct {
	renderer       Renderer
	logger         *slog.Logger
	resizeDebounce time.Duration
	validate       func(any) error

	mu        sync.Mutex
	session   *Session
	opening   bool
	onSession []func(*Session)
}

// HostOptions configure a Host.
type HostOptions struct {
	ResizeDebounce time.Duration
	Logger         *slog.Logger
	Validate       func(any) error
}

// NewHost creates a host with no session.
func NewHost(renderer Renderer, opts HostOptions) *Host {
	return &Host{
		renderer:       renderer,
		logger:         logger.OrDiscard(opts.Logger),
		resizeDebounce: opts.ResizeDebounce,
		validate:       opts.Validate,
	}
}

// OnSession registers fn to run for every new session after it opens and before it displays
// anything, so handlers see the first rendered event.
func (h *Host) OnSession(fn func(*Session)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSession = append(h.onSession, fn)
}

// Session returns the live session, or ErrNotReady while none is open.
func (h *Host) Session() (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil || h.opening {
		return nil, ErrNotReady
	}
	return h.session, nil
}

// Replace destroys the current session, opens doc with display and shows at. An empty at
// re-displays the previous session's location when the book is unchanged.
func (h *Host) Replace(ctx context.Context, doc Document, display domain.DisplayOptions, at location.Location) (*Session, error) {
	h.mu.Lock()
	prev := h.session
	h.session = nil
	h.opening = true
	hooks := append([]func(*Session){}, h.onSession...)
	h.mu.Unlock()

	if prev != nil {
		if at.IsZero() && prev.BookKey() == doc.Key() {
			at = prev.Current().Start
		}
		prev.Destroy()
	}

	s, err := Open(ctx, doc, h.renderer, Options{
		Display:        display,
		ResizeDebounce: h.resizeDebounce,
		Logger:         h.logger,
		Validate:       h.validate,
	})
	if err != nil {
		h.mu.Lock()
		h.opening = false
		h.mu.Unlock()
		return nil, err
	}

	for _, fn := range hooks {
		fn(s)
	}

	h.mu.Lock()
	h.session = s
	h.opening = false
	h.mu.Unlock()

	if err := s.Display(ctx, at); err != nil {
		h.logger.Warn("initial display failed, showing default position", "location", at, "error", err)
		if err := s.Display(ctx, ""); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Close destroys the live session.
func (h *Host) Close() {
	h.mu.Lock()
	s := h.session
	h.session = nil
	h.mu.Unlock()
	if s != nil {
		s.Destroy()
	}
}
