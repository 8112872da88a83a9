package service

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/epub"
	"github.com/alexandriaapp/alexandria-server/internal/id"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/reader"
	"github.com/alexandriaapp/alexandria-server/internal/reconcile"
	"github.com/alexandriaapp/alexandria-server/internal/render"
	"github.com/alexandriaapp/alexandria-server/internal/render/memdoc"
	"github.com/alexandriaapp/alexandria-server/internal/store"
	"github.com/alexandriaapp/alexandria-server/internal/validation"
)

// ErrPreviewNotFound is returned for unknown or reaped preview sessions.
var ErrPreviewNotFound = domainerrors.NotFound("preview session not found")

const maxPendingToasts = 20

// PreviewConfig sizes headless sessions and bounds their lifetime.
type PreviewConfig struct {
	Width          int
	Height         int
	ResizeDebounce time.Duration
	IdleTimeout    time.Duration
	ReapInterval   time.Duration
}

// Navigation actions.
const (
	NavigateNext = "next"
	NavigatePrev = "prev"
	NavigateGoTo = "goto"
)

// NavigateRequest moves a preview session.
type NavigateRequest struct {
	Action   string            `json:"action" validate:"required,oneof=next prev goto"`
	Location location.Location `json:"location,omitempty" validate:"required_if=Action goto"`
}

// Selection actions.
const (
	SelectOnly      = ""
	SelectHighlight = "highlight"
	SelectNote      = "note"
	SelectShare     = "share"
)

// SelectRequest selects a range of the visible text and optionally acts on it.
type SelectRequest struct {
	Range  location.Location `json:"range" validate:"required"`
	Text   string            `json:"text,omitempty"`
	Action string            `json:"action,omitempty" validate:"omitempty,oneof=highlight note share"`
	Body   string            `json:"body,omitempty" validate:"required_if=Action note,max=20000"`
}

// PreviewPosition describes the page a session shows.
type PreviewPosition struct {
	Start      location.Location `json:"start"`
	End        location.Location `json:"end"`
	Label      string            `json:"label"`
	SpineIndex int               `json:"spine_index"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	PageInBook int               `json:"page_in_book"`
	AtStart    bool              `json:"at_start"`
	AtEnd      bool              `json:"at_end"`
}

// PreviewView is a snapshot of a preview session. Toasts raised since the previous snapshot are
// delivered once.
type PreviewView struct {
	ID         string                  `json:"id"`
	BookKey    string                  `json:"book_key"`
	Position   PreviewPosition         `json:"position"`
	Display    domain.DisplayOptions   `json:"display"`
	Paragraphs []memdoc.Paragraph      `json:"paragraphs"`
	Highlights []location.Location     `json:"highlights"`
	Selection  *reader.Selection       `json:"selection,omitempty"`
	Progress   *domain.ReadingProgress `json:"progress,omitempty"`
	Toasts     []reader.Toast          `json:"toasts,omitempty"`
	Clipboard  string                  `json:"clipboard,omitempty"`
}

// pageRenderer builds memdoc engines and keeps the latest so the session page can be read.
type pageRenderer struct {
	memdoc.Renderer
	mu   sync.Mutex
	last *memdoc.Engine
}

func (r *pageRenderer) Render(ctx context.Context, doc render.Document, opts domain.DisplayOptions) (render.Engine, error) {
	eng, err := r.Renderer.Render(ctx, doc, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.last = eng.(*memdoc.Engine)
	r.mu.Unlock()
	return eng, nil
}

func (r *pageRenderer) page() []memdoc.Paragraph {
	r.mu.Lock()
	eng := r.last
	r.mu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.Page()
}

// toastLog keeps the toasts a session raised until the next view drains them.
type toastLog struct {
	mu      sync.Mutex
	pending []reader.Toast
}

func (l *toastLog) Toast(t reader.Toast) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, t)
	if len(l.pending) > maxPendingToasts {
		l.pending = slices.Delete(l.pending, 0, len(l.pending)-maxPendingToasts)
	}
}

func (l *toastLog) drain() []reader.Toast {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.pending
	l.pending = nil
	return out
}

// clipboard is the fallback share sink of a headless session: it remembers the copied text.
type clipboard struct {
	mu   sync.Mutex
	text string
}

func (c *clipboard) read() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func (c *clipboard) WriteText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	return nil
}

type previewSession struct {
	id       string
	bookKey  string
	ctrl     *reader.Controller
	renderer *pageRenderer
	toasts   *toastLog
	clip     *clipboard
	doc      *epub.Document

	// mu serializes requests against one session.
	mu       sync.Mutex
	lastUsed time.Time
}

// PreviewService runs headless reader sessions so clients without a rendering engine can page
// through a book, select text and annotate it. Sessions left idle are reaped.
type PreviewService struct {
	books      *BookService
	store      *store.Store
	reconciler *reconcile.Reconciler
	events     reader.Events
	validator  *validation.Validator
	logger     *slog.Logger
	config     PreviewConfig
	clock      func() time.Time

	mu       sync.Mutex
	sessions map[string]*previewSession

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPreviewService creates a preview service. events may be nil, in which case sessions only pick
// up annotation changes they make themselves.
func NewPreviewService(
	books *BookService,
	store *store.Store,
	reconciler *reconcile.Reconciler,
	events reader.Events,
	validator *validation.Validator,
	config PreviewConfig,
	logger *slog.Logger,
) *PreviewService {
	if config.Width <= 0 || config.Height <= 0 {
		config.Width, config.Height = 800, 1000
	}
	if config.ReapInterval <= 0 {
		config.ReapInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PreviewService{
		books:      books,
		store:      store,
		reconciler: reconciler,
		events:     events,
		validator:  validator,
		logger:     logger,
		config:     config,
		clock:      time.Now,
		sessions:   make(map[string]*previewSession),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Create opens bookKey in a new session. An empty at resumes the saved reading progress.
func (s *PreviewService) Create(ctx context.Context, bookKey string, display domain.DisplayOptions, at location.Location) (*PreviewView, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, domainerrors.Closed("preview service is shut down")
	}
	if err := s.validator.Validate(display); err != nil {
		return nil, err
	}
	doc, err := s.books.Open(ctx, bookKey)
	if err != nil {
		return nil, err
	}

	sessionID, err := id.Generate(id.Session)
	if err != nil {
		_ = doc.Close()
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "generate session id")
	}
	log := s.logger.With("session_id", sessionID, "book_key", bookKey)

	renderer := &pageRenderer{Renderer: memdoc.Renderer{Width: s.config.Width, Height: s.config.Height, Logger: log}}
	host := render.NewHost(renderer, render.HostOptions{
		ResizeDebounce: s.config.ResizeDebounce,
		Logger:         log,
		Validate:       s.validator.Validate,
	})
	toasts := &toastLog{}
	clip := &clipboard{}
	ctrl := reader.New(host, s.store, s.reconciler, reader.Options{
		Events:    s.events,
		Toaster:   toasts,
		Clipboard: clip,
		Logger:    log,
	})

	if err := ctrl.Open(ctx, doc, display); err != nil {
		ctrl.Close(ctx)
		_ = doc.Close()
		return nil, err
	}
	if !at.IsZero() {
		if err := ctrl.GoTo(ctx, at); err != nil {
			ctrl.Close(ctx)
			_ = doc.Close()
			return nil, err
		}
	}

	ps := &previewSession{
		id:       sessionID,
		bookKey:  bookKey,
		ctrl:     ctrl,
		renderer: renderer,
		toasts:   toasts,
		clip:     clip,
		doc:      doc,
		lastUsed: s.clock(),
	}
	s.mu.Lock()
	s.sessions[sessionID] = ps
	s.mu.Unlock()

	log.Info("preview session opened")
	return s.withSession(ctx, sessionID, nil)
}

// withSession runs fn with the session locked and returns the session's view afterwards.
func (s *PreviewService) withSession(ctx context.Context, sessionID string, fn func(*previewSession) error) (*PreviewView, error) {
	s.mu.Lock()
	ps, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrPreviewNotFound
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.lastUsed = s.clock()
	if fn != nil {
		if err := fn(ps); err != nil {
			return nil, err
		}
	}
	return s.view(ctx, ps)
}

func (s *PreviewService) view(ctx context.Context, ps *previewSession) (*PreviewView, error) {
	sess, err := ps.ctrl.Session()
	if err != nil {
		return nil, err
	}
	pos := ps.ctrl.Current()
	v := &PreviewView{
		ID:      ps.id,
		BookKey: ps.bookKey,
		Position: PreviewPosition{
			Start:      pos.Start,
			End:        pos.End,
			Label:      location.ToDisplayMetadata(ctx, sess, pos.Start).Label(),
			SpineIndex: pos.SpineIndex,
			Page:       pos.Page,
			TotalPages: pos.TotalPages,
			PageInBook: pos.PageInBook,
			AtStart:    pos.AtStart,
			AtEnd:      pos.AtEnd,
		},
		Display:    sess.Options(),
		Paragraphs: ps.renderer.page(),
		Highlights: sess.Highlights(),
		Selection:  ps.ctrl.Selection(),
		Toasts:     ps.toasts.drain(),
		Clipboard:  ps.clip.read(),
	}
	if p, ok := ps.ctrl.Progress(); ok {
		v.Progress = p
	}
	return v, nil
}

// Get returns a snapshot of the session.
func (s *PreviewService) Get(ctx context.Context, sessionID string) (*PreviewView, error) {
	return s.withSession(ctx, sessionID, nil)
}

// Display returns the session's display options without taking a snapshot.
func (s *PreviewService) Display(sessionID string) (domain.DisplayOptions, error) {
	s.mu.Lock()
	ps, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return domain.DisplayOptions{}, ErrPreviewNotFound
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	sess, err := ps.ctrl.Session()
	if err != nil {
		return domain.DisplayOptions{}, err
	}
	return sess.Options(), nil
}

// Navigate turns the page or jumps to a location.
func (s *PreviewService) Navigate(ctx context.Context, sessionID string, req NavigateRequest) (*PreviewView, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	return s.withSession(ctx, sessionID, func(ps *previewSession) error {
		switch req.Action {
		case NavigateNext:
			return ps.ctrl.Next(ctx)
		case NavigatePrev:
			return ps.ctrl.Prev(ctx)
		default:
			return ps.ctrl.GoTo(ctx, req.Location)
		}
	})
}

// Select selects a range and runs the requested action on it. Text defaults to the rendered text
// under the range. The returned annotation is nil unless the action created one.
func (s *PreviewService) Select(ctx context.Context, sessionID string, req SelectRequest) (*PreviewView, *domain.Annotation, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, nil, err
	}
	if _, err := location.Parse(req.Range); err != nil {
		return nil, nil, domainerrors.ValidationWithDetails("invalid range", map[string]string{"range": err.Error()})
	}

	var created *domain.Annotation
	v, err := s.withSession(ctx, sessionID, func(ps *previewSession) error {
		sess, err := ps.ctrl.Session()
		if err != nil {
			return err
		}
		text := req.Text
		if text == "" {
			if text, err = sess.TextAt(ctx, req.Range); err != nil {
				return err
			}
		}
		if err := sess.Select(req.Range, text); err != nil {
			return err
		}

		switch req.Action {
		case SelectHighlight:
			created, err = ps.ctrl.HighlightSelection(ctx)
		case SelectNote:
			created, err = ps.ctrl.AddNote(ctx, req.Body)
		case SelectShare:
			err = ps.ctrl.ShareSelection(ctx)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return v, created, nil
}

// ToggleBookmark bookmarks the session's current page, or removes the bookmark already there.
func (s *PreviewService) ToggleBookmark(ctx context.Context, sessionID string) (*PreviewView, bool, error) {
	var added bool
	v, err := s.withSession(ctx, sessionID, func(ps *previewSession) error {
		var err error
		added, _, err = ps.ctrl.ToggleBookmark(ctx)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return v, added, nil
}

// ApplyDisplayOptions re-renders the session with new display options, keeping its place.
func (s *PreviewService) ApplyDisplayOptions(ctx context.Context, sessionID string, display domain.DisplayOptions) (*PreviewView, error) {
	if err := s.validator.Validate(display); err != nil {
		return nil, err
	}
	return s.withSession(ctx, sessionID, func(ps *previewSession) error {
		return ps.ctrl.ApplyDisplayOptions(ctx, display)
	})
}

// Delete closes the session. Its reading progress is saved.
func (s *PreviewService) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	ps, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return ErrPreviewNotFound
	}
	s.close(ctx, ps)
	return nil
}

func (s *PreviewService) close(ctx context.Context, ps *previewSession) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.ctrl.Close(ctx)
	if err := ps.doc.Close(); err != nil {
		s.logger.Warn("failed to close preview document", "session_id", ps.id, "error", err)
	}
	s.logger.Info("preview session closed", "session_id", ps.id, "book_key", ps.bookKey)
}

// Count returns the number of open sessions.
func (s *PreviewService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reap closes sessions idle for longer than the configured timeout and returns how many it closed.
func (s *PreviewService) Reap(ctx context.Context) int {
	if s.config.IdleTimeout <= 0 {
		return 0
	}
	cutoff := s.clock().Add(-s.config.IdleTimeout)

	s.mu.Lock()
	var idle []*previewSession
	for _, sessionID := range slices.Sorted(maps.Keys(s.sessions)) {
		ps := s.sessions[sessionID]
		ps.mu.Lock()
		stale := ps.lastUsed.Before(cutoff)
		ps.mu.Unlock()
		if stale {
			idle = append(idle, ps)
			delete(s.sessions, sessionID)
		}
	}
	s.mu.Unlock()

	for _, ps := range idle {
		s.close(ctx, ps)
	}
	if len(idle) > 0 {
		s.logger.Info("reaped idle preview sessions", "count", len(idle))
	}
	return len(idle)
}

// Start runs the idle reaper until Stop.
func (s *PreviewService) Start() {
	if s.config.IdleTimeout <= 0 {
		s.logger.Info("preview session reaping disabled")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Reap(s.ctx)
			}
		}
	}()
}

// Stop ends the reaper and closes every open session.
func (s *PreviewService) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	open := slices.Collect(maps.Values(s.sessions))
	clear(s.sessions)
	s.mu.Unlock()
	for _, ps := range open {
		s.close(context.Background(), ps)
	}
	s.logger.Info("preview service stopped", "closed", len(open))
}
