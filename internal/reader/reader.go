// Package reader drives one reading view: it owns the rendering host, keeps the highlights on screen
// in step with the annotation store, persists reading progress and turns user actions into store
// writes with toast feedback.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/epub"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/reconcile"
	"github.com/alexandriaapp/alexandria-server/internal/render"
	"github.com/alexandriaapp/alexandria-server/internal/sse"
	"github.com/alexandriaapp/alexandria-server/internal/store"
)

var (
	ErrNoBook      = domainerrors.NotReady("no book is open")
	ErrNoSelection = domainerrors.Validation("no text is selected")
	ErrNoShareSink = domainerrors.Unavailable("neither sharing nor the clipboard is available")
)

// Store is the annotation and progress storage the controller writes to.
type Store interface {
	reconcile.Store
	AddAnnotation(ctx context.Context, bookKey string, loc location.Location, text string, kind domain.AnnotationKind, payload domain.Payload) (*domain.Annotation, error)
	GetAnnotation(ctx context.Context, annID string) (*domain.Annotation, error)
	RemoveAnnotation(ctx context.Context, annID string) error
	RemoveAllForBook(ctx context.Context, bookKey string, kinds ...domain.AnnotationKind) (int, error)
	UpdateNoteBody(ctx context.Context, annID, body string) (*domain.Annotation, error)
	FindBookmark(ctx context.Context, bookKey string, loc location.Location) (*domain.Annotation, error)
	SaveProgress(ctx context.Context, p *domain.ReadingProgress) error
	GetProgress(ctx context.Context, bookKey string) (*domain.ReadingProgress, error)
}

// Events delivers store-changed signals. *sse.Manager implements it.
type Events interface {
	Subscribe(f sse.Filter, fn func(sse.Event)) (func(), error)
}

// Selection is the text the reader last selected.
type Selection struct {
	Range location.Location `json:"range"`
	Text  string            `json:"text"`
}

// Options hold the optional collaborators. Nil means unavailable.
type Options struct {
	Events    Events
	Toaster   Toaster
	Sharer    Sharer
	Clipboard Clipboard
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Controller is the reader view for one book at a time.
type Controller struct {
	host       *render.Host
	store      Store
	reconciler *reconcile.Reconciler
	events     Events
	toaster    Toaster
	sharer     Sharer
	clipboard  Clipboard
	logger     *slog.Logger
	clock      func() time.Time

	// ctx scopes background work started by event handlers; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	doc       *epub.Document
	session   *render.Session
	current   render.Position
	selection *Selection
	detach    []func()
	closed    bool
}

// New creates a controller rendering through host. Every session the host opens is attached
// before its first display.
func New(host *render.Host, st Store, rec *reconcile.Reconciler, opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		host:       host,
		store:      st,
		reconciler: rec,
		events:     opts.Events,
		toaster:    opts.Toaster,
		sharer:     opts.Sharer,
		clipboard:  opts.Clipboard,
		logger:     logger.OrDiscard(opts.Logger),
		clock:      opts.Clock,
		ctx:        ctx,
		cancel:     cancel,
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	host.OnSession(c.attach)
	return c
}

// Open renders doc, resuming at the saved reading position when there is one.
func (c *Controller) Open(ctx context.Context, doc *epub.Document, display domain.DisplayOptions) error {
	if err := doc.Ready(ctx); err != nil {
		c.fail("Unable to open the book", err)
		return err
	}
	var at location.Location
	if p, err := c.store.GetProgress(ctx, doc.Key()); err == nil {
		at = p.Location
	} else if !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("cannot read saved progress", "book_key", doc.Key(), "error", err)
	}

	c.mu.Lock()
	closed, prev := c.closed, c.doc
	c.mu.Unlock()
	if closed {
		return render.ErrSessionClosed
	}
	if prev != nil && prev != doc {
		c.saveProgress(ctx)
	}

	c.mu.Lock()
	c.doc = doc
	c.selection = nil
	c.current = render.Position{SpineIndex: -1}
	c.mu.Unlock()

	if _, err := c.host.Replace(ctx, doc, display, at); err != nil {
		c.fail("Unable to open the book", err)
		return err
	}
	if book := doc.Book(); book != nil {
		c.toast(Toast{Title: "Book loaded successfully", Description: "Now reading: " + book.Metadata.Title})
	}
	return nil
}

// attach wires a fresh session. Handlers from the previous session are dropped.
func (c *Controller) attach(s *render.Session) {
	c.mu.Lock()
	for _, fn := range c.detach {
		fn()
	}
	c.detach = nil
	c.session = s
	c.current = render.Position{SpineIndex: -1}
	c.mu.Unlock()

	key := s.BookKey()
	detach := []func(){
		s.OnRendered(func(render.RenderedEvent) {
			c.reconciler.Schedule(c.ctx, key, s)
		}),
		s.OnLocationChanged(func(e render.LocationChangedEvent) {
			c.relocated(s, e.Position)
		}),
		s.OnSelected(func(e render.SelectedEvent) {
			c.mu.Lock()
			c.selection = &Selection{Range: e.Range, Text: e.Text}
			c.mu.Unlock()
		}),
	}
	if c.events != nil {
		unsubscribe, err := c.events.Subscribe(sse.Filter{BookKey: key}, func(e sse.Event) {
			if e.Type == sse.EventAnnotationsChanged {
				c.reconciler.Schedule(c.ctx, key, s)
			}
		})
		if err != nil {
			c.logger.Warn("cannot follow store changes", "book_key", key, "error", err)
		} else {
			detach = append(detach, unsubscribe)
		}
	}

	c.mu.Lock()
	c.detach = detach
	c.mu.Unlock()
}

func (c *Controller) relocated(s *render.Session, pos render.Position) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.current = pos
	c.selection = nil
	c.mu.Unlock()
	c.saveProgress(c.ctx)
}

// Progress reports how far into the open book the current position is.
func (c *Controller) Progress() (*domain.ReadingProgress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

func (c *Controller) progressLocked() (*domain.ReadingProgress, bool) {
	if c.doc == nil || c.current.Start.IsZero() {
		return nil, false
	}
	spineLength := 0
	if b := c.doc.Book(); b != nil {
		spineLength = b.SpineLength()
	}
	return &domain.ReadingProgress{
		BookKey:    c.doc.Key(),
		Location:   c.current.Start,
		SpineIndex: c.current.SpineIndex,
		Percentage: domain.ProgressPercent(c.current.SpineIndex, spineLength, c.current.Fraction),
	}, true
}

func (c *Controller) saveProgress(ctx context.Context) {
	p, ok := c.Progress()
	if !ok {
		return
	}
	if err := c.store.SaveProgress(ctx, p); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("cannot save reading progress", "book_key", p.BookKey, "error", err)
	}
}

// Current returns the visible range.
func (c *Controller) Current() render.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Selection returns the pending selection, or nil.
func (c *Controller) Selection() *Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selection == nil {
		return nil
	}
	sel := *c.selection
	return &sel
}

// Session returns the live rendering session.
func (c *Controller) Session() (*render.Session, error) {
	return c.host.Session()
}

func (c *Controller) live() (*render.Session, string, error) {
	s, err := c.host.Session()
	if err != nil {
		return nil, "", ErrNoBook
	}
	return s, s.BookKey(), nil
}

func (c *Controller) takeSelection() (*Selection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selection == nil || c.selection.Range.IsZero() {
		return nil, ErrNoSelection
	}
	sel := *c.selection
	c.selection = nil
	return &sel, nil
}

// HighlightSelection stores the pending selection as a yellow highlight.
func (c *Controller) HighlightSelection(ctx context.Context) (*domain.Annotation, error) {
	s, key, err := c.live()
	if err != nil {
		return nil, err
	}
	sel, err := c.takeSelection()
	if err != nil {
		return nil, err
	}
	a, err := c.store.AddAnnotation(ctx, key, sel.Range, sel.Text, domain.KindHighlight, domain.Payload{Color: domain.ColorYellow})
	if err != nil {
		c.fail("Failed to save highlight", err)
		return nil, err
	}
	c.reconciler.Schedule(c.ctx, key, s)
	c.toast(Toast{Description: "Highlight saved"})
	return a, nil
}

// AddNote attaches body to the pending selection.
func (c *Controller) AddNote(ctx context.Context, body string) (*domain.Annotation, error) {
	_, key, err := c.live()
	if err != nil {
		return nil, err
	}
	sel, err := c.takeSelection()
	if err != nil {
		return nil, err
	}
	a, err := c.store.AddAnnotation(ctx, key, sel.Range, sel.Text, domain.KindNote, domain.Payload{Body: body})
	if err != nil {
		c.fail("Failed to save note", err)
		return nil, err
	}
	c.toast(Toast{Description: "Note saved successfully"})
	return a, nil
}

// UpdateNote replaces a note's body. An id that is not a note is logged and returned without a
// toast; only highlights and bookmarks reach that path, and they have no edit action to fail.
func (c *Controller) UpdateNote(ctx context.Context, annID, body string) (*domain.Annotation, error) {
	a, err := c.store.UpdateNoteBody(ctx, annID, body)
	switch {
	case errors.Is(err, store.ErrNotANote), errors.Is(err, store.ErrAnnotationNotFound):
		c.logger.Debug("note update ignored", "id", annID, "error", err)
		return nil, err
	case err != nil:
		c.fail("Failed to update note", err)
		return nil, err
	}
	c.toast(Toast{Description: "Note saved successfully"})
	return a, nil
}

// ToggleBookmark bookmarks the start of the visible page, or removes the bookmark already there.
// It reports whether a bookmark now exists.
func (c *Controller) ToggleBookmark(ctx context.Context) (bool, *domain.Annotation, error) {
	s, key, err := c.live()
	if err != nil {
		return false, nil, err
	}
	loc := s.Current().Start
	if loc.IsZero() {
		return false, nil, ErrNoBook
	}

	existing, err := c.store.FindBookmark(ctx, key, loc)
	switch {
	case err == nil:
		if err := c.store.RemoveAnnotation(ctx, existing.ID); err != nil {
			c.fail("Failed to remove bookmark. Please try again.", err)
			return true, existing, err
		}
		c.toast(Toast{Description: "Bookmark removed successfully"})
		return false, existing, nil
	case !errors.Is(err, store.ErrNotFound):
		c.fail("Failed to save bookmark. Please try again.", err)
		return false, nil, err
	}

	now := c.clock()
	md := location.ToDisplayMetadata(ctx, s, loc)
	a, err := c.store.AddAnnotation(ctx, key, loc, "", domain.KindBookmark, domain.Payload{Position: domain.PositionFrom(md, now)})
	if err != nil {
		c.fail("Failed to save bookmark. Please try again.", err)
		return false, nil, err
	}
	c.toast(Toast{Description: fmt.Sprintf("Bookmark added: %s (%s)", md.Label(), now.Format("Jan 2, 2006"))})
	return true, a, nil
}

// Remove deletes an annotation. Highlights also come off the screen.
func (c *Controller) Remove(ctx context.Context, annID string) error {
	a, err := c.store.GetAnnotation(ctx, annID)
	if err != nil {
		c.fail("Failed to remove annotation", err)
		return err
	}
	if err := c.store.RemoveAnnotation(ctx, annID); err != nil {
		c.fail("Failed to remove annotation", err)
		return err
	}

	switch a.Kind {
	case domain.KindHighlight:
		if s, key, err := c.live(); err == nil && key == a.BookKey {
			if err := c.reconciler.RemoveHighlight(ctx, key, s, a.Location); err != nil {
				c.logger.Warn("cannot take highlight off screen", "id", annID, "error", err)
			}
		}
		c.toast(Toast{Description: "Highlight removed"})
	case domain.KindBookmark:
		c.toast(Toast{Description: "Bookmark removed"})
	default:
		c.toast(Toast{Description: "Note removed"})
	}
	return nil
}

// RemoveHighlight deletes a highlight and unwraps it on screen.
func (c *Controller) RemoveHighlight(ctx context.Context, annID string) error {
	a, err := c.store.GetAnnotation(ctx, annID)
	if err != nil {
		return err
	}
	if a.Kind != domain.KindHighlight {
		return domainerrors.Validationf("annotation %s is a %s, not a highlight", annID, a.Kind)
	}
	return c.Remove(ctx, annID)
}

// ClearBookmarks removes every bookmark of the open book.
func (c *Controller) ClearBookmarks(ctx context.Context) (int, error) {
	_, key, err := c.live()
	if err != nil {
		return 0, err
	}
	n, err := c.store.RemoveAllForBook(ctx, key, domain.KindBookmark)
	if err != nil {
		c.fail("Failed to clear bookmarks", err)
		return 0, err
	}
	c.toast(Toast{Description: "All bookmarks have been cleared"})
	return n, nil
}

// ShareSelection hands the selected passage to the share sheet, falling back to the clipboard when
// sharing is unavailable or fails.
func (c *Controller) ShareSelection(ctx context.Context) error {
	c.mu.Lock()
	sel := c.selection
	doc := c.doc
	c.mu.Unlock()
	if sel == nil || sel.Text == "" {
		return ErrNoSelection
	}

	content := ShareContent{Text: sel.Text}
	if doc != nil && doc.Book() != nil {
		b := doc.Book()
		content.Title = b.Metadata.Title
		content.Text = fmt.Sprintf("%q from %s", sel.Text, b.Metadata.Title)
	}

	if c.sharer != nil {
		err := c.sharer.Share(ctx, content)
		if err == nil || errors.Is(err, ErrShareCancelled) {
			return nil
		}
		c.logger.Debug("share failed, falling back to clipboard", "error", err)
	}
	if c.clipboard == nil {
		c.fail("Unable to share", ErrNoShareSink)
		return ErrNoShareSink
	}
	if err := c.clipboard.WriteText(ctx, content.Text); err != nil {
		c.fail("Unable to copy to clipboard", err)
		return err
	}
	c.toast(Toast{Title: "Copied!", Description: "Passage copied to clipboard"})
	return nil
}

// GoTo displays loc.
func (c *Controller) GoTo(ctx context.Context, loc location.Location) error {
	s, _, err := c.live()
	if err != nil {
		return err
	}
	if err := s.Display(ctx, loc); err != nil {
		c.fail("Failed to navigate", err)
		return err
	}
	return nil
}

// Next turns the page forward.
func (c *Controller) Next(ctx context.Context) error {
	s, _, err := c.live()
	if err != nil {
		return err
	}
	return s.Next(ctx)
}

// Prev turns the page back.
func (c *Controller) Prev(ctx context.Context) error {
	s, _, err := c.live()
	if err != nil {
		return err
	}
	return s.Prev(ctx)
}

// Resize forwards a viewport change to the session.
func (c *Controller) Resize(width, height int) {
	if s, _, err := c.live(); err == nil {
		s.Resize(width, height)
	}
}

// ApplyDisplayOptions re-renders the open book with opts at the current location. Display options
// never change on a live session, so this destroys and reopens it.
func (c *Controller) ApplyDisplayOptions(ctx context.Context, opts domain.DisplayOptions) error {
	c.mu.Lock()
	doc := c.doc
	c.mu.Unlock()
	if doc == nil {
		return ErrNoBook
	}
	if _, err := c.host.Replace(ctx, doc, opts, ""); err != nil {
		c.fail("Failed to apply display settings", err)
		return err
	}
	return nil
}

// Close saves progress and releases the session. Safe to call more than once.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.saveProgress(ctx)
	c.cancel()

	c.mu.Lock()
	detach := c.detach
	c.detach = nil
	c.session = nil
	c.mu.Unlock()
	for _, fn := range detach {
		fn()
	}
	c.host.Close()
}
