// Package reconcile makes the highlights drawn on a rendering surface match the highlights stored
// for its book. A pass is idempotent and can run at any time; the reader schedules one after every
// render and every store change.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/render"
)

// DefaultSettleDelay gives a fresh render time to finish laying out before marks are applied.
const DefaultSettleDelay = 100 * time.Millisecond

// Store lists stored annotations.
type Store interface {
	ListForBook(ctx context.Context, bookKey string, kinds ...domain.AnnotationKind) ([]*domain.Annotation, error)
}

// Surface is the part of a render session reconciliation drives. *render.Session implements it.
type Surface interface {
	BookKey() string
	Highlight(loc location.Location, d render.Decoration) error
	Unhighlight(loc location.Location) error
	Highlights() []location.Location
	TextAt(ctx context.Context, loc location.Location) (string, error)
	Current() render.Position
	Display(ctx context.Context, loc location.Location) error
}

// Result summarises one pass.
type Result struct {
	Applied int
	Removed int
	Failed  int
	// Drifted lists highlights whose live text no longer matches the text they were created on.
	Drifted []string
	// Skipped is set when the pass did nothing: wrong book, or the surface closed underneath it.
	Skipped bool
	Err     error
}

// Reconciler runs passes, immediately or after the settle delay.
type Reconciler struct {
	store  Store
	logger *slog.Logger
	settle time.Duration

	mu      sync.Mutex
	pending map[Surface]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// New creates a reconciler. A non-positive settle delay uses DefaultSettleDelay.
func New(store Store, log *slog.Logger, settle time.Duration) *Reconciler {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Reconciler{
		store:   store,
		logger:  logger.OrDiscard(log),
		settle:  settle,
		pending: make(map[Surface]*time.Timer),
	}
}

// Reconcile applies every stored highlight of bookKey to surface and removes marks no stored
// highlight backs. Per-highlight failures are logged and counted; the others still apply.
func (r *Reconciler) Reconcile(ctx context.Context, bookKey string, surface Surface) Result {
	var res Result
	if surface.BookKey() != bookKey {
		r.logger.Warn("reconcile skipped: surface shows another book",
			"book_key", bookKey, "surface_book_key", surface.BookKey())
		res.Skipped = true
		return res
	}

	highlights, err := r.store.ListForBook(ctx, bookKey, domain.KindHighlight)
	if err != nil {
		r.logger.Error("reconcile: list highlights", "book_key", bookKey, "error", err)
		res.Err = err
		return res
	}

	backed := make(map[location.Location]bool, len(highlights))
	for _, h := range highlights {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		backed[h.Location] = true

		if err := surface.Unhighlight(h.Location); err != nil {
			if closed(err) {
				res.Skipped = true
				return res
			}
			r.logger.Warn("reconcile: clear previous mark", "id", h.ID, "error", err)
		}
		if err := surface.Highlight(h.Location, render.HighlightDecoration(h.Color)); err != nil {
			if closed(err) {
				res.Skipped = true
				return res
			}
			res.Failed++
			r.logger.Warn("reconcile: apply highlight", "id", h.ID, "location", h.Location, "error", err)
			continue
		}
		res.Applied++

		if live, err := surface.TextAt(ctx, h.Location); err == nil && !sameText(live, h.Text) {
			res.Drifted = append(res.Drifted, h.ID)
			r.logger.Debug("highlight text drifted", "id", h.ID, "stored", h.Text, "live", live)
		}
	}

	for _, loc := range surface.Highlights() {
		if backed[loc] {
			continue
		}
		if err := surface.Unhighlight(loc); err != nil {
			if closed(err) {
				res.Skipped = true
				return res
			}
			res.Failed++
			r.logger.Warn("reconcile: remove orphan mark", "location", loc, "error", err)
			continue
		}
		res.Removed++
	}

	r.logger.Debug("reconciled highlights",
		"book_key", bookKey,
		"applied", res.Applied,
		"removed", res.Removed,
		"failed", res.Failed,
		"drifted", len(res.Drifted))
	return res
}

// Schedule runs Reconcile after the settle delay. A newer schedule for the same surface replaces a
// pending one; a pass already running is left to finish.
func (r *Reconciler) Schedule(ctx context.Context, bookKey string, surface Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if t, ok := r.pending[surface]; ok && t.Stop() {
		r.wg.Done()
	}

	r.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(r.settle, func() {
		defer r.wg.Done()
		r.mu.Lock()
		if r.pending[surface] == t {
			delete(r.pending, surface)
		}
		r.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if res := r.Reconcile(ctx, bookKey, surface); res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			r.logger.Error("background reconcile failed", "book_key", bookKey, "error", res.Err)
		}
	})
	r.pending[surface] = t
}

// RemoveHighlight takes one highlight off the surface. The mark is unwrapped, the current page is
// displayed again, and every remaining stored highlight is reapplied. The stored record must already
// be gone, or the reapply brings the mark back.
func (r *Reconciler) RemoveHighlight(ctx context.Context, bookKey string, surface Surface, loc location.Location) error {
	if surface.BookKey() != bookKey {
		return nil
	}
	if err := surface.Unhighlight(loc); err != nil {
		return err
	}
	current := surface.Current().Start
	if err := surface.Display(ctx, current); err != nil {
		return err
	}
	if res := r.Reconcile(ctx, bookKey, surface); res.Err != nil {
		return res.Err
	}
	return nil
}

// Close cancels pending passes and waits for running ones.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	for s, t := range r.pending {
		if t.Stop() {
			r.wg.Done()
		}
		delete(r.pending, s)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func closed(err error) bool {
	return errors.Is(err, render.ErrSessionClosed)
}

// sameText compares anchored text the way it is displayed: NFC normalised with whitespace runs
// collapsed.
func sameText(a, b string) bool {
	return normalize(a) == normalize(b)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
