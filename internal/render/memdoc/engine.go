// Package memdoc is a headless rendering engine over a parsed EPUB. It paginates section text for
// a viewport and font size, keeps highlight marks as wrapped text runs, and raises the same events a
// visual engine does. The CLI, preview sessions and tests render with it.
package memdoc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/epub"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/render"
)

const (
	// DefaultWidth and DefaultHeight are the viewport used when none is configured.
	DefaultWidth  = 800
	DefaultHeight = 1000

	minCharsPerPage = 40
	unknownChapter  = "Unknown Chapter"
)

var errDestroyed = errors.New("memdoc: engine destroyed")

// Renderer builds engines for documents that expose their parsed book.
type Renderer struct {
	Width  int
	Height int
	Logger *slog.Logger
}

type bookSource interface {
	Book() *epub.Book
}

// Render implements render.Renderer.
func (r Renderer) Render(ctx context.Context, doc render.Document, opts domain.DisplayOptions) (render.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, ok := doc.(bookSource)
	if !ok || src.Book() == nil {
		return nil, fmt.Errorf("memdoc: document %s has no parsed book", doc.Key())
	}
	return New(src.Book(), opts, r.Width, r.Height, r.Logger), nil
}

// span is a page boundary: a paragraph index and a rune offset within it.
type span struct {
	para, off int
}

type page struct {
	start, end span // end is exclusive
}

// Engine renders one book. It is safe for concurrent use.
type Engine struct {
	book   *epub.Book
	logger *slog.Logger

	mu            sync.Mutex
	opts          domain.DisplayOptions
	width, height int
	spine         int // -1 until the first display
	page          int
	pages         []page
	paras         []*paragraph
	decorations   map[location.Location]render.Decoration
	sectionPages  map[int]int
	renders       int
	destroyed     bool

	subMu   sync.Mutex
	subs    map[int]func(render.Event)
	nextSub int
}

var _ render.Engine = (*Engine)(nil)

// New creates an engine for b. Non-positive dimensions fall back to the defaults.
func New(b *epub.Book, opts domain.DisplayOptions, width, height int, log *slog.Logger) *Engine {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if opts.FontSize <= 0 {
		opts.FontSize = 100
	}
	return &Engine{
		book:         b,
		logger:       logger.OrDiscard(log),
		opts:         opts,
		width:        width,
		height:       height,
		spine:        -1,
		decorations:  make(map[location.Location]render.Decoration),
		sectionPages: make(map[int]int),
		subs:         make(map[int]func(render.Event)),
	}
}

// charsPerPage estimates how much text fits: glyphs are 8px wide and lines 26px high at 100%.
func charsPerPage(width, height, fontSize int) int {
	scale := float64(fontSize) / 100
	cols := int(float64(width) / (8 * scale))
	lines := int(float64(height) / (26 * scale))
	return max(cols*lines, minCharsPerPage)
}

// layout splits paragraph lengths into pages.
func layout(lengths []int, perPage int) []page {
	var pages []page
	cur := page{}
	budget := perPage
	for i, n := range lengths {
		off := 0
		for n-off > budget {
			off += budget
			cur.end = span{i, off}
			pages = append(pages, cur)
			cur = page{start: span{i, off}}
			budget = perPage
		}
		budget -= n - off
		if budget <= 0 && i < len(lengths)-1 {
			cur.end = span{i + 1, 0}
			pages = append(pages, cur)
			cur = page{start: span{i + 1, 0}}
			budget = perPage
		}
	}
	last := len(lengths) - 1
	if last < 0 {
		return []page{{}}
	}
	cur.end = span{last, lengths[last]}
	return append(pages, cur)
}

func (e *Engine) perPage() int {
	return charsPerPage(e.width, e.height, e.opts.FontSize)
}

func (e *Engine) sectionLengths(i int) ([]int, error) {
	s, err := e.book.Section(i)
	if err != nil {
		return nil, err
	}
	lengths := make([]int, len(s.Paragraphs))
	for j, p := range s.Paragraphs {
		lengths[j] = len([]rune(p))
	}
	return lengths, nil
}

func (e *Engine) pagesIn(i int) (int, error) {
	if n, ok := e.sectionPages[i]; ok {
		return n, nil
	}
	lengths, err := e.sectionLengths(i)
	if err != nil {
		return 0, err
	}
	n := len(layout(lengths, e.perPage()))
	e.sectionPages[i] = n
	return n, nil
}

// load renders section i from scratch: fresh paragraphs, no decorations.
func (e *Engine) load(i int) error {
	s, err := e.book.Section(i)
	if err != nil {
		return err
	}
	paras := make([]*paragraph, len(s.Paragraphs))
	lengths := make([]int, len(s.Paragraphs))
	for j, p := range s.Paragraphs {
		paras[j] = newParagraph(p)
		lengths[j] = paras[j].len()
	}
	e.spine = i
	e.paras = paras
	e.pages = layout(lengths, e.perPage())
	e.sectionPages[i] = len(e.pages)
	clear(e.decorations)
	e.renders++
	return nil
}

func pageOf(pages []page, at span) int {
	for i, p := range pages {
		if at.para < p.end.para || (at.para == p.end.para && at.off < p.end.off) {
			return i
		}
	}
	return len(pages) - 1
}

func (e *Engine) check(ctx context.Context) error {
	if e.destroyed {
		return errDestroyed
	}
	return ctx.Err()
}

// Display implements render.Engine.
func (e *Engine) Display(ctx context.Context, loc location.Location) error {
	e.mu.Lock()
	if err := e.check(ctx); err != nil {
		e.mu.Unlock()
		return err
	}

	spine, at := e.spine, span{}
	if spine < 0 {
		spine = 0
	} else if len(e.pages) > 0 {
		at = e.pages[e.page].start
	}
	if !loc.IsZero() {
		a, ok := location.Decode(loc)
		if ok {
			spine, at = a.Spine, span{a.Paragraph, a.Start}
		} else if s := location.SpineIndex(loc); s >= 0 {
			spine, at = s, span{}
		} else {
			e.mu.Unlock()
			return domainerrors.Validationf("cannot display location %q", loc)
		}
	}
	if spine >= e.book.SpineLength() {
		e.mu.Unlock()
		return domainerrors.Validationf("location %q is outside the book", loc)
	}

	if err := e.load(spine); err != nil {
		e.mu.Unlock()
		return err
	}
	e.page = pageOf(e.pages, at)
	events := e.renderedEvents()
	e.mu.Unlock()

	e.emit(events...)
	return nil
}

// Next implements render.Engine. At the end of the book it does nothing.
func (e *Engine) Next(ctx context.Context) error {
	return e.turn(ctx, 1)
}

// Prev implements render.Engine. At the start of the book it does nothing.
func (e *Engine) Prev(ctx context.Context) error {
	return e.turn(ctx, -1)
}

func (e *Engine) turn(ctx context.Context, dir int) error {
	e.mu.Lock()
	if err := e.check(ctx); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.spine < 0 {
		e.mu.Unlock()
		return e.Display(ctx, "")
	}

	next := e.page + dir
	switch {
	case next >= 0 && next < len(e.pages):
		// Same section: a real engine scrolls without reloading, but still re-renders the view.
		e.page = next
		clear(e.decorations)
		e.paras = freshParagraphs(e.paras)
		e.renders++
	case next < 0 && e.spine > 0:
		if err := e.load(e.spine - 1); err != nil {
			e.mu.Unlock()
			return err
		}
		e.page = len(e.pages) - 1
	case next >= len(e.pages) && e.spine < e.book.SpineLength()-1:
		if err := e.load(e.spine + 1); err != nil {
			e.mu.Unlock()
			return err
		}
		e.page = 0
	default:
		e.mu.Unlock()
		return nil
	}
	events := e.renderedEvents()
	e.mu.Unlock()

	e.emit(events...)
	return nil
}

func freshParagraphs(paras []*paragraph) []*paragraph {
	out := make([]*paragraph, len(paras))
	for i, p := range paras {
		out[i] = newParagraph(p.text())
	}
	return out
}

// Resize implements render.Engine. The current start position stays on screen.
func (e *Engine) Resize(width, height int) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return errDestroyed
	}
	if width <= 0 || height <= 0 {
		e.mu.Unlock()
		return domainerrors.Validationf("invalid viewport %dx%d", width, height)
	}
	e.width, e.height = width, height
	clear(e.sectionPages)
	if e.spine < 0 {
		e.mu.Unlock()
		return nil
	}
	at := e.pages[e.page].start
	if err := e.load(e.spine); err != nil {
		e.mu.Unlock()
		return err
	}
	e.page = pageOf(e.pages, at)
	events := e.renderedEvents()
	e.mu.Unlock()

	e.emit(events...)
	return nil
}

// renderedEvents must be called with mu held.
func (e *Engine) renderedEvents() []render.Event {
	pos := e.position()
	return []render.Event{
		{Type: render.EventRelocated, Position: pos},
		{Type: render.EventRendered, Position: pos},
	}
}

// Current implements render.Engine.
func (e *Engine) Current() render.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position()
}

func (e *Engine) position() render.Position {
	if e.spine < 0 || e.destroyed {
		return render.Position{SpineIndex: -1}
	}
	p := e.pages[e.page]
	before := 0
	for i := range e.spine {
		n, err := e.pagesIn(i)
		if err != nil {
			e.logger.Warn("cannot paginate section", "spine_index", i, "error", err)
			continue
		}
		before += n
	}
	return render.Position{
		Start:      location.Point(e.spine, p.start.para, p.start.off),
		End:        location.Point(e.spine, p.end.para, p.end.off),
		SpineIndex: e.spine,
		Page:       e.page + 1,
		TotalPages: len(e.pages),
		PageInBook: before + e.page + 1,
		Fraction:   float64(e.page) / float64(len(e.pages)),
		AtStart:    e.spine == 0 && e.page == 0,
		AtEnd:      e.spine == e.book.SpineLength()-1 && e.page == len(e.pages)-1,
	}
}

// Resolve implements render.Engine.
func (e *Engine) Resolve(ctx context.Context, loc location.Location) (location.Resolved, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx); err != nil {
		return location.Resolved{}, err
	}

	spine, at := location.SpineIndex(loc), span{}
	if a, ok := location.Decode(loc); ok {
		spine, at = a.Spine, span{a.Paragraph, a.Start}
	}
	if spine < 0 || spine >= e.book.SpineLength() {
		return location.Resolved{}, domainerrors.NotFoundf("location %q is not in this book", loc)
	}

	lengths, err := e.sectionLengths(spine)
	if err != nil {
		return location.Resolved{}, err
	}
	pages := layout(lengths, e.perPage())
	pg := pageOf(pages, at)
	before := 0
	for i := range spine {
		if n, err := e.pagesIn(i); err == nil {
			before += n
		}
	}
	return location.Resolved{
		ChapterTitle: e.chapterTitle(spine),
		ChapterIndex: spine,
		Page:         pg + 1,
		TotalPages:   len(pages),
		PageInBook:   before + pg + 1,
	}, nil
}

func (e *Engine) chapterTitle(spine int) string {
	title := ""
	best := -1
	for _, t := range e.book.TOC {
		if t.SpineIndex >= 0 && t.SpineIndex <= spine && t.SpineIndex > best {
			best, title = t.SpineIndex, t.Title
		}
	}
	if title != "" {
		return title
	}
	if s, err := e.book.Section(spine); err == nil && s.Title != "" {
		return s.Title
	}
	return unknownChapter
}

// TextAt implements render.Engine.
func (e *Engine) TextAt(ctx context.Context, loc location.Location) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx); err != nil {
		return "", err
	}
	a, ok := location.Decode(loc)
	if !ok {
		return "", domainerrors.Validationf("cannot anchor location %q", loc)
	}
	var text string
	if a.Spine == e.spine {
		if a.Paragraph >= len(e.paras) {
			return "", domainerrors.NotFoundf("location %q is past the end of the section", loc)
		}
		text = e.paras[a.Paragraph].text()
	} else {
		s, err := e.book.Section(a.Spine)
		if err != nil {
			return "", domainerrors.NotFoundf("location %q is not in this book", loc)
		}
		if a.Paragraph >= len(s.Paragraphs) {
			return "", domainerrors.NotFoundf("location %q is past the end of the section", loc)
		}
		text = s.Paragraphs[a.Paragraph]
	}
	runes := []rune(text)
	if a.End > len(runes) {
		return "", domainerrors.NotFoundf("location %q is past the end of the paragraph", loc)
	}
	return string(runes[a.Start:a.End]), nil
}

// Decorations implements render.Engine.
func (e *Engine) Decorations() render.Decorator { return decorator{e} }

type decorator struct{ e *Engine }

// Highlight wraps the text at loc. Locations in sections not on screen are only registered; the
// next render discards them like everything else.
func (d decorator) Highlight(loc location.Location, dec render.Decoration) error {
	e := d.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return errDestroyed
	}
	a, ok := location.Decode(loc)
	if !ok {
		return domainerrors.Validationf("cannot anchor highlight at %q", loc)
	}
	if a.Spine == e.spine {
		if a.Paragraph >= len(e.paras) || a.End > e.paras[a.Paragraph].len() || a.Start == a.End {
			return domainerrors.Validationf("highlight %q does not fit the rendered text", loc)
		}
		p := e.paras[a.Paragraph]
		p.unwrap(loc)
		p.wrap(a.Start, a.End, loc)
	}
	e.decorations[loc] = dec
	return nil
}

// Unhighlight unwraps loc. Text is left exactly as it was.
func (d decorator) Unhighlight(loc location.Location) error {
	e := d.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return errDestroyed
	}
	if _, ok := e.decorations[loc]; !ok {
		return nil
	}
	if a, ok := location.Decode(loc); ok && a.Spine == e.spine && a.Paragraph < len(e.paras) {
		e.paras[a.Paragraph].unwrap(loc)
	}
	delete(e.decorations, loc)
	return nil
}

func (d decorator) Highlights() []location.Location {
	e := d.e
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.SortedFunc(maps.Keys(e.decorations), location.Compare)
}

// Page returns the visible paragraphs with their decorations.
func (e *Engine) Page() []Paragraph {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.spine < 0 || e.destroyed {
		return nil
	}
	p := e.pages[e.page]
	var out []Paragraph
	for i := p.start.para; i <= p.end.para && i < len(e.paras); i++ {
		start, end := 0, e.paras[i].len()
		if i == p.start.para {
			start = p.start.off
		}
		if i == p.end.para {
			end = p.end.off
		}
		if start >= end {
			continue
		}
		out = append(out, Paragraph{Index: i, Segments: e.paras[i].segments(start, end, e.decorations)})
	}
	return out
}

// Renders counts how many times content was rendered from scratch.
func (e *Engine) Renders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renders
}

// Subscribe implements render.Engine.
func (e *Engine) Subscribe(fn func(render.Event)) func() {
	e.subMu.Lock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = fn
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) emit(events ...render.Event) {
	e.subMu.Lock()
	fns := slices.Collect(maps.Values(e.subs))
	e.subMu.Unlock()
	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Destroy implements render.Engine.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil
	}
	e.destroyed = true
	e.paras = nil
	e.pages = nil
	clear(e.decorations)

	e.subMu.Lock()
	clear(e.subs)
	e.subMu.Unlock()
	return nil
}
