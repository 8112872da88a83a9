package memdoc

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/epub"
	"github.com/alexandriaapp/alexandria-server/internal/epub/epubtest"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/render"
)

var defaultOptions = domain.DisplayOptions{FontSize: 100, FontFamily: domain.FontGeorgia, TextAlign: domain.AlignLeft}

func testBook(t *testing.T) *epub.Book {
	t.Helper()
	data, err := epubtest.MobyDick().Bytes()
	require.NoError(t, err)
	b, err := epub.Read(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return b
}

// smallEngine fits 80 characters per page.
func smallEngine(t *testing.T) *Engine {
	t.Helper()
	return New(testBook(t), defaultOptions, 160, 104, nil)
}

func recordEvents(e *Engine) *[]render.Event {
	var events []render.Event
	e.Subscribe(func(ev render.Event) { events = append(events, ev) })
	return &events
}

func visibleText(e *Engine) string {
	var sb strings.Builder
	for _, p := range e.Page() {
		for _, s := range p.Segments {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

func TestCharsPerPage(t *testing.T) {
	assert.Equal(t, 80, charsPerPage(160, 104, 100))
	assert.Equal(t, 3800, charsPerPage(800, 1000, 100))
	assert.Less(t, charsPerPage(800, 1000, 200), charsPerPage(800, 1000, 100))
	assert.Equal(t, minCharsPerPage, charsPerPage(10, 10, 200))
}

func TestLayout(t *testing.T) {
	pages := layout([]int{30, 30, 30}, 40)
	require.Len(t, pages, 3)
	assert.Equal(t, page{start: span{0, 0}, end: span{1, 10}}, pages[0])
	assert.Equal(t, page{start: span{1, 10}, end: span{2, 20}}, pages[1])
	assert.Equal(t, page{start: span{2, 20}, end: span{2, 30}}, pages[2])

	assert.Len(t, layout(nil, 40), 1)
	assert.Equal(t, 2, pageOf(pages, span{2, 25}))
	assert.Equal(t, 0, pageOf(pages, span{1, 9}))
}

func TestDisplay_DefaultAndEvents(t *testing.T) {
	e := smallEngine(t)
	events := recordEvents(e)

	require.NoError(t, e.Display(context.Background(), ""))

	pos := e.Current()
	assert.Equal(t, 0, pos.SpineIndex)
	assert.Equal(t, 1, pos.Page)
	assert.Greater(t, pos.TotalPages, 1)
	assert.True(t, pos.AtStart)
	assert.Equal(t, location.Point(0, 0, 0), pos.Start)

	require.Len(t, *events, 2)
	assert.Equal(t, render.EventRelocated, (*events)[0].Type)
	assert.Equal(t, render.EventRendered, (*events)[1].Type)
	assert.True(t, strings.HasPrefix(visibleText(e), "LoomingsCall me Ishmael."))
}

func TestDisplay_Location(t *testing.T) {
	e := smallEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Display(ctx, location.Span(1, 2, 0, 9)))
	pos := e.Current()
	assert.Equal(t, 1, pos.SpineIndex)
	assert.Contains(t, visibleText(e), "Quitting")

	require.NoError(t, e.Display(ctx, "epubcfi(/6/6)"))
	assert.Equal(t, 2, e.Current().SpineIndex)

	assert.Error(t, e.Display(ctx, "nonsense"))
	assert.Error(t, e.Display(ctx, location.Point(9, 0, 0)))
	assert.Equal(t, 2, e.Current().SpineIndex, "failed display keeps the view")
}

func TestNextPrev_CrossSections(t *testing.T) {
	e := smallEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Display(ctx, ""))

	first := e.Current()
	seen := 1
	for e.Current().SpineIndex == 0 {
		require.NoError(t, e.Next(ctx))
		seen++
	}
	assert.Equal(t, first.TotalPages+1, seen, "every page of the section is visited once")
	assert.Equal(t, 1, e.Current().Page)
	assert.Equal(t, first.TotalPages+1, e.Current().PageInBook)

	require.NoError(t, e.Prev(ctx))
	pos := e.Current()
	assert.Equal(t, 0, pos.SpineIndex)
	assert.Equal(t, pos.TotalPages, pos.Page, "prev lands on the last page of the previous section")

	require.NoError(t, e.Display(ctx, ""))
	for !e.Current().AtStart {
		require.NoError(t, e.Prev(ctx))
	}
	events := recordEvents(e)
	require.NoError(t, e.Prev(ctx))
	assert.Empty(t, *events, "no movement before the first page")
}

func TestRenderDiscardsDecorations(t *testing.T) {
	e := New(testBook(t), defaultOptions, 0, 0, nil)
	ctx := context.Background()
	require.NoError(t, e.Display(ctx, ""))
	d := e.Decorations()

	loc := location.Span(0, 1, 0, 4)
	require.NoError(t, d.Highlight(loc, render.HighlightDecoration(domain.ColorYellow)))
	assert.Equal(t, []location.Location{loc}, d.Highlights())
	before := e.Renders()

	require.NoError(t, e.Display(ctx, e.Current().Start))
	assert.Empty(t, d.Highlights())
	assert.Equal(t, before+1, e.Renders())
}

func TestHighlight_WrapAndUnwrapPreserveText(t *testing.T) {
	e := New(testBook(t), defaultOptions, 0, 0, nil)
	require.NoError(t, e.Display(context.Background(), ""))
	d := e.Decorations()
	original := visibleText(e)

	a, b := location.Span(0, 1, 0, 7), location.Span(0, 1, 5, 15)
	require.NoError(t, d.Highlight(a, render.HighlightDecoration(domain.ColorYellow)))
	require.NoError(t, d.Highlight(b, render.HighlightDecoration(domain.ColorYellow)))
	require.NoError(t, d.Highlight(a, render.HighlightDecoration(domain.ColorYellow)), "re-marking replaces")
	assert.Equal(t, original, visibleText(e))

	segs := e.Page()[1].Segments
	require.Len(t, segs, 4)
	assert.Equal(t, "Call ", segs[0].Text)
	assert.Equal(t, "me", segs[1].Text)
	assert.Equal(t, []string{"highlight-yellow"}, segs[1].Classes)
	assert.Equal(t, ".", segs[3].Text)
	assert.Empty(t, segs[3].Classes)

	require.NoError(t, d.Unhighlight(a))
	require.NoError(t, d.Unhighlight(b))
	require.NoError(t, d.Unhighlight(b), "unknown locations are a no-op")
	assert.Equal(t, original, visibleText(e))
	assert.Len(t, e.Page()[1].Segments, 1, "runs merge back")

	assert.Error(t, d.Highlight(location.Span(0, 1, 3, 3), render.Decoration{}))
	assert.Error(t, d.Highlight("garbage", render.Decoration{}))
}

func TestHighlight_OffscreenSectionIsRegisteredOnly(t *testing.T) {
	e := New(testBook(t), defaultOptions, 0, 0, nil)
	require.NoError(t, e.Display(context.Background(), ""))

	loc := location.Span(2, 1, 0, 8)
	require.NoError(t, e.Decorations().Highlight(loc, render.Decoration{Class: "highlight-yellow"}))
	assert.Contains(t, e.Decorations().Highlights(), loc)
	for _, p := range e.Page() {
		for _, s := range p.Segments {
			assert.Empty(t, s.Classes)
		}
	}
}

func TestResolveAndTextAt(t *testing.T) {
	e := smallEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Display(ctx, ""))

	res, err := e.Resolve(ctx, location.Span(1, 1, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, "The Carpet-Bag", res.ChapterTitle)
	assert.Equal(t, 1, res.ChapterIndex)
	assert.Equal(t, 1, res.Page)
	assert.Greater(t, res.PageInBook, res.Page)

	_, err = e.Resolve(ctx, "epubcfi(/6/40)")
	assert.Error(t, err)

	text, err := e.TextAt(ctx, location.Span(0, 1, 8, 15))
	require.NoError(t, err)
	assert.Equal(t, "Ishmael", text)

	text, err = e.TextAt(ctx, location.Span(2, 0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, "The Spo", text)

	_, err = e.TextAt(ctx, location.Span(0, 1, 0, 99))
	assert.Error(t, err)
}

func TestResize_KeepsPosition(t *testing.T) {
	e := smallEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Display(ctx, location.Point(0, 3, 10)))
	events := recordEvents(e)

	require.NoError(t, e.Resize(800, 1000))
	pos := e.Current()
	assert.Equal(t, 0, pos.SpineIndex)
	assert.Equal(t, 1, pos.TotalPages)
	assert.Contains(t, visibleText(e), "It is a way")
	require.Len(t, *events, 2)

	assert.Error(t, e.Resize(0, 10))
}

func TestDestroy(t *testing.T) {
	e := smallEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Display(ctx, ""))
	events := recordEvents(e)

	require.NoError(t, e.Destroy())
	require.NoError(t, e.Destroy())

	assert.ErrorIs(t, e.Display(ctx, ""), errDestroyed)
	assert.ErrorIs(t, e.Next(ctx), errDestroyed)
	assert.Equal(t, -1, e.Current().SpineIndex)
	assert.Nil(t, e.Page())
	assert.Empty(t, *events)
}

func TestRenderer_RequiresParsedBook(t *testing.T) {
	r := Renderer{}
	_, err := r.Render(context.Background(), stubDoc{}, defaultOptions)
	assert.Error(t, err)

	eng, err := r.Render(context.Background(), epub.NewDocument(testBook(t)), defaultOptions)
	require.NoError(t, err)
	assert.NotNil(t, eng)
}

type stubDoc struct{}

func (stubDoc) Key() string                 { return "epubjs:stub" }
func (stubDoc) Ready(context.Context) error { return nil }
