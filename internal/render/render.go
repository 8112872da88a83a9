// Package render owns the lifecycle of a rendering session: loading a document into an engine,
// serializing navigation, debouncing resizes, fanning out engine events and tearing everything down.
//
// The engine itself sits behind Engine. internal/render/memdoc provides a headless implementation.
package render

import (
	"context"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/location"
)

var (
	ErrSessionClosed = domainerrors.Closed("render session closed")
	ErrNotReady      = domainerrors.NotReady("render session not ready")
)

// Document provides book content to an engine.
type Document interface {
	// Key is the book key the document renders.
	Key() string
	// Ready blocks until package, spine and navigation are loaded.
	Ready(ctx context.Context) error
}

// Renderer constructs engines.
type Renderer interface {
	Render(ctx context.Context, doc Document, opts domain.DisplayOptions) (Engine, error)
}

// Engine is a rendering surface for one document.
type Engine interface {
	// Display shows loc, or the engine's default position when loc is empty.
	Display(ctx context.Context, loc location.Location) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	// Resize re-lays out the content for a new viewport.
	Resize(width, height int) error
	// Current describes what is on screen.
	Current() Position
	Resolve(ctx context.Context, loc location.Location) (location.Resolved, error)
	// TextAt returns the rendered text a location covers.
	TextAt(ctx context.Context, loc location.Location) (string, error)
	Decorations() Decorator
	// Subscribe registers fn for engine events until the returned function is called.
	Subscribe(fn func(Event)) (unsubscribe func())
	Destroy() error
}

// Decoration is the visual styling of a highlight.
type Decoration struct {
	Class string
	Style map[string]string
}

// HighlightDecoration returns the styling for a highlight colour.
func HighlightDecoration(c domain.HighlightColor) Decoration {
	return Decoration{
		Class: c.ClassName(),
		Style: map[string]string{
			"fill":           c.Fill(),
			"fill-opacity":   "0.3",
			"mix-blend-mode": "multiply",
		},
	}
}

// Decorator manages highlight marks on the rendered content. Marks never alter text.
type Decorator interface {
	// Highlight marks loc. Marking an already marked location replaces its decoration.
	Highlight(loc location.Location, d Decoration) error
	// Unhighlight removes the mark at loc. Unknown locations are a no-op.
	Unhighlight(loc location.Location) error
	// Highlights lists the marked locations.
	Highlights() []location.Location
}

// Position is the on-screen range.
type Position struct {
	Start      location.Location
	End        location.Location
	SpineIndex int
	Page       int // 1 based, within the section
	TotalPages int // pages in the section
	PageInBook int
	Fraction   float64 // of the section before this page, 0..1
	AtStart    bool
	AtEnd      bool
}

// EventType names an engine event.
type EventType string

const (
	// EventRendered fires after every re-render: navigation, resize, font change.
	EventRendered EventType = "rendered"
	// EventRelocated fires when the visible range changes.
	EventRelocated EventType = "relocated"
	// EventSelected fires when the user selects text.
	EventSelected EventType = "selected"
)

// Event is emitted by engines.
type Event struct {
	Type     EventType
	Position Position          // rendered, relocated
	Range    location.Location // selected
	Text     string            // selected
}

// RenderedEvent is delivered to OnRendered handlers.
type RenderedEvent struct {
	BookKey  string
	Position Position
}

// LocationChangedEvent is delivered to OnLocationChanged handlers.
type LocationChangedEvent struct {
	BookKey  string
	Position Position
}

// SelectedEvent is delivered to OnSelected handlers.
type SelectedEvent struct {
	BookKey string
	Range   location.Location
	Text    string
}
