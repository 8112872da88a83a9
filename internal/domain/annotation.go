package domain

import (
	"fmt"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/location"
)

// AnnotationKind distinguishes the three annotation variants.
type AnnotationKind string

const (
	KindHighlight AnnotationKind = "highlight"
	KindNote      AnnotationKind = "note"
	KindBookmark  AnnotationKind = "bookmark"
)

// AllKinds lists every annotation kind.
var AllKinds = []AnnotationKind{KindHighlight, KindNote, KindBookmark}

// Valid reports whether k is a known kind.
func (k AnnotationKind) Valid() bool {
	switch k {
	case KindHighlight, KindNote, KindBookmark:
		return true
	}
	return false
}

// ParseKind converts a string to an AnnotationKind.
func ParseKind(s string) (AnnotationKind, error) {
	k := AnnotationKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown annotation kind %q", s)
	}
	return k, nil
}

// HighlightColor is the fill used for a highlight. Only yellow exists today.
type HighlightColor string

const ColorYellow HighlightColor = "yellow"

// ClassName is the decoration class applied by the renderer.
func (c HighlightColor) ClassName() string {
	if c == "" {
		c = ColorYellow
	}
	return "highlight-" + string(c)
}

var highlightFills = map[HighlightColor]string{
	ColorYellow: "yellow",
}

// Fill returns the CSS fill for the colour, yellow for unknown colours.
func (c HighlightColor) Fill() string {
	if f, ok := highlightFills[c]; ok {
		return f
	}
	return highlightFills[ColorYellow]
}

// Valid reports whether c is a supported colour. The zero value means the default.
func (c HighlightColor) Valid() bool {
	_, ok := highlightFills[c]
	return ok || c == ""
}

// Annotation is a user mark on a book: a highlight, a note or a bookmark.
//
// Highlights and bookmarks are immutable once created. Only a note's body can change.
type Annotation struct {
	ID        string            `json:"id"`
	BookKey   string            `json:"book_key"`
	Kind      AnnotationKind    `json:"kind"`
	Location  location.Location `json:"location"`
	Text      string            `json:"text,omitempty"` // anchored text, empty for bookmarks
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`

	Color    HighlightColor    `json:"color,omitempty"`
	Body     string            `json:"body,omitempty"`
	Position *BookmarkPosition `json:"position,omitempty"`
}

// BookmarkPosition is the human readable context captured with a bookmark. Display only.
type BookmarkPosition struct {
	ChapterTitle   string `json:"chapter_title,omitempty"`
	ChapterIndex   int    `json:"chapter_index"`
	Page           int    `json:"page,omitempty"`
	PagesInChapter int    `json:"pages_in_chapter,omitempty"`
	PageInBook     int    `json:"page_in_book,omitempty"`
	FormattedDate  string `json:"formatted_date,omitempty"`
}

// PositionFrom builds a bookmark position from resolved display metadata.
func PositionFrom(md location.DisplayMetadata, at time.Time) *BookmarkPosition {
	p := &BookmarkPosition{
		ChapterIndex:  -1,
		FormattedDate: at.Format("Jan 2, 2006 3:04 PM"),
	}
	if md.OK {
		p.ChapterTitle = md.ChapterTitle
		p.ChapterIndex = md.ChapterIndex
		p.Page = md.Page
		p.PagesInChapter = md.TotalPages
		p.PageInBook = md.PageInBook
	}
	return p
}

// Payload carries the variant-specific fields when creating an annotation.
type Payload struct {
	Color    HighlightColor
	Body     string
	Position *BookmarkPosition
}

// Validate checks the fields every annotation must have.
func (a *Annotation) Validate() error {
	switch {
	case a.BookKey == "":
		return fmt.Errorf("annotation %s: book key is required", a.ID)
	case a.Location.IsZero():
		return fmt.Errorf("annotation %s: location is required", a.ID)
	case !a.Kind.Valid():
		return fmt.Errorf("annotation %s: unknown kind %q", a.ID, a.Kind)
	case a.Kind == KindHighlight && a.Text == "":
		return fmt.Errorf("annotation %s: highlight has no text", a.ID)
	}
	return nil
}
