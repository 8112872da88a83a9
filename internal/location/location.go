// Package location models positions inside a book.
//
// A Location is an opaque, book scoped token (an EPUB CFI string). Two locations are the same position
// exactly when their strings are equal; parsing is only used for ordering and for deriving the spine
// item a location falls in, and never gates storage.
package location

import (
	"context"
	"fmt"
	"strings"
)

// Location is a CFI string such as "epubcfi(/6/4!/4/2/1:0)".
type Location string

func (l Location) String() string { return string(l) }

// IsZero reports whether l is empty.
func (l Location) IsZero() bool { return strings.TrimSpace(string(l)) == "" }

// Equals is structural string equality. No fuzzy matching is attempted.
func Equals(a, b Location) bool { return a == b }

// Compare orders a and b in document order when both parse, falling back to string order.
// Ranges compare by their start point.
func Compare(a, b Location) int {
	if a == b {
		return 0
	}
	ca, errA := Parse(a)
	cb, errB := Parse(b)
	if errA != nil || errB != nil {
		return strings.Compare(string(a), string(b))
	}
	if c := ca.StartPoint().compare(cb.StartPoint()); c != 0 {
		return c
	}
	return strings.Compare(string(a), string(b))
}

// SpineIndex is a convenience for Parse(l).SpineIndex(); unparseable locations yield -1.
func SpineIndex(l Location) int {
	c, err := Parse(l)
	if err != nil {
		return -1
	}
	return c.SpineIndex()
}

// Point builds the location of a character offset within a paragraph of a spine item.
// Paragraphs are addressed as children of <body> (the /4 step of an XHTML document).
func Point(spine, paragraph, offset int) Location {
	return Location(fmt.Sprintf("epubcfi(/6/%d!/4/%d/1:%d)", 2*(spine+1), 2*(paragraph+1), offset))
}

// Span builds a range location covering [start, end) characters of one paragraph.
func Span(spine, paragraph, start, end int) Location {
	return Location(fmt.Sprintf("epubcfi(/6/%d!/4/%d,/1:%d,/1:%d)", 2*(spine+1), 2*(paragraph+1), start, end))
}

// Resolved is what a rendering session knows about a location.
type Resolved struct {
	ChapterTitle string
	ChapterIndex int
	Page         int // page within the chapter, 1 based
	TotalPages   int // pages in the chapter
	PageInBook   int
}

// Resolver maps a location to rendering-dependent metadata. Render sessions implement it.
type Resolver interface {
	Resolve(ctx context.Context, loc Location) (Resolved, error)
}

// DisplayMetadata is the human readable description of a location.
// OK is false when the location could not be resolved; the other fields are then zero.
type DisplayMetadata struct {
	Location     Location `json:"location"`
	ChapterTitle string   `json:"chapter_title,omitempty"`
	ChapterIndex int      `json:"chapter_index"`
	Page         int      `json:"page,omitempty"`
	TotalPages   int      `json:"total_pages,omitempty"`
	PageInBook   int      `json:"page_in_book,omitempty"`
	OK           bool     `json:"resolved"`
}

// Label renders the metadata for display, falling back to the raw location when unresolved.
func (m DisplayMetadata) Label() string {
	if !m.OK {
		return string(m.Location)
	}
	title := m.ChapterTitle
	if title == "" {
		title = fmt.Sprintf("Chapter %d", m.ChapterIndex+1)
	}
	if m.TotalPages > 0 {
		return fmt.Sprintf("%s, page %d of %d", title, m.Page, m.TotalPages)
	}
	return title
}

// ToDisplayMetadata asks r to describe loc. It never fails: any error (including a nil resolver or a
// session that is not ready yet) yields unresolved metadata.
func ToDisplayMetadata(ctx context.Context, r Resolver, loc Location) DisplayMetadata {
	md := DisplayMetadata{Location: loc, ChapterIndex: -1}
	if r == nil || loc.IsZero() {
		return md
	}
	res, err := r.Resolve(ctx, loc)
	if err != nil {
		return md
	}
	md.ChapterTitle = res.ChapterTitle
	md.ChapterIndex = res.ChapterIndex
	md.Page = res.Page
	md.TotalPages = res.TotalPages
	md.PageInBook = res.PageInBook
	md.OK = true
	return md
}

// Anchor is a location decoded into spine item, paragraph and character offsets. End equals Start
// for point locations.
type Anchor struct {
	Spine     int
	Paragraph int
	Start     int
	End       int
}

// Decode reads locations of the shape produced by Point and Span. Locations addressing anything
// else (nested elements, ranges crossing paragraphs) report false.
func Decode(l Location) (Anchor, bool) {
	c, err := Parse(l)
	if err != nil {
		return Anchor{}, false
	}
	start, end := c.StartPoint(), c.EndPoint()
	sa, ok := decodePoint(start)
	if !ok {
		return Anchor{}, false
	}
	ea, ok := decodePoint(end)
	if !ok || ea.Spine != sa.Spine || ea.Paragraph != sa.Paragraph || ea.Start < sa.Start {
		return Anchor{}, false
	}
	sa.End = ea.Start
	return sa, true
}

func decodePoint(c *CFI) (Anchor, bool) {
	p := c.Path
	if len(p) < 4 || p[0].Index != 6 || p[2].Index != 4 || !p[2].Indirect || p[3].Index < 2 || p[3].Index%2 != 0 {
		return Anchor{}, false
	}
	a := Anchor{Spine: c.SpineIndex(), Paragraph: p[3].Index/2 - 1}
	if c.Offset > 0 {
		a.Start = c.Offset
	}
	a.End = a.Start
	return a, a.Spine >= 0
}
