package domain

import (
	"math"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/location"
)

// ReadingProgress is the last known position in a book.
type ReadingProgress struct {
	BookKey    string            `json:"book_key"`
	Location   location.Location `json:"location"`
	SpineIndex int               `json:"spine_index"`
	Percentage float64           `json:"percentage"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ProgressPercent estimates how far through the book a reader is from the spine position and the
// fraction of the current section already paged through. The result is clamped to [0, 100] and
// rounded to one decimal.
func ProgressPercent(spineIndex, spineLength int, sectionFraction float64) float64 {
	if spineLength <= 0 || spineIndex < 0 {
		return 0
	}
	sectionFraction = math.Max(0, math.Min(1, sectionFraction))
	p := (float64(spineIndex) + sectionFraction) / float64(spineLength) * 100
	p = math.Max(0, math.Min(100, p))
	return math.Round(p*10) / 10
}

// FontFamily is one of the supported reading typefaces.
type FontFamily string

const (
	FontLexend    FontFamily = "lexend"
	FontGeorgia   FontFamily = "georgia"
	FontHelvetica FontFamily = "helvetica"
	FontTimes     FontFamily = "times"
)

// CSS returns the font stack used for body and paragraph text.
func (f FontFamily) CSS() string {
	switch f {
	case FontLexend:
		return "'Lexend', sans-serif"
	case FontGeorgia:
		return "Georgia, serif"
	case FontHelvetica:
		return "Helvetica, Arial, sans-serif"
	default:
		return "Times New Roman, serif"
	}
}

// TextAlign is the paragraph alignment.
type TextAlign string

const (
	AlignLeft    TextAlign = "left"
	AlignJustify TextAlign = "justify"
	AlignCenter  TextAlign = "center"
)

// Theme holds the three colours a rendering applies.
type Theme struct {
	Name       string `json:"name,omitempty" yaml:"name"`
	Background string `json:"background" yaml:"background" validate:"required,hexcolor"`
	Text       string `json:"text" yaml:"text" validate:"required,hexcolor"`
	Link       string `json:"link" yaml:"link" validate:"required,hexcolor"`
}

// DisplayOptions configure one rendering session. Changing any of them requires a fresh session.
type DisplayOptions struct {
	FontSize   int        `json:"font_size" validate:"min=50,max=200"`
	FontFamily FontFamily `json:"font_family" validate:"oneof=lexend georgia helvetica times"`
	TextAlign  TextAlign  `json:"text_align" validate:"oneof=left justify center"`
	Theme      Theme      `json:"theme" validate:"required"`
}

// Stylesheet returns the rules a rendering engine registers as its default theme.
func (o DisplayOptions) Stylesheet() map[string]map[string]string {
	font := o.FontFamily.CSS()
	return map[string]map[string]string{
		"body": {
			"background":  o.Theme.Background,
			"color":       o.Theme.Text,
			"text-align":  string(o.TextAlign),
			"font-family": font,
			"line-height": "1.6",
		},
		"a, h1, h2, h3, h4, h5, h6": {
			"color":       o.Theme.Link,
			"line-height": "1.3",
		},
		"p": {
			"font-family":   font,
			"margin-bottom": "1em",
		},
		"blockquote": {
			"border-left": "2px solid " + o.Theme.Link,
			"font-style":  "italic",
		},
	}
}

// Favorite marks an item as a favourite of one reader.
type Favorite struct {
	ReaderID  string    `json:"reader_id"`
	ItemType  string    `json:"item_type" validate:"oneof=book icon concept"`
	ItemID    string    `json:"item_id" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}
