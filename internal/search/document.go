// Package search provides full-text search over highlights and notes using Bleve. The store keeps
// it current through its SearchIndexer hook and it can be rebuilt from the store at any time.
package search

import (
	"github.com/alexandriaapp/alexandria-server/internal/domain"
)

// SearchDocument is what one annotation looks like in the index.
type SearchDocument struct {
	ID       string `json:"id"`
	BookKey  string `json:"book_key"`
	Kind     string `json:"kind"`
	Location string `json:"location"`
	Color    string `json:"color,omitempty"`

	Text string `json:"text,omitempty"` // anchored passage
	Body string `json:"body,omitempty"` // note body

	CreatedAt int64 `json:"created_at"` // Unix millis
}

// AnnotationToSearchDocument converts a highlight or note. Bookmarks have nothing to search and
// report false.
func AnnotationToSearchDocument(a *domain.Annotation) (*SearchDocument, bool) {
	if a == nil || a.Kind == domain.KindBookmark {
		return nil, false
	}
	return &SearchDocument{
		ID:        a.ID,
		BookKey:   a.BookKey,
		Kind:      string(a.Kind),
		Location:  string(a.Location),
		Color:     string(a.Color),
		Text:      a.Text,
		Body:      a.Body,
		CreatedAt: a.CreatedAt.UnixMilli(),
	}, true
}

// ToMap converts the document to a map with the field names the mapping uses.
func (d *SearchDocument) ToMap() map[string]any {
	m := map[string]any{
		"id":         d.ID,
		"book_key":   d.BookKey,
		"kind":       d.Kind,
		"location":   d.Location,
		"created_at": d.CreatedAt,
	}
	if d.Color != "" {
		m["color"] = d.Color
	}
	if d.Text != "" {
		m["text"] = d.Text
	}
	if d.Body != "" {
		m["body"] = d.Body
	}
	return m
}
