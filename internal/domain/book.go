// Package domain contains the entities of the reader: books, annotations, reading progress and
// display preferences.
package domain

import (
	"strings"
	"time"
)

// BookKeyPrefix prefixes every book key. Keys are derived from the package identifier so the same
// EPUB yields the same key on every device.
const BookKeyPrefix = "epubjs:"

// BookKeyFor derives a book key from a package identifier.
func BookKeyFor(identifier string) string {
	return BookKeyPrefix + strings.TrimSpace(identifier)
}

// Book is a catalog entry for one EPUB in the library.
type Book struct {
	Key         string      `json:"key"`
	Identifier  string      `json:"identifier"`
	Title       string      `json:"title"`
	Authors     []string    `json:"authors,omitempty"`
	Language    string      `json:"language,omitempty"`
	Publisher   string      `json:"publisher,omitempty"`
	Description string      `json:"description,omitempty"` // markdown
	Path        string      `json:"path"`
	Size        int64       `json:"size"`
	ModTime     int64       `json:"mod_time"`
	SpineLength int         `json:"spine_length"`
	Contents    []TOCEntry  `json:"contents,omitempty"`
	Cover       *CoverImage `json:"cover,omitempty"`
	ScannedAt   time.Time   `json:"scanned_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TOCEntry is one navigation point.
type TOCEntry struct {
	Title      string `json:"title"`
	Href       string `json:"href"`
	SpineIndex int    `json:"spine_index"` // -1 when the href is not in the spine
}

// CoverImage describes the cover found in the package.
type CoverImage struct {
	Href      string `json:"href"`
	MediaType string `json:"media_type"`
	BlurHash  string `json:"blur_hash,omitempty"`
	Hash      string `json:"hash,omitempty"` // sha256 of the image bytes
}

// ChapterTitle returns the title of the navigation entry covering spineIndex.
// Entries are matched on the last one starting at or before the spine item.
func (b *Book) ChapterTitle(spineIndex int) string {
	title := ""
	best := -1
	for _, e := range b.Contents {
		if e.SpineIndex <= spineIndex && e.SpineIndex > best {
			best = e.SpineIndex
			title = e.Title
		}
	}
	return title
}
