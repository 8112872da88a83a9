package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/location"
)

// Persisted shapes. Field names follow what browser clients have always written, so records created
// by either side decode the same way. Timestamps are Unix milliseconds.

type highlightRecord struct {
	ID        string `json:"id"`
	BookKey   string `json:"bookKey"`
	CFIRange  string `json:"cfiRange"`
	Text      string `json:"text"`
	Color     string `json:"color"`
	CreatedAt int64  `json:"createdAt"`
}

type noteRecord struct {
	ID        string `json:"id"`
	BookKey   string `json:"bookKey"`
	CFIRange  string `json:"cfiRange"`
	Text      string `json:"text"`
	NoteText  string `json:"noteText"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

type bookmarkRecord struct {
	ID          string           `json:"id,omitempty"`
	CFI         string           `json:"cfi"`
	Timestamp   int64            `json:"timestamp"`
	ChapterInfo string           `json:"chapterInfo"`
	PageInfo    string           `json:"pageInfo"`
	BookKey     string           `json:"bookKey"`
	Metadata    bookmarkMetadata `json:"metadata"`
}

type bookmarkMetadata struct {
	Created       int64  `json:"created"`
	FormattedDate string `json:"formattedDate"`
	ChapterTitle  string `json:"chapterTitle"`
	ChapterIndex  int    `json:"chapterIndex"`
	PageNumber    int    `json:"pageNumber"`
	TotalPages    int    `json:"totalPages"`
	PageInBook    int    `json:"pageInBook,omitempty"`
	ExactLocation string `json:"exactLocation"`
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func encodeAnnotation(a *domain.Annotation) ([]byte, error) {
	var rec any
	switch a.Kind {
	case domain.KindHighlight:
		rec = highlightRecord{
			ID:        a.ID,
			BookKey:   a.BookKey,
			CFIRange:  string(a.Location),
			Text:      a.Text,
			Color:     string(a.Color),
			CreatedAt: millis(a.CreatedAt),
		}
	case domain.KindNote:
		rec = noteRecord{
			ID:        a.ID,
			BookKey:   a.BookKey,
			CFIRange:  string(a.Location),
			Text:      a.Text,
			NoteText:  a.Body,
			CreatedAt: millis(a.CreatedAt),
			UpdatedAt: millis(a.UpdatedAt),
		}
	case domain.KindBookmark:
		pos := a.Position
		if pos == nil {
			pos = &domain.BookmarkPosition{ChapterIndex: -1}
		}
		rec = bookmarkRecord{
			ID:          a.ID,
			CFI:         string(a.Location),
			Timestamp:   millis(a.CreatedAt),
			ChapterInfo: chapterInfo(pos),
			PageInfo:    pageInfo(pos),
			BookKey:     a.BookKey,
			Metadata: bookmarkMetadata{
				Created:       millis(a.CreatedAt),
				FormattedDate: pos.FormattedDate,
				ChapterTitle:  pos.ChapterTitle,
				ChapterIndex:  pos.ChapterIndex,
				PageNumber:    pos.Page,
				TotalPages:    pos.PagesInChapter,
				PageInBook:    pos.PageInBook,
				ExactLocation: string(a.Location),
			},
		}
	default:
		return nil, fmt.Errorf("unknown annotation kind %q", a.Kind)
	}
	return json.Marshal(rec)
}

func chapterInfo(p *domain.BookmarkPosition) string {
	if p.ChapterTitle != "" {
		return p.ChapterTitle
	}
	if p.ChapterIndex >= 0 {
		return fmt.Sprintf("Chapter %d", p.ChapterIndex+1)
	}
	return "Unknown Chapter"
}

func pageInfo(p *domain.BookmarkPosition) string {
	if p.PagesInChapter > 0 {
		return fmt.Sprintf("Page %d of %d", p.Page, p.PagesInChapter)
	}
	return ""
}

// decodeAnnotation turns a stored value back into an annotation. The kind comes from the key.
// Records that do not decode, or decode without their required fields, are reported as errors so
// callers can skip them.
func decodeAnnotation(key string, raw []byte) (*domain.Annotation, error) {
	kind, ok := kindOfKey(key)
	if !ok {
		return nil, fmt.Errorf("%s: not an annotation key", key)
	}

	var a *domain.Annotation
	switch kind {
	case domain.KindHighlight:
		var rec highlightRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		a = &domain.Annotation{
			ID:        rec.ID,
			BookKey:   rec.BookKey,
			Kind:      kind,
			Location:  location.Location(rec.CFIRange),
			Text:      rec.Text,
			Color:     domain.HighlightColor(rec.Color),
			CreatedAt: fromMillis(rec.CreatedAt),
			UpdatedAt: fromMillis(rec.CreatedAt),
		}
		if a.Color == "" {
			a.Color = domain.ColorYellow
		}
	case domain.KindNote:
		var rec noteRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		updated := rec.UpdatedAt
		if updated == 0 {
			updated = rec.CreatedAt
		}
		a = &domain.Annotation{
			ID:        rec.ID,
			BookKey:   rec.BookKey,
			Kind:      kind,
			Location:  location.Location(rec.CFIRange),
			Text:      rec.Text,
			Body:      rec.NoteText,
			CreatedAt: fromMillis(rec.CreatedAt),
			UpdatedAt: fromMillis(updated),
		}
	case domain.KindBookmark:
		var rec bookmarkRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		created := rec.Timestamp
		if created == 0 {
			created = rec.Metadata.Created
		}
		annID := rec.ID
		if annID == "" {
			// Bookmarks written before ids existed are addressed by their key.
			annID = key
		}
		a = &domain.Annotation{
			ID:        annID,
			BookKey:   rec.BookKey,
			Kind:      kind,
			Location:  location.Location(rec.CFI),
			CreatedAt: fromMillis(created),
			UpdatedAt: fromMillis(created),
			Position: &domain.BookmarkPosition{
				ChapterTitle:   rec.Metadata.ChapterTitle,
				ChapterIndex:   rec.Metadata.ChapterIndex,
				Page:           rec.Metadata.PageNumber,
				PagesInChapter: rec.Metadata.TotalPages,
				PageInBook:     rec.Metadata.PageInBook,
				FormattedDate:  rec.Metadata.FormattedDate,
			},
		}
	}

	if a.ID == "" {
		return nil, fmt.Errorf("%s: record has no id", key)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return a, nil
}
