package store

import (
	"strings"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/location"
)

// Key layout. Annotation prefixes keep the names earlier clients wrote, so existing data reads as-is.
const (
	highlightPrefix = "book-highlights-" // + bookKey + ":" + id
	notePrefix      = "book-notes-"      // + bookKey + ":" + id
	bookmarkPrefix  = "book-progress-"   // + location, or + bookKey + ":" + location when shared
	annotationIndex = "annotation-idx:"  // + id -> primary key
	progressPrefix  = "reading-progress-"
	bookPrefix      = "book:"
	favoritePrefix  = "favorite:" // + readerID + ":" + itemType + ":" + itemID
)

func highlightKey(bookKey, annID string) string { return highlightPrefix + bookKey + ":" + annID }

func noteKey(bookKey, annID string) string { return notePrefix + bookKey + ":" + annID }

func bookmarkKey(loc location.Location) string { return bookmarkPrefix + string(loc) }

// scopedBookmarkKey holds a bookmark whose location is already bookmarked in another book.
func scopedBookmarkKey(bookKey string, loc location.Location) string {
	return bookmarkPrefix + bookKey + ":" + string(loc)
}

func annotationIndexKey(annID string) string { return annotationIndex + annID }

func progressKey(bookKey string) string { return progressPrefix + bookKey }

func bookKeyFor(key string) string { return bookPrefix + key }

func favoriteKey(readerID, itemType, itemID string) string {
	return favoritePrefix + readerID + ":" + itemType + ":" + itemID
}

// primaryKey returns where an annotation lives.
func primaryKey(a *domain.Annotation) string {
	switch a.Kind {
	case domain.KindHighlight:
		return highlightKey(a.BookKey, a.ID)
	case domain.KindNote:
		return noteKey(a.BookKey, a.ID)
	default:
		return bookmarkKey(a.Location)
	}
}

// kindOfKey classifies a primary key by its prefix.
func kindOfKey(key string) (domain.AnnotationKind, bool) {
	switch {
	case strings.HasPrefix(key, highlightPrefix):
		return domain.KindHighlight, true
	case strings.HasPrefix(key, notePrefix):
		return domain.KindNote, true
	case strings.HasPrefix(key, bookmarkPrefix):
		return domain.KindBookmark, true
	}
	return "", false
}

// ownedBy reports whether a per-book key (highlight or note) belongs to bookKey.
// Book keys may contain ":", so the remainder after "<prefix><bookKey>:" must be a bare id.
func ownedBy(key, prefix, bookKey string) bool {
	rest, ok := strings.CutPrefix(key, prefix+bookKey+":")
	return ok && rest != "" && !strings.Contains(rest, ":")
}

// bookOfKey recovers the book key from a per-book key, or "" for bookmarks and unknown keys.
func bookOfKey(key string) string {
	for _, p := range []string{highlightPrefix, notePrefix} {
		if rest, ok := strings.CutPrefix(key, p); ok {
			if i := strings.LastIndexByte(rest, ':'); i > 0 {
				return rest[:i]
			}
		}
	}
	return ""
}
