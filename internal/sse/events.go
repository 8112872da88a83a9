// Package sse fans store changes out to interested parties: Server-Sent Event streams for remote
// readers and in-process subscribers such as live rendering sessions.
package sse

import (
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
)

// EventType names an event on the wire.
type EventType string

const (
	// EventAnnotationsChanged is the store-changed signal for one book's annotations.
	// Subscribers re-read the store; the payload only says what kind of change happened.
	EventAnnotationsChanged EventType = "annotations.changed"
	EventProgressUpdated    EventType = "progress.updated"

	EventBookAdded   EventType = "book.added"
	EventBookUpdated EventType = "book.updated"
	EventBookRemoved EventType = "book.removed"

	EventFavoriteChanged EventType = "favorite.changed"

	EventHeartbeat EventType = "heartbeat"
)

// Change actions carried by EventAnnotationsChanged.
const (
	ActionAdded   = "added"
	ActionRemoved = "removed"
	ActionUpdated = "updated"
	ActionCleared = "cleared"
)

// Event is one message delivered to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`

	// Filters. Empty means everyone.
	BookKey  string `json:"book_key,omitempty"`
	ReaderID string `json:"-"`
}

// AnnotationsChangedData describes a store-changed signal.
type AnnotationsChangedData struct {
	BookKey string                  `json:"book_key"`
	Action  string                  `json:"action"`
	Kinds   []domain.AnnotationKind `json:"kinds,omitempty"`
	IDs     []string                `json:"ids,omitempty"`
	Count   int                     `json:"count"`
}

// ProgressEventData carries a saved reading position.
type ProgressEventData struct {
	Progress *domain.ReadingProgress `json:"progress"`
}

// BookEventData carries a catalog entry.
type BookEventData struct {
	Book *domain.Book `json:"book"`
}

// BookRemovedEventData identifies a removed catalog entry.
type BookRemovedEventData struct {
	BookKey   string    `json:"book_key"`
	RemovedAt time.Time `json:"removed_at"`
}

// FavoriteEventData reports a favourite toggle.
type FavoriteEventData struct {
	ItemType string `json:"item_type"`
	ItemID   string `json:"item_id"`
	Favorite bool   `json:"favorite"`
}

// HeartbeatEventData keeps idle connections open.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

// NewAnnotationsChangedEvent builds the store-changed signal for bookKey.
func NewAnnotationsChangedEvent(bookKey, action string, kinds []domain.AnnotationKind, ids []string) Event {
	return Event{
		Type:      EventAnnotationsChanged,
		BookKey:   bookKey,
		Timestamp: time.Now(),
		Data: AnnotationsChangedData{
			BookKey: bookKey,
			Action:  action,
			Kinds:   kinds,
			IDs:     ids,
			Count:   len(ids),
		},
	}
}

// NewProgressUpdatedEvent reports a saved position to the reader who owns it.
func NewProgressUpdatedEvent(p *domain.ReadingProgress) Event {
	return Event{
		Type:      EventProgressUpdated,
		BookKey:   p.BookKey,
		Timestamp: time.Now(),
		Data:      ProgressEventData{Progress: p},
	}
}

// NewBookEvent reports a catalog insert or update.
func NewBookEvent(t EventType, b *domain.Book) Event {
	return Event{Type: t, Timestamp: time.Now(), Data: BookEventData{Book: b}}
}

// NewBookRemovedEvent reports a catalog deletion.
func NewBookRemovedEvent(bookKey string) Event {
	now := time.Now()
	return Event{Type: EventBookRemoved, Timestamp: now, Data: BookRemovedEventData{BookKey: bookKey, RemovedAt: now}}
}

// NewFavoriteChangedEvent is delivered only to readerID.
func NewFavoriteChangedEvent(readerID, itemType, itemID string, favorite bool) Event {
	return Event{
		Type:      EventFavoriteChanged,
		ReaderID:  readerID,
		Timestamp: time.Now(),
		Data:      FavoriteEventData{ItemType: itemType, ItemID: itemID, Favorite: favorite},
	}
}

// NewHeartbeatEvent builds a keepalive.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{Type: EventHeartbeat, Timestamp: now, Data: HeartbeatEventData{ServerTime: now}}
}
