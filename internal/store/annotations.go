package store

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/id"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/sse"
)

var kindPrefixes = map[domain.AnnotationKind]string{
	domain.KindHighlight: id.Highlight,
	domain.KindNote:      id.Note,
	domain.KindBookmark:  id.Bookmark,
}

// AddAnnotation persists a new annotation and emits one change event for its book.
func (s *Store) AddAnnotation(
	ctx context.Context,
	bookKey string,
	loc location.Location,
	text string,
	kind domain.AnnotationKind,
	payload domain.Payload,
) (*domain.Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, domainerrors.Validationf("unknown annotation kind %q", kind)
	}
	if !payload.Color.Valid() {
		return nil, domainerrors.Validationf("unsupported highlight colour %q", payload.Color)
	}

	annID, err := id.Generate(kindPrefixes[kind])
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "generate annotation id")
	}
	now := s.now()
	a := &domain.Annotation{
		ID:        annID,
		BookKey:   bookKey,
		Kind:      kind,
		Location:  loc,
		Text:      strings.TrimSpace(text),
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch kind {
	case domain.KindHighlight:
		a.Color = cmp.Or(payload.Color, domain.ColorYellow)
	case domain.KindNote:
		a.Body = payload.Body
	case domain.KindBookmark:
		a.Text = ""
		a.Position = payload.Position
		if a.Position == nil {
			a.Position = domain.PositionFrom(location.DisplayMetadata{}, now)
		}
	}
	if err := a.Validate(); err != nil {
		return nil, domainerrors.Validation(err.Error())
	}

	key := primaryKey(a)
	if kind == domain.KindBookmark {
		if key, err = s.bookmarkSlot(ctx, bookKey, loc); err != nil {
			return nil, err
		}
	}

	value, err := encodeAnnotation(a)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Apply(ctx, Put(key, value), Put(annotationIndexKey(a.ID), []byte(key))); err != nil {
		return nil, fmt.Errorf("save annotation: %w", err)
	}

	s.logger.Debug("annotation added",
		slog.String("id", a.ID),
		slog.String("book_key", bookKey),
		slog.String("kind", string(kind)))

	if kind != domain.KindBookmark {
		if err := s.searchIndexer.IndexAnnotation(ctx, a); err != nil {
			s.logger.Warn("failed to index annotation", "id", a.ID, "error", err)
		}
	}
	s.eventEmitter.Emit(sse.NewAnnotationsChangedEvent(bookKey, sse.ActionAdded, []domain.AnnotationKind{kind}, []string{a.ID}))
	return a, nil
}

// GetAnnotation reads one annotation by id.
func (s *Store) GetAnnotation(ctx context.Context, annID string) (*domain.Annotation, error) {
	a, _, err := s.lookup(ctx, annID)
	return a, err
}

// lookup resolves an id to its record and primary key.
func (s *Store) lookup(ctx context.Context, annID string) (*domain.Annotation, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	key, err := s.resolveKey(ctx, annID)
	if err != nil {
		return nil, "", err
	}
	raw, err := s.backend.Get(ctx, key)
	if isKeyNotFound(err) {
		return nil, "", ErrAnnotationNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get annotation: %w", err)
	}
	a, err := decodeAnnotation(key, raw)
	if err != nil {
		return nil, key, fmt.Errorf("decode annotation: %w", err)
	}
	return a, key, nil
}

func (s *Store) resolveKey(ctx context.Context, annID string) (string, error) {
	if strings.HasPrefix(annID, bookmarkPrefix) {
		return annID, nil
	}
	raw, err := s.backend.Get(ctx, annotationIndexKey(annID))
	if isKeyNotFound(err) {
		return "", ErrAnnotationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve annotation %s: %w", annID, err)
	}
	return string(raw), nil
}

// RemoveAnnotation deletes an annotation by id. Removing an id that does not exist is a no-op:
// nothing is written and no event is emitted.
func (s *Store) RemoveAnnotation(ctx context.Context, annID string) error {
	a, key, err := s.lookup(ctx, annID)
	switch {
	case domainerrors.Is(err, ErrAnnotationNotFound):
		return nil
	case err != nil && key == "":
		return err
	case err != nil:
		// Corrupt record: still remove it, the key tells us where it lives.
		s.logger.Warn("removing unreadable annotation", "id", annID, "error", err)
		kind, _ := kindOfKey(key)
		a = &domain.Annotation{ID: annID, BookKey: bookOfKey(key), Kind: kind}
	}

	writes := []Write{Del(key), Del(annotationIndexKey(annID))}
	if err := s.backend.Apply(ctx, writes...); err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}

	s.logger.Debug("annotation removed", slog.String("id", annID), slog.String("book_key", a.BookKey))

	if err := s.searchIndexer.DeleteAnnotations(ctx, annID); err != nil {
		s.logger.Warn("failed to unindex annotation", "id", annID, "error", err)
	}
	s.eventEmitter.Emit(sse.NewAnnotationsChangedEvent(a.BookKey, sse.ActionRemoved, []domain.AnnotationKind{a.Kind}, []string{annID}))
	return nil
}

// RemoveAllForBook deletes every annotation of bookKey (restricted to kinds when given) in one
// batch, and emits a single change event once the batch is committed. Other books are untouched.
func (s *Store) RemoveAllForBook(ctx context.Context, bookKey string, kinds ...domain.AnnotationKind) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if bookKey == "" {
		return 0, domainerrors.Validation("book key is required")
	}
	if len(kinds) == 0 {
		kinds = domain.AllKinds
	}

	var (
		writes []Write
		ids    []string
	)
	for _, kind := range kinds {
		err := s.scanKind(ctx, bookKey, kind, func(key string, a *domain.Annotation, decodeErr error) {
			if decodeErr != nil {
				// Unreadable records are only removed when the key itself proves ownership.
				if kind == domain.KindBookmark || bookOfKey(key) != bookKey {
					return
				}
			} else {
				ids = append(ids, a.ID)
				writes = append(writes, Del(annotationIndexKey(a.ID)))
			}
			writes = append(writes, Del(key))
		})
		if err != nil {
			return 0, err
		}
	}

	if err := s.backend.Apply(ctx, writes...); err != nil {
		return 0, fmt.Errorf("clear annotations: %w", err)
	}
	if len(ids) > 0 {
		if err := s.searchIndexer.DeleteAnnotations(ctx, ids...); err != nil {
			s.logger.Warn("failed to unindex annotations", "book_key", bookKey, "error", err)
		}
	}

	s.logger.Info("annotations cleared",
		slog.String("book_key", bookKey),
		slog.Int("count", len(ids)),
		slog.Any("kinds", kinds))
	s.eventEmitter.Emit(sse.NewAnnotationsChangedEvent(bookKey, sse.ActionCleared, kinds, ids))
	return len(ids), nil
}

// ListForBook returns bookKey's annotations of the given kinds (all when none), newest first.
// Records that cannot be decoded are skipped with a warning; they never fail the read.
func (s *Store) ListForBook(ctx context.Context, bookKey string, kinds ...domain.AnnotationKind) ([]*domain.Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		kinds = domain.AllKinds
	}

	out := make([]*domain.Annotation, 0)
	for _, kind := range kinds {
		err := s.scanKind(ctx, bookKey, kind, func(key string, a *domain.Annotation, decodeErr error) {
			if decodeErr != nil {
				s.logger.Warn("skipping unreadable annotation", "key", key, "error", decodeErr)
				return
			}
			out = append(out, a)
		})
		if err != nil {
			return nil, err
		}
	}

	slices.SortFunc(out, newestFirst)
	return out, nil
}

// newestFirst orders by creation time descending, then id descending so equal timestamps still
// produce a stable order.
func newestFirst(a, b *domain.Annotation) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

// scanKind visits every stored record of kind that belongs to bookKey. Decoded records whose own
// book key differs are dropped here, since prefixes alone cannot separate book keys that share a
// prefix. Undecodable records are passed through with their error.
func (s *Store) scanKind(
	ctx context.Context,
	bookKey string,
	kind domain.AnnotationKind,
	fn func(key string, a *domain.Annotation, decodeErr error),
) error {
	base := bookmarkPrefix
	switch kind {
	case domain.KindHighlight:
		base = highlightPrefix
	case domain.KindNote:
		base = notePrefix
	}
	prefix := base
	if kind != domain.KindBookmark {
		prefix = base + bookKey + ":"
	}

	err := s.backend.Scan(ctx, prefix, func(key string, value []byte) error {
		if kind != domain.KindBookmark && !ownedBy(key, base, bookKey) {
			return nil
		}
		a, err := decodeAnnotation(key, value)
		if err != nil {
			if kind == domain.KindBookmark {
				// Bookmarks of every book share one prefix; without a readable record the owner is unknown.
				s.logger.Warn("skipping unreadable bookmark", "key", key, "error", err)
				return nil
			}
			fn(key, nil, err)
			return nil
		}
		if a.BookKey != bookKey {
			return nil
		}
		fn(key, a, nil)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s annotations: %w", kind, err)
	}
	return nil
}

// UpdateNoteBody replaces the body of a note. Highlights and bookmarks cannot be edited: for those,
// and for unknown ids, nothing changes, a warning is logged and ErrNotANote or ErrAnnotationNotFound
// is returned for callers that care.
func (s *Store) UpdateNoteBody(ctx context.Context, annID, body string) (*domain.Annotation, error) {
	a, key, err := s.lookup(ctx, annID)
	if err != nil {
		if domainerrors.Is(err, ErrAnnotationNotFound) {
			s.logger.Warn("note update ignored: annotation not found", "id", annID)
		}
		return nil, err
	}
	if a.Kind != domain.KindNote {
		s.logger.Warn("note update ignored: annotation is not a note", "id", annID, "kind", a.Kind)
		return nil, ErrNotANote
	}

	a.Body = body
	a.UpdatedAt = s.now()
	value, err := encodeAnnotation(a)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Apply(ctx, Put(key, value)); err != nil {
		return nil, fmt.Errorf("save note: %w", err)
	}

	if err := s.searchIndexer.IndexAnnotation(ctx, a); err != nil {
		s.logger.Warn("failed to reindex note", "id", annID, "error", err)
	}
	s.eventEmitter.Emit(sse.NewAnnotationsChangedEvent(a.BookKey, sse.ActionUpdated, []domain.AnnotationKind{domain.KindNote}, []string{a.ID}))
	return a, nil
}

// FindBookmark returns the bookmark of bookKey at exactly loc.
func (s *Store) FindBookmark(ctx context.Context, bookKey string, loc location.Location) (*domain.Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, key := range []string{bookmarkKey(loc), scopedBookmarkKey(bookKey, loc)} {
		a, err := s.readBookmark(ctx, key)
		if err != nil {
			return nil, err
		}
		if a != nil && a.BookKey == bookKey {
			return a, nil
		}
	}
	return nil, ErrAnnotationNotFound
}

// readBookmark decodes the bookmark at key. Absent and unreadable records yield nil.
func (s *Store) readBookmark(ctx context.Context, key string) (*domain.Annotation, error) {
	raw, err := s.backend.Get(ctx, key)
	if isKeyNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bookmark: %w", err)
	}
	a, err := decodeAnnotation(key, raw)
	if err != nil {
		return nil, nil
	}
	return a, nil
}

// bookmarkSlot picks the key for a new bookmark. Locations only mean something within one book, so
// when another book already holds the shared key the bookmark goes under a key scoped to bookKey.
func (s *Store) bookmarkSlot(ctx context.Context, bookKey string, loc location.Location) (string, error) {
	_, err := s.FindBookmark(ctx, bookKey, loc)
	if err == nil {
		return "", domainerrors.AlreadyExists("a bookmark already exists at this location")
	}
	if !domainerrors.Is(err, ErrAnnotationNotFound) {
		return "", err
	}

	key := bookmarkKey(loc)
	taken, err := s.exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("check bookmark: %w", err)
	}
	if taken {
		return scopedBookmarkKey(bookKey, loc), nil
	}
	return key, nil
}

// AllAnnotations visits every readable highlight and note across all books. Used to rebuild the
// search index.
func (s *Store) AllAnnotations(ctx context.Context, fn func(*domain.Annotation) error) error {
	for _, prefix := range []string{highlightPrefix, notePrefix} {
		err := s.backend.Scan(ctx, prefix, func(key string, value []byte) error {
			a, err := decodeAnnotation(key, value)
			if err != nil {
				return nil
			}
			return fn(a)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// now returns the store clock truncated to the millisecond precision records persist.
func (s *Store) now() time.Time {
	clock := s.clock
	if clock == nil {
		clock = time.Now
	}
	return clock().UTC().Truncate(time.Millisecond)
}

// SetClock replaces the clock used for timestamps. Tests use it to control ordering.
func (s *Store) SetClock(clock func() time.Time) {
	s.clock = clock
}
