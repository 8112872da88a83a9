package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/sse"
)

// UpsertBook saves a catalog entry, emitting book.added or book.updated.
func (s *Store) UpsertBook(ctx context.Context, b *domain.Book) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Key == "" {
		return ErrInvalidInput.WithMessage("book key is required")
	}

	key := bookKeyFor(b.Key)
	existed, err := s.exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check book: %w", err)
	}
	b.UpdatedAt = s.now()
	if err := s.put(ctx, key, b); err != nil {
		return fmt.Errorf("save book: %w", err)
	}

	evt := sse.EventBookAdded
	if existed {
		evt = sse.EventBookUpdated
	}
	s.eventEmitter.Emit(sse.NewBookEvent(evt, b))
	return nil
}

// GetBook reads a catalog entry.
func (s *Store) GetBook(ctx context.Context, bookKey string) (*domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b domain.Book
	if err := s.get(ctx, bookKeyFor(bookKey), &b); err != nil {
		if isKeyNotFound(err) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &b, nil
}

// ListBooks returns the catalog ordered by title.
func (s *Store) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	books := make([]*domain.Book, 0)
	err := s.scanJSON(ctx, bookPrefix, func() any { return &domain.Book{} }, func(v any) {
		books = append(books, v.(*domain.Book))
	})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	slices.SortFunc(books, func(a, b *domain.Book) int {
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	})
	return books, nil
}

// BookByPath finds the catalog entry loaded from path.
func (s *Store) BookByPath(ctx context.Context, path string) (*domain.Book, error) {
	books, err := s.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		if b.Path == path {
			return b, nil
		}
	}
	return nil, ErrBookNotFound
}

// DeleteBook removes a catalog entry. Annotations and progress are kept: the file may come back.
func (s *Store) DeleteBook(ctx context.Context, bookKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := bookKeyFor(bookKey)
	ok, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBookNotFound
	}
	if err := s.backend.Apply(ctx, Del(key)); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	s.eventEmitter.Emit(sse.NewBookRemovedEvent(bookKey))
	return nil
}

// scanJSON decodes every value under prefix, skipping (and logging) the ones that do not decode.
func (s *Store) scanJSON(ctx context.Context, prefix string, alloc func() any, fn func(any)) error {
	return s.backend.Scan(ctx, prefix, func(key string, value []byte) error {
		dst := alloc()
		if err := decodeJSON(value, dst); err != nil {
			s.logger.Warn("skipping unreadable record", "key", key, "error", err)
			return nil
		}
		fn(dst)
		return nil
	})
}

// SaveProgress records the last location read in a book.
func (s *Store) SaveProgress(ctx context.Context, p *domain.ReadingProgress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.BookKey == "" || p.Location.IsZero() {
		return ErrInvalidInput.WithMessage("progress needs a book key and a location")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	if err := s.put(ctx, progressKey(p.BookKey), p); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	s.eventEmitter.Emit(sse.NewProgressUpdatedEvent(p))
	return nil
}

// GetProgress returns the saved position for bookKey.
func (s *Store) GetProgress(ctx context.Context, bookKey string) (*domain.ReadingProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p domain.ReadingProgress
	if err := s.get(ctx, progressKey(bookKey), &p); err != nil {
		if isKeyNotFound(err) {
			return nil, ErrProgressNotFound
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return &p, nil
}

// SetFavorite marks or unmarks an item for one reader.
func (s *Store) SetFavorite(ctx context.Context, f *domain.Favorite, favorite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := favoriteKey(f.ReaderID, f.ItemType, f.ItemID)
	if favorite {
		if f.CreatedAt.IsZero() {
			f.CreatedAt = s.now()
		}
		if err := s.put(ctx, key, f); err != nil {
			return fmt.Errorf("save favorite: %w", err)
		}
	} else if err := s.backend.Apply(ctx, Del(key)); err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	s.eventEmitter.Emit(sse.NewFavoriteChangedEvent(f.ReaderID, f.ItemType, f.ItemID, favorite))
	return nil
}

// GetFavorite returns the favourite record, or ErrFavoriteNotFound.
func (s *Store) GetFavorite(ctx context.Context, readerID, itemType, itemID string) (*domain.Favorite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var f domain.Favorite
	if err := s.get(ctx, favoriteKey(readerID, itemType, itemID), &f); err != nil {
		if isKeyNotFound(err) {
			return nil, ErrFavoriteNotFound
		}
		return nil, fmt.Errorf("get favorite: %w", err)
	}
	return &f, nil
}

// ListFavorites returns a reader's favourites of itemType, most recent first.
func (s *Store) ListFavorites(ctx context.Context, readerID, itemType string) ([]*domain.Favorite, error) {
	out := make([]*domain.Favorite, 0)
	err := s.scanJSON(ctx, favoritePrefix+readerID+":"+itemType+":", func() any { return &domain.Favorite{} }, func(v any) {
		out = append(out, v.(*domain.Favorite))
	})
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	slices.SortFunc(out, func(a, b *domain.Favorite) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Stamp returns the store's current time. Services use it so records share one clock.
func (s *Store) Stamp() time.Time { return s.now() }
