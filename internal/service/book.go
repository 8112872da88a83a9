package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/epub"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/media/images"
	"github.com/alexandriaapp/alexandria-server/internal/store"
)

// Cover is a book's cover image.
type Cover struct {
	Data      []byte
	MediaType string
	Hash      string
}

// BookService reads the catalog the library watcher maintains.
type BookService struct {
	store  *store.Store
	covers *images.Cache
	logger *slog.Logger
}

// NewBookService creates a new book service. covers may be nil; covers are then read from the
// EPUB on every request.
func NewBookService(store *store.Store, covers *images.Cache, logger *slog.Logger) *BookService {
	return &BookService{
		store:  store,
		covers: covers,
		logger: logger,
	}
}

// ListBooks returns every catalogued book sorted by title.
func (s *BookService) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	books, err := s.store.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// GetBook returns one catalogued book.
func (s *BookService) GetBook(ctx context.Context, bookKey string) (*domain.Book, error) {
	return s.store.GetBook(ctx, bookKey)
}

// Open starts loading the EPUB behind a catalogued book.
func (s *BookService) Open(ctx context.Context, bookKey string) (*epub.Document, error) {
	b, err := s.store.GetBook(ctx, bookKey)
	if err != nil {
		return nil, err
	}
	return epub.Load(b.Key, b.Path), nil
}

// Cover returns the book's cover, from the cache when possible.
func (s *BookService) Cover(ctx context.Context, bookKey string) (*Cover, error) {
	b, err := s.store.GetBook(ctx, bookKey)
	if err != nil {
		return nil, err
	}
	if b.Cover == nil {
		return nil, domainerrors.NotFoundf("book %s has no cover", bookKey)
	}
	if s.covers != nil {
		data, mediaType, err := s.covers.Get(bookKey)
		if err == nil {
			return &Cover{Data: data, MediaType: mediaType, Hash: b.Cover.Hash}, nil
		}
		if !errors.Is(err, images.ErrNotCached) {
			s.logger.Warn("failed to read cached cover", "book_key", bookKey, "error", err)
		}
	}

	book, err := epub.Open(b.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", b.Path, err)
	}
	defer book.Close()
	data, mediaType, err := book.CoverImage()
	if err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeNotFound, "cover of %s is unreadable", bookKey)
	}
	return &Cover{Data: data, MediaType: mediaType, Hash: b.Cover.Hash}, nil
}

// Describe returns chapter metadata for loc using only the catalog. It needs no rendering, so page
// numbers are left empty.
func (s *BookService) Describe(ctx context.Context, bookKey string, loc location.Location) location.DisplayMetadata {
	md := location.DisplayMetadata{Location: loc, ChapterIndex: -1}
	b, err := s.store.GetBook(ctx, bookKey)
	if err != nil {
		return md
	}
	spine := location.SpineIndex(loc)
	if spine < 0 || spine >= b.SpineLength {
		return md
	}
	md.ChapterIndex = spine
	md.ChapterTitle = b.ChapterTitle(spine)
	md.OK = true
	return md
}
