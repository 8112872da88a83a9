// Package service holds the business operations behind the HTTP API: annotations, the book
// catalog, reading progress, favourites and headless preview sessions.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/search"
	"github.com/alexandriaapp/alexandria-server/internal/store"
	"github.com/alexandriaapp/alexandria-server/internal/validation"
)

// CreateAnnotationRequest is the body of an annotation create call.
type CreateAnnotationRequest struct {
	Kind     domain.AnnotationKind    `json:"kind" validate:"required,oneof=highlight note bookmark"`
	Location location.Location        `json:"location" validate:"required"`
	Text     string                   `json:"text,omitempty" validate:"max=10000"`
	Color    domain.HighlightColor    `json:"color,omitempty"`
	Body     string                   `json:"body,omitempty" validate:"max=20000"`
	Position *domain.BookmarkPosition `json:"position,omitempty"`
}

// AnnotationService validates annotation requests and runs them against the store.
type AnnotationService struct {
	store     *store.Store
	index     *search.SearchIndex
	validator *validation.Validator
	logger    *slog.Logger
}

// NewAnnotationService creates an annotation service. index may be nil, which disables search.
func NewAnnotationService(store *store.Store, index *search.SearchIndex, validator *validation.Validator, logger *slog.Logger) *AnnotationService {
	return &AnnotationService{
		store:     store,
		index:     index,
		validator: validator,
		logger:    logger,
	}
}

// Create adds an annotation to bookKey.
func (s *AnnotationService) Create(ctx context.Context, bookKey string, req CreateAnnotationRequest) (*domain.Annotation, error) {
	if bookKey == "" {
		return nil, domainerrors.Validation("book key is required")
	}
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if _, err := location.Parse(req.Location); err != nil {
		return nil, domainerrors.ValidationWithDetails("invalid location", map[string]string{"location": err.Error()})
	}

	return s.store.AddAnnotation(ctx, bookKey, req.Location, req.Text, req.Kind, domain.Payload{
		Color:    req.Color,
		Body:     req.Body,
		Position: req.Position,
	})
}

// List returns a book's annotations newest first, optionally narrowed to kinds.
func (s *AnnotationService) List(ctx context.Context, bookKey string, kinds ...domain.AnnotationKind) ([]*domain.Annotation, error) {
	for _, k := range kinds {
		if !k.Valid() {
			return nil, domainerrors.Validationf("unknown annotation kind %q", k)
		}
	}
	return s.store.ListForBook(ctx, bookKey, kinds...)
}

// Get returns one annotation.
func (s *AnnotationService) Get(ctx context.Context, annID string) (*domain.Annotation, error) {
	return s.store.GetAnnotation(ctx, annID)
}

// Remove deletes an annotation. Removing an unknown id is not an error.
func (s *AnnotationService) Remove(ctx context.Context, annID string) error {
	return s.store.RemoveAnnotation(ctx, annID)
}

// Clear deletes a book's annotations, all of them or only the given kinds.
func (s *AnnotationService) Clear(ctx context.Context, bookKey string, kinds ...domain.AnnotationKind) (int, error) {
	for _, k := range kinds {
		if !k.Valid() {
			return 0, domainerrors.Validationf("unknown annotation kind %q", k)
		}
	}
	return s.store.RemoveAllForBook(ctx, bookKey, kinds...)
}

// UpdateNote replaces a note's body. Other kinds are immutable.
func (s *AnnotationService) UpdateNote(ctx context.Context, annID, body string) (*domain.Annotation, error) {
	if len(body) > 20000 {
		return nil, domainerrors.Validation("note body is too long")
	}
	return s.store.UpdateNoteBody(ctx, annID, body)
}

// Search finds highlights and notes of bookKey matching q.
func (s *AnnotationService) Search(ctx context.Context, bookKey, q string, limit int, kinds ...domain.AnnotationKind) (*search.SearchResult, error) {
	if s.index == nil {
		return nil, domainerrors.Unavailable("annotation search is disabled")
	}
	params := search.DefaultSearchParams()
	params.Query = q
	params.BookKey = bookKey
	if limit > 0 {
		params.Limit = min(limit, 100)
	}
	for _, k := range kinds {
		params.Kinds = append(params.Kinds, string(k))
	}
	res, err := s.index.Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search annotations: %w", err)
	}
	return res, nil
}

// RebuildIndex refills the search index from the store.
func (s *AnnotationService) RebuildIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, domainerrors.Unavailable("annotation search is disabled")
	}
	n, err := s.index.Rebuild(ctx, s.store)
	if err != nil {
		return 0, err
	}
	s.logger.Info("annotation search index rebuilt", "annotations", n)
	return n, nil
}
