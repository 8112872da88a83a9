package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/store"
)

// SaveProgressRequest reports a reader's position. Percentage is estimated from the spine when
// the client does not send one.
type SaveProgressRequest struct {
	Location   location.Location `json:"location" validate:"required"`
	Percentage *float64          `json:"percentage,omitempty" validate:"omitempty,min=0,max=100"`
}

// ProgressService reads and writes reading progress.
type ProgressService struct {
	store  *store.Store
	logger *slog.Logger
}

// NewProgressService creates a new progress service.
func NewProgressService(store *store.Store, logger *slog.Logger) *ProgressService {
	return &ProgressService{
		store:  store,
		logger: logger,
	}
}

// Get returns the saved position for bookKey.
func (s *ProgressService) Get(ctx context.Context, bookKey string) (*domain.ReadingProgress, error) {
	return s.store.GetProgress(ctx, bookKey)
}

// Save records the position for bookKey.
func (s *ProgressService) Save(ctx context.Context, bookKey string, req SaveProgressRequest) (*domain.ReadingProgress, error) {
	spine := location.SpineIndex(req.Location)
	if spine < 0 {
		return nil, domainerrors.Validationf("invalid location %q", req.Location)
	}

	p := &domain.ReadingProgress{
		BookKey:    bookKey,
		Location:   req.Location,
		SpineIndex: spine,
	}
	switch {
	case req.Percentage != nil:
		if *req.Percentage < 0 || *req.Percentage > 100 {
			return nil, domainerrors.Validationf("percentage %v is outside 0-100", *req.Percentage)
		}
		p.Percentage = *req.Percentage
	default:
		book, err := s.store.GetBook(ctx, bookKey)
		if err != nil && !errors.Is(err, domainerrors.ErrNotFound) {
			return nil, err
		}
		if book != nil {
			p.Percentage = domain.ProgressPercent(spine, book.SpineLength, 0)
		}
	}

	if err := s.store.SaveProgress(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Debug("reading progress saved", "book_key", bookKey, "percentage", p.Percentage)
	return p, nil
}
