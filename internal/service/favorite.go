package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/validation"
)

// FavoriteMaxAttempts caps favourite lookups, the first one included.
const FavoriteMaxAttempts = 3

// FavoriteRetryDelays is the backoff schedule between favourite lookups that fail for a transient
// reason. The wait after attempt n is the n-th entry, the last entry repeating.
var FavoriteRetryDelays = []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond, 2000 * time.Millisecond}

// FavoriteStore is the persistence FavoriteService needs.
type FavoriteStore interface {
	SetFavorite(ctx context.Context, f *domain.Favorite, favorite bool) error
	GetFavorite(ctx context.Context, readerID, itemType, itemID string) (*domain.Favorite, error)
	ListFavorites(ctx context.Context, readerID, itemType string) ([]*domain.Favorite, error)
}

// FavoriteService manages per-reader favourites of books, icons and concepts.
type FavoriteService struct {
	store     FavoriteStore
	validator *validation.Validator
	logger    *slog.Logger
	attempts  int
	delays    []time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewFavoriteService creates a new favorite service.
func NewFavoriteService(store FavoriteStore, validator *validation.Validator, logger *slog.Logger) *FavoriteService {
	return &FavoriteService{
		store:     store,
		validator: validator,
		logger:    logger,
		attempts:  FavoriteMaxAttempts,
		delays:    FavoriteRetryDelays,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *FavoriteService) key(readerID, itemType, itemID string) (*domain.Favorite, error) {
	if readerID == "" {
		return nil, domainerrors.Validation("reader id is required")
	}
	f := &domain.Favorite{ReaderID: readerID, ItemType: itemType, ItemID: itemID}
	if err := s.validator.Validate(f); err != nil {
		return nil, err
	}
	return f, nil
}

// IsFavorite reports whether the reader marked the item. Lookups that fail for a transient reason
// are retried with backoff up to the attempt cap; when every attempt fails the last known state,
// false, is returned without an error.
func (s *FavoriteService) IsFavorite(ctx context.Context, readerID, itemType, itemID string) (bool, error) {
	if _, err := s.key(readerID, itemType, itemID); err != nil {
		return false, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		_, err := s.store.GetFavorite(ctx, readerID, itemType, itemID)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, domainerrors.ErrNotFound):
			return false, nil
		case ctx.Err() != nil:
			return false, ctx.Err()
		}
		lastErr = err
		if attempt == s.attempts {
			break
		}
		delay := s.delays[min(attempt, len(s.delays))-1]
		s.logger.Debug("favorite lookup failed, retrying",
			"reader_id", readerID,
			"item", itemType+":"+itemID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return false, err
		}
	}

	s.logger.Warn("favorite lookup gave up",
		"reader_id", readerID,
		"item", itemType+":"+itemID,
		"attempts", s.attempts,
		"error", lastErr,
	)
	return false, nil
}

// Set marks or unmarks an item and returns the new state.
func (s *FavoriteService) Set(ctx context.Context, readerID, itemType, itemID string, favorite bool) (bool, error) {
	f, err := s.key(readerID, itemType, itemID)
	if err != nil {
		return false, err
	}
	if err := s.store.SetFavorite(ctx, f, favorite); err != nil {
		return false, err
	}
	return favorite, nil
}

// List returns a reader's favourites of itemType, most recent first.
func (s *FavoriteService) List(ctx context.Context, readerID, itemType string) ([]*domain.Favorite, error) {
	if readerID == "" {
		return nil, domainerrors.Validation("reader id is required")
	}
	switch itemType {
	case "book", "icon", "concept":
	default:
		return nil, domainerrors.Validationf("unknown favorite type %q", itemType)
	}
	return s.store.ListFavorites(ctx, readerID, itemType)
}
