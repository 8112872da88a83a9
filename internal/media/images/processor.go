package images

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/epub"
)

// Processor extracts cover images from EPUBs into the cache.
type Processor struct {
	cache  *Cache
	logger *slog.Logger
}

// NewProcessor creates a new Processor instance.
func NewProcessor(cache *Cache, logger *slog.Logger) *Processor {
	return &Processor{
		cache:  cache,
		logger: logger,
	}
}

// Process caches the book's cover and describes it. It returns nil, without an error, when the
// package declares no cover. A cover that cannot be decoded is still cached; it just gets no
// BlurHash.
func (p *Processor) Process(book *epub.Book) (*domain.CoverImage, error) {
	if book.Cover == nil {
		_ = p.cache.Delete(book.Key())
		return nil, nil
	}
	data, mediaType, err := book.CoverImage()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.logger.Debug("declared cover is missing from the package", "book_key", book.Key(), "href", book.Cover.Href)
			return nil, nil
		}
		return nil, fmt.Errorf("read cover: %w", err)
	}

	hash, err := p.cache.Save(book.Key(), mediaType, data)
	if err != nil {
		return nil, err
	}
	cover := &domain.CoverImage{Href: book.Cover.Href, MediaType: mediaType, Hash: hash}

	cover.BlurHash, err = ComputeBlurHash(data)
	if err != nil {
		p.logger.Warn("failed to compute cover blurhash", "book_key", book.Key(), "error", err)
	}

	p.logger.Debug("cached cover",
		"book_key", book.Key(),
		"size", len(data),
		"hash", hash[:8]+"...",
	)
	return cover, nil
}

// Forget drops the cached cover of bookKey.
func (p *Processor) Forget(bookKey string) error {
	return p.cache.Delete(bookKey)
}
