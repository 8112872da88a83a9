package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerCoverRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getBookCover",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{bookKey}/cover",
		Summary:     "Get book cover",
		Description: "Returns the cover image for a book. Supports conditional requests via ETag.",
		Tags:        []string{"Covers"},
	}, s.handleGetBookCover)
}

// === DTOs ===

// GetBookCoverInput contains parameters for fetching a cover.
type GetBookCoverInput struct {
	BookKey     string `path:"bookKey" doc:"Book key"`
	IfNoneMatch string `header:"If-None-Match"`
}

// CoverImageOutput streams the cover bytes.
type CoverImageOutput struct {
	Status        int
	ContentType   string `header:"Content-Type"`
	ContentLength string `header:"Content-Length"`
	ETag          string `header:"ETag"`
	CacheControl  string `header:"Cache-Control"`
	Body          []byte
}

// === Handlers ===

func (s *Server) handleGetBookCover(ctx context.Context, input *GetBookCoverInput) (*CoverImageOutput, error) {
	key, err := bookKeyParam(input.BookKey)
	if err != nil {
		return nil, err
	}

	cover, err := s.services.Books.Cover(ctx, key)
	if err != nil {
		return nil, err
	}

	out := &CoverImageOutput{
		Status:       http.StatusOK,
		CacheControl: CacheOneDayPrivate,
	}
	if cover.Hash != "" {
		out.ETag = `"` + cover.Hash + `"`
		if etagMatches(input.IfNoneMatch, out.ETag) {
			out.Status = http.StatusNotModified
			return out, nil
		}
	}
	out.ContentType = cover.MediaType
	out.ContentLength = strconv.Itoa(len(cover.Data))
	out.Body = cover.Data
	return out, nil
}

// etagMatches evaluates an If-None-Match header against etag.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for candidate := range strings.SplitSeq(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
