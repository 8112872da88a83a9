package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/location"
)

func (s *Server) registerBookRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listBooks",
		Method:      http.MethodGet,
		Path:        "/api/v1/books",
		Summary:     "List books",
		Description: "Returns the catalog sorted by title",
		Tags:        []string{"Books"},
	}, s.handleListBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBook",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{bookKey}",
		Summary:     "Get book",
		Description: "Returns a catalog entry with its table of contents",
		Tags:        []string{"Books"},
	}, s.handleGetBook)

	huma.Register(s.api, huma.Operation{
		OperationID: "describeLocation",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{bookKey}/locations",
		Summary:     "Describe location",
		Description: "Returns the chapter a location falls in, from the catalog alone",
		Tags:        []string{"Books"},
	}, s.handleDescribeLocation)
}

// === DTOs ===

// CoverInfo describes a book's cover without its bytes.
type CoverInfo struct {
	URL       string `json:"url" doc:"Cover image URL"`
	MediaType string `json:"media_type" doc:"Image media type"`
	BlurHash  string `json:"blur_hash,omitempty" doc:"BlurHash placeholder"`
}

// BookResponse contains book data in API responses.
type BookResponse struct {
	Key         string            `json:"key" doc:"Book key (epubjs:<identifier>)"`
	Title       string            `json:"title" doc:"Title"`
	Authors     []string          `json:"authors,omitempty" doc:"Creators"`
	Language    string            `json:"language,omitempty" doc:"Language tag"`
	Publisher   string            `json:"publisher,omitempty" doc:"Publisher"`
	Description string            `json:"description,omitempty" doc:"Description as Markdown"`
	SpineLength int               `json:"spine_length" doc:"Number of spine sections"`
	Contents    []domain.TOCEntry `json:"contents,omitempty" doc:"Table of contents"`
	Cover       *CoverInfo        `json:"cover,omitempty" doc:"Cover image"`
	UpdatedAt   time.Time         `json:"updated_at" doc:"Last catalog update"`
}

func toBookResponse(b *domain.Book, withContents bool) BookResponse {
	resp := BookResponse{
		Key:         b.Key,
		Title:       b.Title,
		Authors:     b.Authors,
		Language:    b.Language,
		Publisher:   b.Publisher,
		Description: b.Description,
		SpineLength: b.SpineLength,
		UpdatedAt:   b.UpdatedAt,
	}
	if withContents {
		resp.Contents = b.Contents
	}
	if b.Cover != nil {
		resp.Cover = &CoverInfo{
			URL:       "/api/v1/books/" + url.PathEscape(b.Key) + "/cover",
			MediaType: b.Cover.MediaType,
			BlurHash:  b.Cover.BlurHash,
		}
	}
	return resp
}

// ListBooksResponse contains the catalog.
type ListBooksResponse struct {
	Books []BookResponse `json:"books" doc:"Books sorted by title"`
}

// ListBooksOutput wraps the list books response for Huma.
type ListBooksOutput struct {
	Body ListBooksResponse
}

// BookPathInput identifies a book.
type BookPathInput struct {
	BookKey string `path:"bookKey" doc:"Book key"`
}

// BookOutput wraps the book response for Huma.
type BookOutput struct {
	Body BookResponse
}

// DescribeLocationInput contains parameters for describing a location.
type DescribeLocationInput struct {
	BookKey  string `path:"bookKey" doc:"Book key"`
	Location string `query:"location" required:"true" doc:"EPUB CFI"`
}

// LocationResponse describes a location.
type LocationResponse struct {
	location.DisplayMetadata
	Label string `json:"label" doc:"Human readable position"`
}

// LocationOutput wraps the location response for Huma.
type LocationOutput struct {
	Body LocationResponse
}

// === Handlers ===

func (s *Server) handleListBooks(ctx context.Context, _ *struct{}) (*ListBooksOutput, error) {
	books, err := s.services.Books.ListBooks(ctx)
	if err != nil {
		return nil, err
	}

	resp := make([]BookResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, toBookResponse(b, false))
	}
	return &ListBooksOutput{Body: ListBooksResponse{Books: resp}}, nil
}

func (s *Server) handleGetBook(ctx context.Context, input *BookPathInput) (*BookOutput, error) {
	key, err := bookKeyParam(input.BookKey)
	if err != nil {
		return nil, err
	}

	b, err := s.services.Books.GetBook(ctx, key)
	if err != nil {
		return nil, err
	}
	return &BookOutput{Body: toBookResponse(b, true)}, nil
}

func (s *Server) handleDescribeLocation(ctx context.Context, input *DescribeLocationInput) (*LocationOutput, error) {
	key, err := bookKeyParam(input.BookKey)
	if err != nil {
		return nil, err
	}
	if _, err := s.services.Books.GetBook(ctx, key); err != nil {
		return nil, err
	}

	md := s.services.Books.Describe(ctx, key, location.Location(input.Location))
	return &LocationOutput{Body: LocationResponse{DisplayMetadata: md, Label: md.Label()}}, nil
}
