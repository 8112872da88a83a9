package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/alexandriaapp/alexandria-server/internal/search"
)

func (s *Server) registerSearchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "searchAnnotations",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{bookKey}/annotations/search",
		Summary:     "Search annotations",
		Description: "Full-text search over a book's highlighted text and note bodies",
		Tags:        []string{"Search"},
	}, s.handleSearchAnnotations)

	huma.Register(s.api, huma.Operation{
		OperationID: "rebuildSearchIndex",
		Method:      http.MethodPost,
		Path:        "/api/v1/search/rebuild",
		Summary:     "Rebuild search index",
		Description: "Re-indexes every annotation from the store",
		Tags:        []string{"Search"},
	}, s.handleRebuildSearchIndex)
}

// === DTOs ===

// SearchAnnotationsInput contains parameters for annotation search.
type SearchAnnotationsInput struct {
	BookKey string   `path:"bookKey" doc:"Book key"`
	Query   string   `query:"q" required:"true" minLength:"1" doc:"Search query"`
	Kind    []string `query:"kind" doc:"Only these kinds (highlight, note)"`
	Limit   int      `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Maximum hits"`
}

// SearchOutput wraps search results for Huma.
type SearchOutput struct {
	Body *search.SearchResult
}

// RebuildResponse reports how many annotations were indexed.
type RebuildResponse struct {
	Indexed int `json:"indexed" doc:"Annotations indexed"`
}

// RebuildOutput wraps the rebuild response for Huma.
type RebuildOutput struct {
	Body RebuildResponse
}

// === Handlers ===

func (s *Server) handleSearchAnnotations(ctx context.Context, input *SearchAnnotationsInput) (*SearchOutput, error) {
	key, err := bookKeyParam(input.BookKey)
	if err != nil {
		return nil, err
	}
	kinds, err := parseKinds(input.Kind)
	if err != nil {
		return nil, err
	}

	res, err := s.services.Annotations.Search(ctx, key, input.Query, input.Limit, kinds...)
	if err != nil {
		return nil, err
	}
	return &SearchOutput{Body: res}, nil
}

func (s *Server) handleRebuildSearchIndex(ctx context.Context, _ *struct{}) (*RebuildOutput, error) {
	n, err := s.services.Annotations.RebuildIndex(ctx)
	if err != nil {
		return nil, err
	}
	return &RebuildOutput{Body: RebuildResponse{Indexed: n}}, nil
}
