package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/service"
)

func (s *Server) registerProgressRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getProgress",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{bookKey}/progress",
		Summary:     "Get reading progress",
		Description: "Returns the last saved position in a book",
		Tags:        []string{"Progress"},
	}, s.handleGetProgress)

	huma.Register(s.api, huma.Operation{
		OperationID: "saveProgress",
		Method:      http.MethodPut,
		Path:        "/api/v1/books/{bookKey}/progress",
		Summary:     "Save reading progress",
		Description: "Records the reader's position. The percentage is estimated when omitted.",
		Tags:        []string{"Progress"},
	}, s.handleSaveProgress)
}

// === DTOs ===

// SaveProgressRequest is the request body for saving progress.
type SaveProgressRequest struct {
	Location   string   `json:"location" minLength:"1" doc:"EPUB CFI of the first visible position"`
	Percentage *float64 `json:"percentage,omitempty" minimum:"0" maximum:"100" doc:"Progress through the book"`
}

// SaveProgressInput wraps the save progress request for Huma.
type SaveProgressInput struct {
	BookKey string `path:"bookKey" doc:"Book key"`
	Body    SaveProgressRequest
}

// ProgressOutput wraps reading progress for Huma.
type ProgressOutput struct {
	Body *domain.ReadingProgress
}

// === Handlers ===

func (s *Server) handleGetProgress(ctx context.Context, input *BookPathInput) (*ProgressOutput, error) {
	key, err := bookKeyParam(input.BookKey)
	if err != nil {
		return nil, err
	}

	p, err := s.services.Progress.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ProgressOutput{Body: p}, nil
}

func (s *Server) handleSaveProgress(ctx context.Context, input *SaveProgressInput) (*ProgressOutput, error) {
	key, err := bookKeyParam(input.BookKey)
	if err != nil {
		return nil, err
	}

	p, err := s.services.Progress.Save(ctx, key, service.SaveProgressRequest{
		Location:   location.Location(input.Body.Location),
		Percentage: input.Body.Percentage,
	})
	if err != nil {
		return nil, err
	}
	return &ProgressOutput{Body: p}, nil
}
