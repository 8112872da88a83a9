package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/service"
)

func (s *Server) registerAnnotationRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listAnnotations",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{bookKey}/annotations",
		Summary:     "List annotations",
		Description: "Returns a book's highlights, notes and bookmarks, newest first",
		Tags:        []string{"Annotations"},
	}, s.handleListAnnotations)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createAnnotation",
		Method:        http.MethodPost,
		Path:          "/api/v1/books/{bookKey}/annotations",
		Summary:       "Create annotation",
		Description:   "Adds a highlight, note or bookmark at a location",
		Tags:          []string{"Annotations"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateAnnotation)

	huma.Register(s.api, huma.Operation{
		OperationID: "clearAnnotations",
		Method:      http.MethodDelete,
		Path:        "/api/v1/books/{bookKey}/annotations",
		Summary:     "Clear annotations",
		Description: "Removes all of a book's annotations, or only the given kinds",
		Tags:        []string{"Annotations"},
	}, s.handleClearAnnotations)

	huma.Register(s.api, huma.Operation{
		OperationID: "getAnnotation",
		Method:      http.MethodGet,
		Path:        "/api/v1/annotations/{id}",
		Summary:     "Get annotation",
		Tags:        []string{"Annotations"},
	}, s.handleGetAnnotation)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteAnnotation",
		Method:        http.MethodDelete,
		Path:          "/api/v1/annotations/{id}",
		Summary:       "Delete annotation",
		Description:   "Removes one annotation. Unknown ids are ignored.",
		Tags:          []string{"Annotations"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteAnnotation)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateNote",
		Method:      http.MethodPatch,
		Path:        "/api/v1/annotations/{id}",
		Summary:     "Update note",
		Description: "Replaces a note's body. Highlights and bookmarks cannot be edited.",
		Tags:        []string{"Annotations"},
	}, s.handleUpdateNote)
}

// === DTOs ===

// ListAnnotationsInput contains parameters for listing annotations.
type ListAnnotationsInput struct {
	BookKey string   `path:"bookKey" doc:"Book key"`
	Kind    []string `query:"kind" doc:"Only these kinds (highlight, note, bookmark)"`
}

// AnnotationsResponse contains a list of annotations.
type AnnotationsResponse struct {
	Annotations []*domain.Annotation `json:"annotations" doc:"Annotations, newest first"`
}

// AnnotationsOutput wraps the annotations response for Huma.
type AnnotationsOutput struct {
	Body AnnotationsResponse
}

// CreateAnnotationInput wraps the create annotation request for Huma.
type CreateAnnotationInput struct {
	BookKey string `path:"bookKey" doc:"Book key"`
	Body    service.CreateAnnotationRequest
}

// AnnotationOutput wraps one annotation for Huma.
type AnnotationOutput struct {
	Body *domain.Annotation
}

// ClearAnnotationsInput contains parameters for clearing annotations.
type ClearAnnotationsInput struct {
	BookKey string   `path:"bookKey" doc:"Book key"`
	Kind    []string `query:"kind" doc:"Only these kinds (default: all)"`
}

// ClearAnnotationsResponse reports how many annotations were removed.
type ClearAnnotationsResponse struct {
	Removed int `json:"removed" doc:"Number of annotations removed"`
}

// ClearAnnotationsOutput wraps the clear response for Huma.
type ClearAnnotationsOutput struct {
	Body ClearAnnotationsResponse
}

// AnnotationPathInput identifies an annotation.
type AnnotationPathInput struct {
	ID string `path:"id" doc:"Annotation ID"`
}

// UpdateNoteRequest is the request body for editing a note.
type UpdateNoteRequest struct {
	Body string `json:"body" maxLength:"20000" doc:"New note body"`
}

// UpdateNoteInput wraps the update note request for Huma.
type UpdateNoteInput struct {
	ID   string `path:"id" doc:"Annotation ID"`
	Body UpdateNoteRequest
}

// === Handlers ===

func (s *Server) handleListAnnotations(ctx context.Context, input *ListAnnotationsInput) (*AnnotationsOutput, error) {
	key, err := bookKeyParam(input.BookKey)
	if err != nil {
		return nil, err
	}
	kinds, err := parseKinds(input.Kind)
	if err != nil {
		return nil, err
	}

	anns, err := s.services.Annotations.List(ctx, key, kinds...)
	if err != nil {
		return nil, err
	}
	return &AnnotationsOutput{Body: AnnotationsResponse{Annotations: anns}}, nil
}

func (s *Server) handleCreateAnnotation(ctx context.Context, input *CreateAnnotationInput) (*AnnotationOutput, error) {
	key, err := bookKeyParam(input.BookKey)
	if err != nil {
		return nil, err
	}

	ann, err := s.services.Annotations.Create(ctx, key, input.Body)
	if err != nil {
		return nil, err
	}
	return &AnnotationOutput{Body: ann}, nil
}

func (s *Server) handleClearAnnotations(ctx context.Context, input *ClearAnnotationsInput) (*ClearAnnotationsOutput, error) {
	key, err := bookKeyParam(input.BookKey)
	if err != nil {
		return nil, err
	}
	kinds, err := parseKinds(input.Kind)
	if err != nil {
		return nil, err
	}

	n, err := s.services.Annotations.Clear(ctx, key, kinds...)
	if err != nil {
		return nil, err
	}
	return &ClearAnnotationsOutput{Body: ClearAnnotationsResponse{Removed: n}}, nil
}

func (s *Server) handleGetAnnotation(ctx context.Context, input *AnnotationPathInput) (*AnnotationOutput, error) {
	ann, err := s.services.Annotations.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &AnnotationOutput{Body: ann}, nil
}

func (s *Server) handleDeleteAnnotation(ctx context.Context, input *AnnotationPathInput) (*struct{}, error) {
	if err := s.services.Annotations.Remove(ctx, input.ID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handleUpdateNote(ctx context.Context, input *UpdateNoteInput) (*AnnotationOutput, error) {
	ann, err := s.services.Annotations.UpdateNote(ctx, input.ID, input.Body.Body)
	if err != nil {
		return nil, err
	}
	return &AnnotationOutput{Body: ann}, nil
}
