package api

import (
	"cmp"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/service"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "createSession",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Open preview session",
		Description:   "Opens a book in a headless reading session, at the saved progress unless a location is given",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get preview session",
		Description: "Returns the visible page with highlight marks",
		Tags:        []string{"Sessions"},
	}, s.handleGetSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "navigateSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/navigate",
		Summary:     "Navigate",
		Description: "Turns the page or jumps to a location",
		Tags:        []string{"Sessions"},
	}, s.handleNavigateSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "selectInSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/select",
		Summary:     "Select text",
		Description: "Selects a range and optionally highlights, annotates or shares it",
		Tags:        []string{"Sessions"},
	}, s.handleSelectInSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "toggleSessionBookmark",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/bookmark",
		Summary:     "Toggle bookmark",
		Description: "Bookmarks the visible page, or removes the bookmark already on it",
		Tags:        []string{"Sessions"},
	}, s.handleToggleSessionBookmark)

	huma.Register(s.api, huma.Operation{
		OperationID: "applySessionDisplayOptions",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/display-options",
		Summary:     "Apply display options",
		Description: "Re-renders the session with new typography or theme, keeping its place",
		Tags:        []string{"Sessions"},
	}, s.handleApplySessionDisplayOptions)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteSession",
		Method:        http.MethodDelete,
		Path:          "/api/v1/sessions/{id}",
		Summary:       "Close preview session",
		Description:   "Closes the session and saves its reading progress",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteSession)
}

// === DTOs ===

// DisplayOptionsRequest changes typography. Omitted fields keep their current value.
type DisplayOptionsRequest struct {
	FontSize   int    `json:"font_size,omitempty" minimum:"50" maximum:"200" doc:"Font size in percent"`
	FontFamily string `json:"font_family,omitempty" enum:"lexend,georgia,helvetica,times" doc:"Font family"`
	TextAlign  string `json:"text_align,omitempty" enum:"left,justify,center" doc:"Text alignment"`
	Theme      string `json:"theme,omitempty" doc:"Theme preset name"`
}

// CreateSessionRequest is the request body for opening a session.
type CreateSessionRequest struct {
	BookKey  string                 `json:"book_key" minLength:"1" doc:"Book key"`
	Location string                 `json:"location,omitempty" doc:"Start here instead of the saved progress"`
	Display  *DisplayOptionsRequest `json:"display,omitempty" doc:"Display options (server defaults when omitted)"`
}

// CreateSessionInput wraps the create session request for Huma.
type CreateSessionInput struct {
	Body CreateSessionRequest
}

// SessionPathInput identifies a session.
type SessionPathInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// SessionOutput wraps a session view for Huma.
type SessionOutput struct {
	Body *service.PreviewView
}

// NavigateSessionInput wraps the navigate request for Huma.
type NavigateSessionInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body service.NavigateRequest
}

// SelectSessionInput wraps the select request for Huma.
type SelectSessionInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body service.SelectRequest
}

// SelectResponse is the session after a selection, with the annotation it created if any.
type SelectResponse struct {
	Session    *service.PreviewView `json:"session" doc:"Session view"`
	Annotation *domain.Annotation   `json:"annotation,omitempty" doc:"Created highlight or note"`
}

// SelectOutput wraps the select response for Huma.
type SelectOutput struct {
	Body SelectResponse
}

// BookmarkResponse is the session after toggling a bookmark.
type BookmarkResponse struct {
	Session *service.PreviewView `json:"session" doc:"Session view"`
	Added   bool                 `json:"added" doc:"True when a bookmark was added, false when removed"`
}

// BookmarkOutput wraps the bookmark response for Huma.
type BookmarkOutput struct {
	Body BookmarkResponse
}

// DisplayOptionsInput wraps the display options request for Huma.
type DisplayOptionsInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body DisplayOptionsRequest
}

// === Handlers ===

func (s *Server) preview() (*service.PreviewService, error) {
	if s.services.Preview == nil {
		return nil, domainerrors.Unavailable("preview sessions are disabled")
	}
	return s.services.Preview, nil
}

// resolveDisplay overlays req on base and resolves the theme name against the presets.
func (s *Server) resolveDisplay(base domain.DisplayOptions, req *DisplayOptionsRequest) (domain.DisplayOptions, error) {
	if req == nil {
		return base, nil
	}
	size := cmp.Or(req.FontSize, base.FontSize)
	family := cmp.Or(req.FontFamily, string(base.FontFamily))
	align := cmp.Or(req.TextAlign, string(base.TextAlign))
	if req.Theme == "" || s.services.Themes == nil {
		opts := base
		opts.FontSize, opts.FontFamily, opts.TextAlign = size, domain.FontFamily(family), domain.TextAlign(align)
		return opts, nil
	}
	return s.services.Themes.DisplayOptions(size, family, align, req.Theme)
}

func (s *Server) handleCreateSession(ctx context.Context, input *CreateSessionInput) (*SessionOutput, error) {
	preview, err := s.preview()
	if err != nil {
		return nil, err
	}
	display, err := s.resolveDisplay(s.services.Display, input.Body.Display)
	if err != nil {
		return nil, err
	}

	v, err := preview.Create(ctx, input.Body.BookKey, display, location.Location(input.Body.Location))
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Body: v}, nil
}

func (s *Server) handleGetSession(ctx context.Context, input *SessionPathInput) (*SessionOutput, error) {
	preview, err := s.preview()
	if err != nil {
		return nil, err
	}
	v, err := preview.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Body: v}, nil
}

func (s *Server) handleNavigateSession(ctx context.Context, input *NavigateSessionInput) (*SessionOutput, error) {
	preview, err := s.preview()
	if err != nil {
		return nil, err
	}
	v, err := preview.Navigate(ctx, input.ID, input.Body)
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Body: v}, nil
}

func (s *Server) handleSelectInSession(ctx context.Context, input *SelectSessionInput) (*SelectOutput, error) {
	preview, err := s.preview()
	if err != nil {
		return nil, err
	}
	v, ann, err := preview.Select(ctx, input.ID, input.Body)
	if err != nil {
		return nil, err
	}
	return &SelectOutput{Body: SelectResponse{Session: v, Annotation: ann}}, nil
}

func (s *Server) handleToggleSessionBookmark(ctx context.Context, input *SessionPathInput) (*BookmarkOutput, error) {
	preview, err := s.preview()
	if err != nil {
		return nil, err
	}
	v, added, err := preview.ToggleBookmark(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &BookmarkOutput{Body: BookmarkResponse{Session: v, Added: added}}, nil
}

func (s *Server) handleApplySessionDisplayOptions(ctx context.Context, input *DisplayOptionsInput) (*SessionOutput, error) {
	preview, err := s.preview()
	if err != nil {
		return nil, err
	}
	current, err := preview.Display(input.ID)
	if err != nil {
		return nil, err
	}
	display, err := s.resolveDisplay(current, &input.Body)
	if err != nil {
		return nil, err
	}

	v, err := preview.ApplyDisplayOptions(ctx, input.ID, display)
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Body: v}, nil
}

func (s *Server) handleDeleteSession(ctx context.Context, input *SessionPathInput) (*struct{}, error) {
	preview, err := s.preview()
	if err != nil {
		return nil, err
	}
	if err := preview.Delete(ctx, input.ID); err != nil {
		return nil, err
	}
	return nil, nil
}
