package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
)

func (s *Server) registerThemeRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listThemes",
		Method:      http.MethodGet,
		Path:        "/api/v1/themes",
		Summary:     "List themes",
		Description: "Returns the theme presets and the default display options",
		Tags:        []string{"Display"},
	}, s.handleListThemes)
}

// ThemesResponse contains the theme presets.
type ThemesResponse struct {
	Themes   []domain.Theme        `json:"themes" doc:"Theme presets in definition order"`
	Defaults domain.DisplayOptions `json:"defaults" doc:"Display options used when a session sends none"`
}

// ThemesOutput wraps the themes response for Huma.
type ThemesOutput struct {
	Body ThemesResponse
}

func (s *Server) handleListThemes(_ context.Context, _ *struct{}) (*ThemesOutput, error) {
	themes := []domain.Theme{}
	if s.services.Themes != nil {
		themes = s.services.Themes.All()
	}
	return &ThemesOutput{Body: ThemesResponse{Themes: themes, Defaults: s.services.Display}}, nil
}
