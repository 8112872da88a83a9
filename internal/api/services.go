package api

import (
	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/library"
	"github.com/alexandriaapp/alexandria-server/internal/service"
	"github.com/alexandriaapp/alexandria-server/internal/theme"
)

// Services groups the business services used by the API server.
// This reduces the parameter count for NewServer and improves testability.
type Services struct {
	Books       *service.BookService
	Annotations *service.AnnotationService
	Progress    *service.ProgressService
	Favorites   *service.FavoriteService
	Preview     *service.PreviewService
	Library     *library.Library // nil when no books directory is configured
	Themes      *theme.Registry

	// Display is used for preview sessions created without display options.
	Display domain.DisplayOptions
}
