package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/alexandriaapp/alexandria-server/internal/api"
	"github.com/alexandriaapp/alexandria-server/internal/config"
	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/service"
	"github.com/alexandriaapp/alexandria-server/internal/theme"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	api *api.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Server.Shutdown(ctx)
	h.api.Close()
	return err
}

// ProvideHTTPServer provides the HTTP server and starts listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	// Get all services
	bookService := do.MustInvoke[*service.BookService](i)
	annotationService := do.MustInvoke[*service.AnnotationService](i)
	progressService := do.MustInvoke[*service.ProgressService](i)
	favoriteService := do.MustInvoke[*service.FavoriteService](i)
	previewHandle := do.MustInvoke[*PreviewServiceHandle](i)
	libraryHandle := do.MustInvoke[*LibraryHandle](i)
	themes := do.MustInvoke[*theme.Registry](i)
	display := do.MustInvoke[domain.DisplayOptions](i)

	services := &api.Services{
		Books:       bookService,
		Annotations: annotationService,
		Progress:    progressService,
		Favorites:   favoriteService,
		Preview:     previewHandle.PreviewService,
		Library:     libraryHandle.Library,
		Themes:      themes,
		Display:     display,
	}

	handler := api.NewServer(storeHandle.Store, services, indexHandle.SearchIndex, sseHandle.Manager, cfg.Server, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv, api: handler}, nil
}
