// Package di provides dependency injection configuration for the Alexandria server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/alexandriaapp/alexandria-server/internal/config"
	"github.com/alexandriaapp/alexandria-server/internal/di/providers"
	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/media/images"
	"github.com/alexandriaapp/alexandria-server/internal/service"
	"github.com/alexandriaapp/alexandria-server/internal/theme"
	"github.com/alexandriaapp/alexandria-server/internal/validation"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideValidator)

	// Database layer
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideStore)

	// Search layer
	do.Provide(injector, providers.ProvideSearchIndex)

	// Storage layer
	do.Provide(injector, providers.ProvideCoverCache)
	do.Provide(injector, providers.ProvideImageProcessor)

	// Reading
	do.Provide(injector, providers.ProvideThemes)
	do.Provide(injector, providers.ProvideDisplayOptions)
	do.Provide(injector, providers.ProvideReconciler)

	// Business services
	do.Provide(injector, providers.ProvideBookService)
	do.Provide(injector, providers.ProvideAnnotationService)
	do.Provide(injector, providers.ProvideProgressService)
	do.Provide(injector, providers.ProvideFavoriteService)
	do.Provide(injector, providers.ProvidePreviewService)

	// Workers
	do.Provide(injector, providers.ProvideLibrary)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	// Invoke core services to trigger initialization
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*validation.Validator](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.SearchIndexHandle](injector)
	_ = do.MustInvoke[*images.Cache](injector)
	_ = do.MustInvoke[*images.Processor](injector)
	_ = do.MustInvoke[*theme.Registry](injector)
	_ = do.MustInvoke[domain.DisplayOptions](injector)
	_ = do.MustInvoke[*providers.ReconcilerHandle](injector)

	// Business services
	_ = do.MustInvoke[*service.BookService](injector)
	_ = do.MustInvoke[*service.AnnotationService](injector)
	_ = do.MustInvoke[*service.ProgressService](injector)
	_ = do.MustInvoke[*service.FavoriteService](injector)
	_ = do.MustInvoke[*providers.PreviewServiceHandle](injector)

	// Workers
	_ = do.MustInvoke[*providers.LibraryHandle](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	// Trigger search reindex if needed
	providers.TriggerSearchReindexIfNeeded(injector)

	return nil
}
