package providers

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/alexandriaapp/alexandria-server/internal/config"
	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/media/images"
	"github.com/alexandriaapp/alexandria-server/internal/reconcile"
	"github.com/alexandriaapp/alexandria-server/internal/service"
	"github.com/alexandriaapp/alexandria-server/internal/theme"
	"github.com/alexandriaapp/alexandria-server/internal/validation"
)

// ProvideValidator provides the shared request validator.
func ProvideValidator(i do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// ProvideThemes provides the theme presets, with the configured override file merged in.
func ProvideThemes(i do.Injector) (*theme.Registry, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	themes, err := theme.Load(cfg.Reader.ThemesFile)
	if err != nil {
		return nil, err
	}
	log.Info("Themes loaded", "themes", themes.Names())
	return themes, nil
}

// ProvideDisplayOptions provides the display options sessions start with.
func ProvideDisplayOptions(i do.Injector) (domain.DisplayOptions, error) {
	cfg := do.MustInvoke[*config.Config](i)
	themes := do.MustInvoke[*theme.Registry](i)

	opts, err := themes.DisplayOptions(cfg.Reader.FontSize, cfg.Reader.FontFamily, cfg.Reader.TextAlign, cfg.Reader.Theme)
	if err != nil {
		return domain.DisplayOptions{}, fmt.Errorf("default display options: %w", err)
	}
	return opts, nil
}

// ReconcilerHandle wraps the highlight reconciler with shutdown capability.
type ReconcilerHandle struct {
	*reconcile.Reconciler
}

// Shutdown implements do.Shutdownable.
func (h *ReconcilerHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideReconciler provides the highlight reconciler shared by every rendering session.
func ProvideReconciler(i do.Injector) (*ReconcilerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	return &ReconcilerHandle{
		Reconciler: reconcile.New(storeHandle.Store, log.Logger, cfg.Reader.SettleDelay),
	}, nil
}

// ProvideBookService provides the book service.
func ProvideBookService(i do.Injector) (*service.BookService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	covers := do.MustInvoke[*images.Cache](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewBookService(storeHandle.Store, covers, log.Logger), nil
}

// ProvideAnnotationService provides the annotation service.
func ProvideAnnotationService(i do.Injector) (*service.AnnotationService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	validator := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewAnnotationService(storeHandle.Store, indexHandle.SearchIndex, validator, log.Logger), nil
}

// ProvideProgressService provides the reading progress service.
func ProvideProgressService(i do.Injector) (*service.ProgressService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewProgressService(storeHandle.Store, log.Logger), nil
}

// ProvideFavoriteService provides the favourites service.
func ProvideFavoriteService(i do.Injector) (*service.FavoriteService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	validator := do.MustInvoke[*validation.Validator](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewFavoriteService(storeHandle.Store, validator, log.Logger), nil
}

// PreviewServiceHandle wraps the preview service with shutdown capability.
type PreviewServiceHandle struct {
	*service.PreviewService
}

// Shutdown implements do.Shutdownable. Open sessions save their progress.
func (h *PreviewServiceHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvidePreviewService provides headless reading sessions and starts the idle reaper.
func ProvidePreviewService(i do.Injector) (*PreviewServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	reconciler := do.MustInvoke[*ReconcilerHandle](i)
	books := do.MustInvoke[*service.BookService](i)
	validator := do.MustInvoke[*validation.Validator](i)

	svc := service.NewPreviewService(
		books,
		storeHandle.Store,
		reconciler.Reconciler,
		sseHandle.Manager,
		validator,
		service.PreviewConfig{
			Width:          cfg.Reader.ViewportWidth,
			Height:         cfg.Reader.ViewportHeight,
			ResizeDebounce: cfg.Reader.ResizeDebounce,
			IdleTimeout:    cfg.Reader.SessionIdleTimeout,
		},
		log.Logger,
	)
	svc.Start()

	log.Info("Preview service started", "idle_timeout", cfg.Reader.SessionIdleTimeout)

	return &PreviewServiceHandle{PreviewService: svc}, nil
}
