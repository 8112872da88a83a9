package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/alexandriaapp/alexandria-server/internal/config"
	"github.com/alexandriaapp/alexandria-server/internal/library"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/media/images"
	"github.com/alexandriaapp/alexandria-server/internal/watcher"
)

// ProvideCoverCache provides the on-disk cover cache.
func ProvideCoverCache(i do.Injector) (*images.Cache, error) {
	cfg := do.MustInvoke[*config.Config](i)

	cache, err := images.NewCache(cfg.Storage.BasePath)
	if err != nil {
		return nil, fmt.Errorf("cover cache: %w", err)
	}
	return cache, nil
}

// ProvideImageProcessor provides the cover processor the library uses while loading books.
func ProvideImageProcessor(i do.Injector) (*images.Processor, error) {
	cache := do.MustInvoke[*images.Cache](i)
	log := do.MustInvoke[*logger.Logger](i)
	return images.NewProcessor(cache, log.Logger), nil
}

// LibraryHandle runs the library in the background. Library is nil when no books path is
// configured.
type LibraryHandle struct {
	*library.Library
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (h *LibraryHandle) Shutdown() error {
	if h.Library == nil {
		return nil
	}
	h.cancel()
	<-h.done
	return h.Stop()
}

// ProvideLibrary provides the library and starts its initial scan, followed by the file watcher
// when watching is enabled.
func ProvideLibrary(i do.Injector) (*LibraryHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	covers := do.MustInvoke[*images.Processor](i)

	if cfg.Library.BooksPath == "" {
		log.Info("No books path configured - library disabled")
		return &LibraryHandle{}, nil
	}

	var w *watcher.Watcher
	if cfg.Library.Watch {
		var err error
		w, err = watcher.New(log.Logger, watcher.Options{
			IgnoreHidden: true,
			SettleDelay:  cfg.Library.SettleDelay,
			Extensions:   []string{library.Extension},
		})
		if err != nil {
			return nil, err
		}
	}
	lib := library.New(cfg.Library.BooksPath, storeHandle.Store, covers, w, log.Logger)

	// Start in background
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := lib.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Library error", "error", err)
		}
	}()

	log.Info("Library started", "books_path", lib.Root(), "watch", cfg.Library.Watch)

	return &LibraryHandle{
		Library: lib,
		cancel:  cancel,
		done:    done,
	}, nil
}
