package providers

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/alexandriaapp/alexandria-server/internal/config"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/sse"
	"github.com/alexandriaapp/alexandria-server/internal/store"
	"github.com/alexandriaapp/alexandria-server/internal/store/sqlite"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.Logger)

	// Start in background
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the annotation store on the configured backend. Every change it makes
// is announced through the SSE manager.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	dbPath := cfg.Storage.DatabasePath()

	var (
		db  *store.Store
		err error
	)
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		var kv *sqlite.KV
		kv, err = sqlite.Open(dbPath, log.Logger)
		if err == nil {
			db = store.NewWithBackend(kv, log.Logger, sseHandle.Manager)
		}
	default:
		db, err = store.New(dbPath, log.Logger, sseHandle.Manager)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}

	log.Info("Database initialized", "path", dbPath, "backend", cfg.Storage.Backend)

	return &StoreHandle{Store: db}, nil
}
