package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
)

// ReaderHeader carries the opaque reader identity used for reader-scoped events.
const ReaderHeader = "X-Reader-ID"

// Handler streams one book's events at GET /api/v1/books/{bookKey}/events.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// ServeHTTP streams events until the client goes away or the manager shuts down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Context().Err() != nil {
		return
	}

	bookKey, err := url.PathUnescape(chi.URLParam(r, "bookKey"))
	if err != nil || bookKey == "" {
		http.Error(w, "invalid book key", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush headers", slog.String("error", err.Error()))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client, err := h.manager.Connect(Filter{BookKey: bookKey, ReaderID: r.Header.Get(ReaderHeader)})
	if err != nil {
		h.logger.Error("failed to register event client", slog.String("error", err.Error()))
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}
	defer h.manager.Disconnect(client.ID)

	log := h.logger.With(slog.String("client_id", client.ID), slog.String("book_key", bookKey))

	if err := h.send(w, rc, "connected", map[string]string{"client_id": client.ID, "book_key": bookKey}); err != nil {
		log.Warn("failed to send connection message", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case evt, ok := <-client.EventChan:
			if !ok {
				return
			}
			if err := h.send(w, rc, string(evt.Type), evt); err != nil {
				log.Debug("client went away during send")
				return
			}
		case <-client.Done:
			log.Debug("client closed by manager")
			return
		case <-r.Context().Done():
			return
		}
	}
}

// send writes one "event:"/"data:" frame and flushes it.
func (h *Handler) send(w http.ResponseWriter, rc *http.ResponseController, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return err
	}
	if err := rc.SetWriteDeadline(time.Now().Add(60 * time.Second)); err != nil {
		h.logger.Debug("failed to set write deadline", slog.String("error", err.Error()))
	}
	return nil
}
