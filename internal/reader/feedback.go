package reader

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alexandriaapp/alexandria-server/internal/logger"
)

// ErrShareCancelled is returned by a Sharer when the user dismisses the share sheet.
var ErrShareCancelled = errors.New("share cancelled")

// Toast is a short notification shown to the reader.
type Toast struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description"`
	Destructive bool   `json:"destructive,omitempty"`
}

// Toaster shows toasts.
type Toaster interface {
	Toast(t Toast)
}

// ShareContent is what gets handed to a share sheet.
type ShareContent struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// Sharer is a native share sheet.
type Sharer interface {
	Share(ctx context.Context, content ShareContent) error
}

// Clipboard writes text to the system clipboard.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// LogToaster writes toasts to a logger. Headless readers use it.
type LogToaster struct {
	Logger *slog.Logger
}

func (t LogToaster) Toast(toast Toast) {
	level := slog.LevelInfo
	if toast.Destructive {
		level = slog.LevelWarn
	}
	logger.OrDiscard(t.Logger).Log(context.Background(), level, toast.Description, "title", toast.Title)
}

func (c *Controller) toast(t Toast) {
	if c.toaster != nil {
		c.toaster.Toast(t)
	}
}

// fail logs err and shows description as a destructive toast.
func (c *Controller) fail(description string, err error) {
	c.logger.Warn(description, "error", err)
	c.toast(Toast{Title: "Error", Description: description, Destructive: true})
}
