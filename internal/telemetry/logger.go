package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// InitLogger configures the default logger. Human-readable records go to w
// (stderr in the CLI, since stdout carries the report); when logFile is set
// the same records are also appended to it as JSON. The returned closer
// releases the log file.
func InitLogger(w io.Writer, debug bool, logFile string) (io.Closer, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{slog.NewTextHandler(w, opts)}
	var closer io.Closer = nopCloser{}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
		closer = f
	}

	var handler slog.Handler
	if len(handlers) > 1 {
		handler = &multiHandler{handlers: handlers}
	} else {
		handler = handlers[0]
	}

	slog.SetDefault(slog.New(handler))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: newHandlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: newHandlers}
}
