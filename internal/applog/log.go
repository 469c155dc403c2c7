// Package applog builds the process-wide structured logger.
package applog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// gatewayHandler formats records as:
//
//	<timestamp>\t<level>\t<message>\t<key=value ...>
type gatewayHandler struct {
	w     io.Writer
	attrs []slog.Attr
}

func (h *gatewayHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *gatewayHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	if _, err := fmt.Fprintf(h.w, "%s\t%s\t%s", ts, r.Level, r.Message); err != nil {
		return err
	}
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})
	_, err := fmt.Fprintln(h.w)
	return err
}

func (h *gatewayHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &gatewayHandler{w: h.w, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *gatewayHandler) WithGroup(string) slog.Handler { return h }

// New creates a structured logger writing to w (stderr in production).
func New(w io.Writer) *slog.Logger {
	return slog.New(&gatewayHandler{w: w})
}

// NewStderr creates the default process logger.
func NewStderr() *slog.Logger { return New(os.Stderr) }
