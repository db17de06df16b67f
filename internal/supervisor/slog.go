// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package supervisor

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/relaymesh/eventd/internal/logging"
)

// newSlogBridge returns an *slog.Logger that forwards supervisor
// lifecycle events into the zerolog pipeline, so suture output carries
// the same shape as the rest of the service logs.
func newSlogBridge() *slog.Logger {
	return slog.New(&zerologHandler{attrs: nil})
}

type zerologHandler struct {
	attrs []slog.Attr
}

func (h *zerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return zerologLevel(level) >= zerolog.GlobalLevel()
}

func (h *zerologHandler) Handle(_ context.Context, rec slog.Record) error {
	logger := logging.Logger()
	ev := logger.WithLevel(zerologLevel(rec.Level)).Str("component", "supervisor")

	for _, attr := range h.attrs {
		ev = ev.Interface(attr.Key, attr.Value.Any())
	}
	rec.Attrs(func(attr slog.Attr) bool {
		ev = ev.Interface(attr.Key, attr.Value.Any())
		return true
	})

	ev.Msg(rec.Message)
	return nil
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &zerologHandler{attrs: merged}
}

func (h *zerologHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened; supervisor events carry few attributes.
	return h
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
