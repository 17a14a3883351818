package log

import (
	"context"
	"log/slog"
)

// Logger is the subset of *slog.Logger used across the module.
type Logger interface {
	Debug(msg string, args ...any)
	DebugContext(ctx context.Context, msg string, args ...any)
	Info(msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	Warn(msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	Error(msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
	Enabled(ctx context.Context, level slog.Level) bool
}

var _ Logger = (*slog.Logger)(nil)

// Handler appends attributes carried by the context to every record.
// Use ContextWithAttrs to attach them.
type Handler struct {
	slog.Handler
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	type hasAttrs interface {
		Attrs() []slog.Attr
	}
	if attrCtx, ok := ctx.(hasAttrs); ok {
		record.AddAttrs(attrCtx.Attrs()...)
	}
	return h.Handler.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{Handler: h.Handler.WithGroup(name)}
}

type attrContext struct {
	context.Context
	attrs []slog.Attr
}

func (c *attrContext) Attrs() []slog.Attr {
	return c.attrs
}

// ContextWithAttrs returns a context whose attributes are added to records
// handled by Handler. Attributes of a parent attrContext are kept.
func ContextWithAttrs(parent context.Context, attrs ...slog.Attr) context.Context {
	if p, ok := parent.(*attrContext); ok {
		merged := make([]slog.Attr, 0, len(p.attrs)+len(attrs))
		merged = append(merged, p.attrs...)
		merged = append(merged, attrs...)
		return &attrContext{Context: p.Context, attrs: merged}
	}
	return &attrContext{Context: parent, attrs: attrs}
}
