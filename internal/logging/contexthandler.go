package logging

import (
	"context"
	"log/slog"
)

// ContextProvider is a function that returns dynamic context attributes.
type ContextProvider func() []slog.Attr

// SessionContext tags records with the session id and, while a marker is
// focused, its id.
func SessionContext(session string, selected func() (string, bool)) ContextProvider {
	return func() []slog.Attr {
		attrs := []slog.Attr{slog.String("session", session)}
		if selected == nil {
			return attrs
		}
		if id, ok := selected(); ok {
			attrs = append(attrs, slog.String("selected", id))
		}
		return attrs
	}
}

// ContextHandler appends the provider's attributes to every record it
// handles. The provider is called once per record, so the values are current
// at log time. Attributes land inside any group opened with WithGroup.
type ContextHandler struct {
	slog.Handler
	provider ContextProvider
}

// NewContextHandler wraps inner. A nil provider adds nothing.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{Handler: inner, provider: provider}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewContextHandler(h.Handler.WithAttrs(attrs), h.provider)
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return NewContextHandler(h.Handler.WithGroup(name), h.provider)
}
