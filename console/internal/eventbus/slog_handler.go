package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// LogPayload accompanies LogEntry.
type LogPayload struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"msg"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// SlogHandler writes records to an inner handler and publishes those at or
// above a minimum level to the bus as LogEntry events.
type SlogHandler struct {
	inner  slog.Handler
	bus    *Bus
	min    slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewSlogHandler tees records at min or above from inner onto bus.
func NewSlogHandler(inner slog.Handler, bus *Bus, min slog.Leveler) *SlogHandler {
	if min == nil {
		min = slog.LevelInfo
	}
	return &SlogHandler{inner: inner, bus: bus, min: min}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min.Level() || h.inner.Enabled(ctx, level)
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.min.Level() {
		h.bus.PublishType(LogEntry, h.payload(r))
	}
	if !h.inner.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *SlogHandler) payload(r slog.Record) LogPayload {
	p := LogPayload{Time: r.Time, Level: r.Level.String(), Message: r.Message}
	set := func(key string, v slog.Value) {
		if p.Attrs == nil {
			p.Attrs = make(map[string]string)
		}
		p.Attrs[key] = v.Resolve().String()
	}
	for _, a := range h.attrs {
		set(a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "" {
			set(h.prefix+a.Key, a.Value)
		}
		return true
	})
	return p
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.inner = h.inner.WithAttrs(attrs)
	cp.attrs = slices.Concat(h.attrs, h.qualify(attrs))
	return &cp
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.inner = h.inner.WithGroup(name)
	cp.prefix = h.prefix + name + "."
	return &cp
}

// qualify applies the current group prefix to attrs added under it.
func (h *SlogHandler) qualify(attrs []slog.Attr) []slog.Attr {
	if h.prefix == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: h.prefix + a.Key, Value: a.Value}
	}
	return out
}
