package logging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

const (
	sessionIDKey     = "session_id"
	recorderStateKey = "recorder_state"
)

// SessionContext holds the session id and recorder state stamped onto log
// records. It is safe for concurrent use.
type SessionContext struct {
	mu        sync.RWMutex
	sessionID string
	state     string
}

// Set replaces both values. An empty value is omitted from records.
func (c *SessionContext) Set(sessionID, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.state = state
}

func (c *SessionContext) get() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID, c.state
}

// SessionHandler stamps the current SessionContext onto every record. A
// session_id already set by the caller, on the record or through With, wins
// over the current one, so late log lines about an older session keep its id.
type SessionHandler struct {
	inner     slog.Handler
	session   *SessionContext
	pinnedID  bool
	groupless bool
}

// NewSessionHandler wraps inner.
func NewSessionHandler(inner slog.Handler, session *SessionContext) *SessionHandler {
	return &SessionHandler{inner: inner, session: session, groupless: true}
}

func (h *SessionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SessionHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.session == nil {
		return h.inner.Handle(ctx, r)
	}
	id, state := h.session.get()

	pinned := h.pinnedID
	if !pinned && h.groupless {
		r.Attrs(func(a slog.Attr) bool {
			pinned = a.Key == sessionIDKey
			return !pinned
		})
	}
	if id != "" && !pinned {
		r.AddAttrs(slog.String(sessionIDKey, id))
	}
	if state != "" {
		r.AddAttrs(slog.String(recorderStateKey, state))
	}
	return h.inner.Handle(ctx, r)
}

func (h *SessionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.inner = h.inner.WithAttrs(attrs)
	if h.groupless {
		for _, a := range attrs {
			if a.Key == sessionIDKey {
				next.pinnedID = true
			}
		}
	}
	return &next
}

func (h *SessionHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.inner = h.inner.WithGroup(name)
	next.groupless = false
	return &next
}

// MultiHandler writes each record to every enabled handler. A failing
// handler does not stop delivery to the rest; Handle reports all failures.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler skips nil handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	m := &MultiHandler{}
	for _, h := range handlers {
		if h != nil {
			m.handlers = append(m.handlers, h)
		}
	}
	return m
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return m
	}
	return m.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) each(fn func(slog.Handler) slog.Handler) *MultiHandler {
	out := &MultiHandler{handlers: make([]slog.Handler, len(m.handlers))}
	for i, h := range m.handlers {
		out.handlers[i] = fn(h)
	}
	return out
}
