// Package display delivers recorder state and projected geometry to whatever
// is drawing it.
package display

import (
	"fmt"
	"log/slog"

	"github.com/ar-recorder/recorder/pkg/core"
)

// Sink receives display updates from the tick loop. Implementations must not
// block: the tick loop calls them every frame.
type Sink interface {
	SessionState(sessionID, state, message string) error
	Result(sessionID string, r core.RemoteResult) error
	Projection(p core.Projection) error
	Clear(sessionID string) error
	Close() error
}

// Config selects and configures a sink.
type Config struct {
	// Mode is "none", "log" or "websocket".
	Mode       string
	URL        string
	Secret     string
	RecorderID string
}

// New builds the sink named by cfg.Mode.
func New(cfg Config, logger *slog.Logger) (Sink, error) {
	switch cfg.Mode {
	case "", "none":
		return Noop{}, nil
	case "log":
		return NewLogSink(logger), nil
	case "websocket":
		if cfg.URL == "" {
			return nil, fmt.Errorf("display.url is required for websocket mode")
		}
		s := NewStream(StreamConfig{URL: cfg.URL, Secret: cfg.Secret, RecorderID: cfg.RecorderID}, logger)
		if err := s.Init(); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown display mode %q", cfg.Mode)
	}
}

// Noop discards everything.
type Noop struct{}

func (Noop) SessionState(string, string, string) error { return nil }
func (Noop) Result(string, core.RemoteResult) error     { return nil }
func (Noop) Projection(core.Projection) error           { return nil }
func (Noop) Clear(string) error                         { return nil }
func (Noop) Close() error                               { return nil }

// LogSink writes updates to a structured logger. Projections are logged at
// debug level since they arrive every tick.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that logs to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) SessionState(sessionID, state, message string) error {
	s.logger.Info("Recorder state", "session_id", sessionID, "state", state, "message", message)
	return nil
}

func (s *LogSink) Result(sessionID string, r core.RemoteResult) error {
	s.logger.Info("Session result", "session_id", sessionID, "kind", r.Kind.String(),
		"points", r.Points(), "message", r.Message)
	return nil
}

func (s *LogSink) Projection(p core.Projection) error {
	s.logger.Debug("Projected geometry", "session_id", p.SessionID, "kind", p.Kind.String(),
		"points", p.Points, "ts", p.TimestampNs)
	return nil
}

func (s *LogSink) Clear(sessionID string) error {
	s.logger.Info("Display cleared", "session_id", sessionID)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
