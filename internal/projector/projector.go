// Package projector keeps a session result on screen as the tracking map
// drifts, re-expressing its W0 points in the live frame every tick.
package projector

import (
	"fmt"
	"log/slog"

	"github.com/ar-recorder/recorder/internal/display"
	"github.com/ar-recorder/recorder/internal/geo"
	"github.com/ar-recorder/recorder/internal/tracking"
	"github.com/ar-recorder/recorder/pkg/core"
)

// Projector publishes the live-frame projection of the current result.
// It is driven from the tick loop only.
type Projector struct {
	sink   display.Sink
	logger *slog.Logger

	sessionID string
	result    core.RemoteResult
	anchor    tracking.Anchor
	engine    *geo.Engine

	last core.Projection
	held bool
}

// New returns a projector with nothing to show.
func New(sink display.Sink, logger *slog.Logger) *Projector {
	return &Projector{sink: sink, logger: logger}
}

// Set installs the result for a session. first is the anchor pose at
// creation; anchor is queried every tick for its current pose.
func (p *Projector) Set(sessionID string, res core.RemoteResult, anchor tracking.Anchor, first core.Pose) error {
	engine, err := geo.NewEngine(first)
	if err != nil {
		return fmt.Errorf("projector: %w", err)
	}
	p.Release()

	p.sessionID = sessionID
	p.result = res
	p.anchor = anchor
	p.engine = engine

	if err := p.sink.Result(sessionID, res); err != nil {
		p.logger.Warn("Display rejected result", "session_id", sessionID, "error", err)
	}
	if res.Empty() {
		p.logger.Info("Session result has no geometry", "session_id", sessionID, "message", res.Message)
	}
	return nil
}

// Active reports whether a result with geometry is installed.
func (p *Projector) Active() bool {
	return p.engine != nil && !p.result.Empty()
}

// Current returns the most recently published projection.
func (p *Projector) Current() (core.Projection, bool) {
	if len(p.last.Points) == 0 {
		return core.Projection{}, false
	}
	return p.last, true
}

// Held reports whether the last tick kept the previous projection because
// the anchor was not tracking.
func (p *Projector) Held() bool {
	return p.held
}

// Tick re-projects the result through the anchor's current correction and
// publishes it. It returns false when nothing was published.
func (p *Projector) Tick(timestampNs int64) bool {
	if !p.Active() {
		return false
	}
	if p.anchor.TrackingState() != core.TrackingTracking {
		if !p.held {
			p.logger.Debug("Anchor not tracking, holding projection", "session_id", p.sessionID)
		}
		p.held = true
		return false
	}
	p.held = false

	s, err := p.engine.Correction(p.anchor.Pose())
	if err != nil {
		p.logger.Warn("Skipping projection", "session_id", p.sessionID, "error", err)
		return false
	}

	src := p.result.Points()
	pts := make([]core.Vec3, len(src))
	for i, w := range src {
		pts[i] = s.Apply(w)
	}
	p.last = core.Projection{
		SessionID:   p.sessionID,
		Kind:        p.result.Kind,
		Points:      pts,
		TimestampNs: timestampNs,
	}
	if err := p.sink.Projection(p.last); err != nil {
		p.logger.Warn("Display rejected projection", "session_id", p.sessionID, "error", err)
		return false
	}
	return true
}

// Release drops the result and anchor references and clears the display.
// The anchor itself is owned by the recorder.
func (p *Projector) Release() {
	if p.engine == nil {
		return
	}
	if err := p.sink.Clear(p.sessionID); err != nil {
		p.logger.Warn("Display rejected clear", "session_id", p.sessionID, "error", err)
	}
	p.sessionID = ""
	p.result = core.RemoteResult{}
	p.anchor = nil
	p.engine = nil
	p.last = core.Projection{}
	p.held = false
}
