// Package stability gates recording on continuous tracking.
package stability

import (
	"fmt"
	"time"
)

// DefaultWindow is how long tracking must hold before recording may start.
const DefaultWindow = 2 * time.Second

// State is the monitor's gating state.
type State int

const (
	Unstable State = iota
	Accumulating
	Stable
)

func (s State) String() string {
	switch s {
	case Unstable:
		return "UNSTABLE"
	case Accumulating:
		return "ACCUMULATING"
	case Stable:
		return "STABLE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Monitor tracks how long the camera has been tracking without interruption.
// Time is measured in the tracking clock (tick timestamps), never wall time.
//
// Monitor is owned by the tick loop and is not safe for concurrent use.
type Monitor struct {
	window      time.Duration
	state       State
	startNs     int64
	lastNs      int64
	transitions int
}

// New returns a monitor with the given window. A non-positive window uses
// DefaultWindow.
func New(window time.Duration) *Monitor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Monitor{window: window}
}

// Update feeds one tick. tracking reports whether the camera is currently
// TRACKING; timestampNs is the tick's tracking-clock timestamp.
func (m *Monitor) Update(tracking bool, timestampNs int64) State {
	if !tracking {
		m.state = Unstable
		m.startNs = 0
		m.lastNs = 0
		return m.state
	}

	if m.state == Unstable {
		m.state = Accumulating
		m.startNs = timestampNs
	}
	m.lastNs = timestampNs

	if m.state == Accumulating && m.Elapsed() >= m.window {
		m.state = Stable
		m.transitions++
	}
	return m.state
}

// IsStable reports whether recording may start.
func (m *Monitor) IsStable() bool {
	return m.state == Stable
}

// State returns the current gating state.
func (m *Monitor) State() State {
	return m.state
}

// Elapsed is the uninterrupted tracking time so far, for user feedback.
func (m *Monitor) Elapsed() time.Duration {
	if m.state == Unstable {
		return 0
	}
	return time.Duration(m.lastNs - m.startNs)
}

// Remaining is the time left before the monitor becomes stable.
func (m *Monitor) Remaining() time.Duration {
	if m.state == Stable {
		return 0
	}
	return m.window - m.Elapsed()
}

// Window returns the configured stability window.
func (m *Monitor) Window() time.Duration {
	return m.window
}

// Transitions counts UNSTABLE to STABLE edges since creation.
func (m *Monitor) Transitions() int {
	return m.transitions
}
