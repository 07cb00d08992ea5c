package tracking

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ar-recorder/recorder/internal/geo"
	"github.com/ar-recorder/recorder/pkg/core"
)

// TraceTick is one line of a replay trace file.
type TraceTick struct {
	TimestampNs     int64           `json:"timestamp_ns"`
	Tracking        string          `json:"tracking"`
	Pose            core.Pose       `json:"pose"`
	Intrinsics      core.Intrinsics `json:"intrinsics"`
	DisplayRotation int             `json:"display_rotation"`
	ImageWidth      int             `json:"image_width,omitempty"`
	ImageHeight     int             `json:"image_height,omitempty"`
	// Drift maps anchor creation poses to their current pose: A(t) = D·A0.
	// Omitted means no drift.
	Drift *core.Pose `json:"drift,omitempty"`
	// AnchorTracking overrides the anchor tracking state. Omitted means
	// anchors track whenever the camera does.
	AnchorTracking *bool `json:"anchor_tracking,omitempty"`
	// ImageUnavailable makes AcquireImage fail with ErrImageNotYetAvailable.
	ImageUnavailable bool `json:"image_unavailable,omitempty"`
}

// ParseTrackingState parses TRACKING, PAUSED or STOPPED. Empty means TRACKING.
func ParseTrackingState(s string) (core.TrackingState, error) {
	switch strings.ToUpper(s) {
	case "", "TRACKING":
		return core.TrackingTracking, nil
	case "PAUSED":
		return core.TrackingPaused, nil
	case "STOPPED":
		return core.TrackingStopped, nil
	default:
		return core.TrackingStopped, fmt.Errorf("unknown tracking state %q", s)
	}
}

// ErrAnchorRefused is returned by CreateAnchor when the replay is configured
// to reject anchors.
var ErrAnchorRefused = errors.New("replay refused anchor")

// Replay plays back a recorded pose trace as a tracking source.
type Replay struct {
	ticks []TraceTick
	pos   int

	mu          sync.Mutex
	anchors     []*replayAnchor
	drift       core.Pose
	anchorTrack *bool
	camTracking bool
	refuse      bool
}

// LoadReplay reads a JSONL trace: one TraceTick per line, blank lines ignored.
func LoadReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}
	defer f.Close()

	var ticks []TraceTick
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var t TraceTick
		if err := json.Unmarshal([]byte(text), &t); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		if _, err := ParseTrackingState(t.Tracking); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		ticks = append(ticks, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	return NewReplay(ticks), nil
}

// NewReplay wraps in-memory ticks.
func NewReplay(ticks []TraceTick) *Replay {
	return &Replay{ticks: ticks, drift: core.IdentityPose()}
}

// RefuseAnchors makes subsequent CreateAnchor calls fail.
func (r *Replay) RefuseAnchors(refuse bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refuse = refuse
}

// Len is the number of ticks in the trace.
func (r *Replay) Len() int {
	return len(r.ticks)
}

// Next advances to the next tick. Anchor poses are updated before the frame
// is returned, as a platform SDK would do.
func (r *Replay) Next() (Frame, bool) {
	if r.pos >= len(r.ticks) {
		return nil, false
	}
	t := r.ticks[r.pos]
	r.pos++

	state, _ := ParseTrackingState(t.Tracking)

	r.mu.Lock()
	if t.Drift != nil {
		r.drift = *t.Drift
	}
	r.anchorTrack = t.AnchorTracking
	r.camTracking = state == core.TrackingTracking
	r.mu.Unlock()

	return &replayFrame{tick: t, state: state, index: r.pos - 1}, true
}

// CreateAnchor places an anchor at pose in the current live frame. The
// anchor's creation pose is stored as if the current drift had already been
// applied, so its reported pose equals pose at creation.
func (r *Replay) CreateAnchor(pose core.Pose) (Anchor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuse {
		return nil, ErrAnchorRefused
	}
	if !r.camTracking {
		return nil, core.ErrTrackingUnavailable
	}
	if _, err := geo.FromPose(pose); err != nil {
		return nil, err
	}
	inv, err := geo.InversePose(r.drift)
	if err != nil {
		return nil, err
	}
	base, err := geo.ComposePose(inv, pose)
	if err != nil {
		return nil, err
	}
	a := &replayAnchor{replay: r, base: base}
	r.anchors = append(r.anchors, a)
	return a, nil
}

// LiveAnchors counts anchors that have not been detached.
func (r *Replay) LiveAnchors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.anchors {
		if !a.detached {
			n++
		}
	}
	return n
}

type replayAnchor struct {
	replay   *Replay
	base     core.Pose
	detached bool
}

func (a *replayAnchor) Pose() core.Pose {
	a.replay.mu.Lock()
	defer a.replay.mu.Unlock()
	p, err := geo.ComposePose(a.replay.drift, a.base)
	if err != nil {
		return a.base
	}
	return p
}

func (a *replayAnchor) TrackingState() core.TrackingState {
	a.replay.mu.Lock()
	defer a.replay.mu.Unlock()
	switch {
	case a.detached:
		return core.TrackingStopped
	case a.replay.anchorTrack != nil && !*a.replay.anchorTrack:
		return core.TrackingPaused
	case a.replay.anchorTrack != nil:
		return core.TrackingTracking
	case a.replay.camTracking:
		return core.TrackingTracking
	default:
		return core.TrackingPaused
	}
}

func (a *replayAnchor) Detach() {
	a.replay.mu.Lock()
	defer a.replay.mu.Unlock()
	a.detached = true
}

type replayFrame struct {
	tick  TraceTick
	state core.TrackingState
	index int
}

func (f *replayFrame) Timestamp() int64                  { return f.tick.TimestampNs }
func (f *replayFrame) TrackingState() core.TrackingState { return f.state }
func (f *replayFrame) CameraPose() core.Pose             { return f.tick.Pose }
func (f *replayFrame) Intrinsics() core.Intrinsics       { return f.tick.Intrinsics }
func (f *replayFrame) DisplayRotation() int              { return f.tick.DisplayRotation }

func (f *replayFrame) AcquireImage() (Image, error) {
	if f.tick.ImageUnavailable {
		return nil, core.ErrImageNotYetAvailable
	}
	w, h := f.tick.ImageWidth, f.tick.ImageHeight
	if w <= 0 || h <= 0 {
		w, h = f.tick.Intrinsics.Width, f.tick.Intrinsics.Height
	}
	if w <= 0 || h <= 0 {
		return nil, core.ErrImageNotYetAvailable
	}
	return NewSyntheticImage(w, h, byte(f.index)), nil
}
