// Package tracking defines the 6-DoF tracking capability the recorder is
// driven by. Platform SDK bindings implement these interfaces; Replay is a
// file-backed implementation used by the CLI and tests.
package tracking

import (
	"github.com/ar-recorder/recorder/pkg/core"
)

// Plane is one channel of a YUV image as handed out by the camera.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Image is a camera image that is only valid until the next tick.
// Callers must copy what they need and Close it within the tick.
type Image interface {
	Width() int
	Height() int
	// Planes returns Y, U and V in that order. U and V are subsampled 2x2.
	Planes() []Plane
	Close() error
}

// Frame is one tracking update.
type Frame interface {
	// Timestamp is in the tracking clock, nanoseconds.
	Timestamp() int64
	TrackingState() core.TrackingState
	CameraPose() core.Pose
	Intrinsics() core.Intrinsics
	// DisplayRotation is the display orientation in degrees (0, 90, 180, 270).
	DisplayRotation() int
	// AcquireImage returns core.ErrImageNotYetAvailable or
	// core.ErrDeadlineExceeded for transient conditions.
	AcquireImage() (Image, error)
}

// Anchor is a tracked placement whose pose is refined as the map updates.
type Anchor interface {
	Pose() core.Pose
	TrackingState() core.TrackingState
	// Detach releases the anchor. It is safe to call more than once.
	Detach()
}

// Session creates anchors in the live tracking frame.
type Session interface {
	CreateAnchor(pose core.Pose) (Anchor, error)
}
