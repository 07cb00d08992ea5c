// pkg/core/pose.go
package core

import "fmt"

// TrackingState mirrors the tracking capability's per-object state.
type TrackingState int

const (
	TrackingStopped TrackingState = iota
	TrackingPaused
	TrackingTracking
)

// String returns the uppercase name used in logs and status output.
func (s TrackingState) String() string {
	switch s {
	case TrackingTracking:
		return "TRACKING"
	case TrackingPaused:
		return "PAUSED"
	case TrackingStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("TrackingState(%d)", int(s))
	}
}

// Vec3 is a point or direction in a right-handed metric frame.
type Vec3 [3]float64

// Pose is a rigid placement: position plus orientation quaternion (x, y, z, w).
type Pose struct {
	Position    Vec3       `json:"position"`
	Orientation [4]float64 `json:"orientation"`
}

// IdentityPose is the pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Orientation: [4]float64{0, 0, 0, 1}}
}

// NewPose builds a pose from a position and an (x, y, z, w) quaternion.
func NewPose(position Vec3, qx, qy, qz, qw float64) Pose {
	return Pose{Position: position, Orientation: [4]float64{qx, qy, qz, qw}}
}

// Intrinsics are pinhole camera parameters at their native resolution.
type Intrinsics struct {
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Cx     float64 `json:"cx"`
	Cy     float64 `json:"cy"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// Rescale returns the intrinsics expressed for an image of width x height.
// If the native resolution is unknown or already matches, i is returned unchanged.
func (i Intrinsics) Rescale(width, height int) Intrinsics {
	if i.Width <= 0 || i.Height <= 0 || width <= 0 || height <= 0 {
		return i
	}
	if i.Width == width && i.Height == height {
		return i
	}
	sx := float64(width) / float64(i.Width)
	sy := float64(height) / float64(i.Height)
	return Intrinsics{
		Fx:     i.Fx * sx,
		Fy:     i.Fy * sy,
		Cx:     i.Cx * sx,
		Cy:     i.Cy * sy,
		Width:  width,
		Height: height,
	}
}
