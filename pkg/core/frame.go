// pkg/core/frame.go
package core

// FrameRecord is one sampled capture. It is written as a single JSON line to
// the session metadata file and never modified after it is appended.
type FrameRecord struct {
	FrameIndex             int64      `json:"frame_index"`
	TimestampNs            int64      `json:"timestamp_ns"`
	Pose                   Pose       `json:"pose"`
	AnchorPose             Pose       `json:"anchor_pose"`
	AnchorTracking         bool       `json:"anchor_tracking"`
	Intrinsics             Intrinsics `json:"intrinsics"`
	ImageWidth             int        `json:"image_width"`
	ImageHeight            int        `json:"image_height"`
	DisplayRotationDegrees int        `json:"display_rotation_degrees"`
	ImageFile              string     `json:"image_file"`
}
