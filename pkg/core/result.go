// pkg/core/result.go
package core

import (
	"encoding/json"
	"fmt"
)

// ResultKind identifies what geometry a RemoteResult carries.
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultPoint
	ResultSegment
)

func (k ResultKind) String() string {
	switch k {
	case ResultNone:
		return "none"
	case ResultPoint:
		return "point"
	case ResultSegment:
		return "segment"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// MarshalJSON encodes the kind by name.
func (k ResultKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts the names produced by MarshalJSON.
func (k *ResultKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "none", "":
		*k = ResultNone
	case "point":
		*k = ResultPoint
	case "segment":
		*k = ResultSegment
	default:
		return fmt.Errorf("unknown result kind %q", s)
	}
	return nil
}

// RemoteResult is the geometry returned by the processing service, expressed
// in the frame fixed when the session anchor was created (W0).
//
// A zero RemoteResult is a valid "no geometry" answer.
type RemoteResult struct {
	Kind    ResultKind `json:"kind"`
	Point   Vec3       `json:"point"`  // ResultPoint
	Bottom  Vec3       `json:"bottom"` // ResultSegment
	Top     Vec3       `json:"top"`    // ResultSegment
	Message string     `json:"message,omitempty"`
}

// PointResult returns a single-point result.
func PointResult(p Vec3) RemoteResult {
	return RemoteResult{Kind: ResultPoint, Point: p}
}

// SegmentResult returns a line-segment result.
func SegmentResult(bottom, top Vec3) RemoteResult {
	return RemoteResult{Kind: ResultSegment, Bottom: bottom, Top: top}
}

// Points returns the result's points in a stable order: the point itself, or
// bottom then top for a segment. A "none" result has no points.
func (r RemoteResult) Points() []Vec3 {
	switch r.Kind {
	case ResultPoint:
		return []Vec3{r.Point}
	case ResultSegment:
		return []Vec3{r.Bottom, r.Top}
	default:
		return nil
	}
}

// Empty reports whether the result carries no geometry.
func (r RemoteResult) Empty() bool {
	return r.Kind == ResultNone
}

// UploadResponse is the wire body returned by the processing endpoint.
type UploadResponse struct {
	Success        bool          `json:"success"`
	CupCoordinates []float64     `json:"cup_coordinates,omitempty"`
	RotationAxis   *RotationAxis `json:"rotation_axis,omitempty"`
	Error          string        `json:"error,omitempty"`
	Message        string        `json:"message,omitempty"`
}

// RotationAxis is the segment form of a result on the wire.
type RotationAxis struct {
	BottomPoint []float64 `json:"bottom_point"`
	TopPoint    []float64 `json:"top_point"`
}

// Projection is a result re-expressed in the live tracking frame for one tick.
type Projection struct {
	SessionID   string     `json:"session_id"`
	Kind        ResultKind `json:"kind"`
	Points      []Vec3     `json:"points"`
	TimestampNs int64      `json:"timestamp_ns"`
}
