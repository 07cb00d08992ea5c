package geo

import (
	"fmt"

	"github.com/ar-recorder/recorder/pkg/core"
)

// Engine holds the anchor transform A0 captured when the session anchor was
// created and maps between that frame (W0) and the live tracking frame.
//
// Corrections are computed from the live anchor pose every call; Engine
// never caches A(t).
type Engine struct {
	first core.Pose
	a0    Transform
	a0Inv Transform
}

// NewEngine captures A0 from the anchor's creation pose.
func NewEngine(first core.Pose) (*Engine, error) {
	a0, err := FromPose(first)
	if err != nil {
		return nil, fmt.Errorf("building first anchor transform: %w", err)
	}
	return &Engine{
		first: first,
		a0:    a0,
		a0Inv: a0.Inverse(),
	}, nil
}

// FirstPose returns the creation pose the engine was built from.
func (e *Engine) FirstPose() core.Pose {
	return e.first
}

// Correction returns S(t) = A(t)·A0⁻¹ for the current anchor pose.
func (e *Engine) Correction(current core.Pose) (Transform, error) {
	at, err := FromPose(current)
	if err != nil {
		return Transform{}, fmt.Errorf("building current anchor transform: %w", err)
	}
	return at.Mul(e.a0Inv), nil
}

// InverseCorrection returns A0·A(t)⁻¹, mapping live coordinates back to W0.
func (e *Engine) InverseCorrection(current core.Pose) (Transform, error) {
	at, err := FromPose(current)
	if err != nil {
		return Transform{}, fmt.Errorf("building current anchor transform: %w", err)
	}
	return e.a0.Mul(at.Inverse()), nil
}

// ToLive maps a W0 point into the live frame.
func (e *Engine) ToLive(p core.Vec3, current core.Pose) (core.Vec3, error) {
	s, err := e.Correction(current)
	if err != nil {
		return p, err
	}
	return s.Apply(p), nil
}

// ToW0 maps a live-frame point back into W0.
func (e *Engine) ToW0(p core.Vec3, current core.Pose) (core.Vec3, error) {
	s, err := e.InverseCorrection(current)
	if err != nil {
		return p, err
	}
	return s.Apply(p), nil
}

// WorldToAnchor expresses world point w relative to anchor:
// R(anchor)⁻¹·(w − anchor.translation).
func WorldToAnchor(anchor core.Pose, w core.Vec3) (core.Vec3, error) {
	d := core.Vec3{
		w[0] - anchor.Position[0],
		w[1] - anchor.Position[1],
		w[2] - anchor.Position[2],
	}
	u, err := Normalize(anchor.Orientation)
	if err != nil {
		return w, err
	}
	return Rotate(Conjugate(u), d)
}

// AnchorToWorld is the inverse of WorldToAnchor.
func AnchorToWorld(anchor core.Pose, rel core.Vec3) (core.Vec3, error) {
	r, err := Rotate(anchor.Orientation, rel)
	if err != nil {
		return rel, err
	}
	return core.Vec3{
		r[0] + anchor.Position[0],
		r[1] + anchor.Position[1],
		r[2] + anchor.Position[2],
	}, nil
}

// PoseAhead returns a pose distance metres in front of camera (along its
// local −Z axis) with the camera's orientation.
func PoseAhead(camera core.Pose, distance float64) (core.Pose, error) {
	pos, err := AnchorToWorld(camera, core.Vec3{0, 0, -distance})
	if err != nil {
		return core.Pose{}, err
	}
	return core.Pose{Position: pos, Orientation: camera.Orientation}, nil
}
