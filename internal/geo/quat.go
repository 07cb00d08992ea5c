package geo

import (
	"github.com/ar-recorder/recorder/pkg/core"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// toNumber converts an (x, y, z, w) orientation to a gonum quaternion.
func toNumber(q [4]float64) quat.Number {
	return quat.Number{Real: q[3], Imag: q[0], Jmag: q[1], Kmag: q[2]}
}

// Normalize returns q scaled to unit length.
func Normalize(q [4]float64) ([4]float64, error) {
	n := toNumber(q)
	l := quat.Abs(n)
	if l == 0 {
		return q, ErrZeroQuaternion
	}
	n = quat.Scale(1/l, n)
	return [4]float64{n.Imag, n.Jmag, n.Kmag, n.Real}, nil
}

// RotationMatrix returns the row-major rotation matrix of quaternion
// (x, y, z, w). The quaternion is normalised first.
func RotationMatrix(q [4]float64) ([9]float64, error) {
	u, err := Normalize(q)
	if err != nil {
		return [9]float64{}, err
	}
	x, y, z, w := u[0], u[1], u[2], u[3]

	xx, yy, zz := x*x, y*y, z*z
	xy, xz, yz := x*y, x*z, y*z
	wx, wy, wz := w*x, w*y, w*z

	return [9]float64{
		1 - 2*(yy+zz), 2 * (xy - wz), 2 * (xz + wy),
		2 * (xy + wz), 1 - 2*(xx+zz), 2 * (yz - wx),
		2 * (xz - wy), 2 * (yz + wx), 1 - 2*(xx+yy),
	}, nil
}

// Rotate applies the rotation of quaternion q to v.
func Rotate(q [4]float64, v core.Vec3) (core.Vec3, error) {
	u, err := Normalize(q)
	if err != nil {
		return v, err
	}
	rot := r3.Rotation(toNumber(u))
	out := rot.Rotate(r3.Vec{X: v[0], Y: v[1], Z: v[2]})
	return core.Vec3{out.X, out.Y, out.Z}, nil
}

// Conjugate returns the inverse rotation of a unit quaternion.
func Conjugate(q [4]float64) [4]float64 {
	c := quat.Conj(toNumber(q))
	return [4]float64{c.Imag, c.Jmag, c.Kmag, c.Real}
}

// ComposePose returns the pose of b expressed through a, i.e. the pose whose
// transform is A(a)·A(b).
func ComposePose(a, b core.Pose) (core.Pose, error) {
	ua, err := Normalize(a.Orientation)
	if err != nil {
		return core.Pose{}, err
	}
	ub, err := Normalize(b.Orientation)
	if err != nil {
		return core.Pose{}, err
	}
	pos, err := AnchorToWorld(a, b.Position)
	if err != nil {
		return core.Pose{}, err
	}
	q := quat.Mul(toNumber(ua), toNumber(ub))
	return core.Pose{Position: pos, Orientation: [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}}, nil
}

// InversePose returns the pose whose transform is A(p)⁻¹.
func InversePose(p core.Pose) (core.Pose, error) {
	u, err := Normalize(p.Orientation)
	if err != nil {
		return core.Pose{}, err
	}
	c := Conjugate(u)
	t, err := Rotate(c, p.Position)
	if err != nil {
		return core.Pose{}, err
	}
	return core.Pose{Position: core.Vec3{-t[0], -t[1], -t[2]}, Orientation: c}, nil
}
