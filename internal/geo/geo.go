// Package geo builds rigid transforms from tracked poses and composes the
// drift correction that maps session-anchored geometry into the live frame.
//
// Transforms are 4x4 homogeneous matrices stored row-major:
//
//	m00 m01 m02 tx
//	m10 m11 m12 ty
//	m20 m21 m22 tz
//	  0   0   0  1
//
// The 3x3 block is always built directly from the quaternion and the
// translation is written straight into the last column. Never compose a
// rotation with a separate translate step.
package geo

import (
	"errors"
	"math"

	"github.com/ar-recorder/recorder/pkg/core"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance bounds the error accepted by IsRigid.
const MatrixValidationTolerance = 1e-6

// ErrZeroQuaternion is returned when a pose carries a zero-length orientation.
var ErrZeroQuaternion = errors.New("zero-length quaternion")

// Transform is a row-major 4x4 homogeneous matrix.
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// FromPose returns the anchor transform A(pose): rotation block from the
// normalised quaternion, translation in the final column.
func FromPose(p core.Pose) (Transform, error) {
	r, err := RotationMatrix(p.Orientation)
	if err != nil {
		return Transform{}, err
	}
	return Transform{
		r[0], r[1], r[2], p.Position[0],
		r[3], r[4], r[5], p.Position[1],
		r[6], r[7], r[8], p.Position[2],
		0, 0, 0, 1,
	}, nil
}

// MustFromPose is FromPose for poses already known to be valid.
func MustFromPose(p core.Pose) Transform {
	t, err := FromPose(p)
	if err != nil {
		panic(err)
	}
	return t
}

// Rotation returns the 3x3 linear block in row-major order.
func (t Transform) Rotation() [9]float64 {
	return [9]float64{
		t[0], t[1], t[2],
		t[4], t[5], t[6],
		t[8], t[9], t[10],
	}
}

// Translation returns the last column.
func (t Transform) Translation() core.Vec3 {
	return core.Vec3{t[3], t[7], t[11]}
}

// Apply transforms point p (w = 1).
func (t Transform) Apply(p core.Vec3) core.Vec3 {
	return core.Vec3{
		t[0]*p[0] + t[1]*p[1] + t[2]*p[2] + t[3],
		t[4]*p[0] + t[5]*p[1] + t[6]*p[2] + t[7],
		t[8]*p[0] + t[9]*p[1] + t[10]*p[2] + t[11],
	}
}

// Mul returns t·o.
func (t Transform) Mul(o Transform) Transform {
	a := mat.NewDense(4, 4, t[:])
	b := mat.NewDense(4, 4, o[:])
	var c mat.Dense
	c.Mul(a, b)

	var out Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i*4+j] = c.At(i, j)
		}
	}
	return out
}

// Inverse returns the inverse of a rigid transform in closed form:
// [Rᵀ | −Rᵀt]. The receiver must satisfy IsRigid.
func (t Transform) Inverse() Transform {
	tx, ty, tz := t[3], t[7], t[11]
	return Transform{
		t[0], t[4], t[8], -(t[0]*tx + t[4]*ty + t[8]*tz),
		t[1], t[5], t[9], -(t[1]*tx + t[5]*ty + t[9]*tz),
		t[2], t[6], t[10], -(t[2]*tx + t[6]*ty + t[10]*tz),
		0, 0, 0, 1,
	}
}

// ApproxEqual compares element-wise within tol.
func (t Transform) ApproxEqual(o Transform, tol float64) bool {
	for i := range t {
		if math.Abs(t[i]-o[i]) > tol {
			return false
		}
	}
	return true
}

// IsRigid reports whether t is a proper rigid transform: orthonormal rotation
// block with determinant +1 and a bottom row of 0 0 0 1.
func IsRigid(t Transform) bool {
	if t[12] != 0 || t[13] != 0 || t[14] != 0 || math.Abs(t[15]-1) > MatrixValidationTolerance {
		return false
	}
	rot := t.Rotation()
	return IsRotation(rot)
}

// IsRotation reports whether the row-major 3x3 matrix is orthonormal with det +1.
func IsRotation(rot [9]float64) bool {
	r := r3.NewMat(rot[:])
	if math.Abs(r.Det()-1) > MatrixValidationTolerance {
		return false
	}
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	id := mat.NewDiagDense(3, []float64{1, 1, 1})
	return mat.EqualApprox(&rtr, id, MatrixValidationTolerance)
}
