package geo

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/ar-recorder/recorder/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const tol = 1e-9

func randomPose(r *rand.Rand) core.Pose {
	return core.NewPose(
		core.Vec3{r.NormFloat64(), r.NormFloat64(), r.NormFloat64()},
		r.NormFloat64(), r.NormFloat64(), r.NormFloat64(), r.NormFloat64(),
	)
}

func assertVec(t *testing.T, want, got core.Vec3, delta float64) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], delta, "component %d of %v", i, got)
	}
}

func TestRotationMatrix_RandomQuaternionsAreRotations(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 200; i++ {
		q := [4]float64{r.NormFloat64(), r.NormFloat64(), r.NormFloat64(), r.NormFloat64()}
		rot, err := RotationMatrix(q)
		require.NoError(t, err)
		assert.True(t, IsRotation(rot), "quaternion %v", q)
	}
}

func TestRotationMatrix_ZeroQuaternion(t *testing.T) {
	_, err := RotationMatrix([4]float64{})
	assert.ErrorIs(t, err, ErrZeroQuaternion)

	_, err = FromPose(core.Pose{})
	assert.ErrorIs(t, err, ErrZeroQuaternion)
}

func TestFromPose_OriginMapsToPosition(t *testing.T) {
	p := core.NewPose(core.Vec3{1.5, -2, 3.25}, 0.1, 0.2, 0.3, 0.9)
	a := MustFromPose(p)

	assert.Equal(t, p.Position, a.Apply(core.Vec3{}))
	assert.True(t, IsRigid(a))
	assert.Equal(t, [4]float64{0, 0, 0, 1}, [4]float64{a[12], a[13], a[14], a[15]})
}

func TestFromPose_UnnormalisedQuaternion(t *testing.T) {
	a := MustFromPose(core.NewPose(core.Vec3{}, 0, 0, 0, 5))
	assert.True(t, a.ApproxEqual(Identity(), tol))
}

func TestInverse_MatchesGeneralInverse(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 50; i++ {
		a := MustFromPose(randomPose(r))

		var general mat.Dense
		require.NoError(t, general.Inverse(mat.NewDense(4, 4, a[:])))

		inv := a.Inverse()
		assert.True(t, mat.EqualApprox(&general, mat.NewDense(4, 4, inv[:]), 1e-9))
		assert.True(t, a.Mul(inv).ApproxEqual(Identity(), 1e-9))
	}
}

func TestEngine_CorrectionAtCreationIsIdentity(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		first := randomPose(r)
		e, err := NewEngine(first)
		require.NoError(t, err)

		s, err := e.Correction(first)
		require.NoError(t, err)
		assert.True(t, s.ApproxEqual(Identity(), 1e-9), "pose %+v", first)
	}
}

func TestEngine_CompositionLaw(t *testing.T) {
	r := rand.New(rand.NewPCG(9, 4))
	for i := 0; i < 50; i++ {
		first, current := randomPose(r), randomPose(r)
		e, err := NewEngine(first)
		require.NoError(t, err)

		s, err := e.Correction(current)
		require.NoError(t, err)

		got := s.Mul(MustFromPose(first))
		assert.True(t, got.ApproxEqual(MustFromPose(current), 1e-9))
		assert.True(t, IsRigid(s))
	}
}

func TestEngine_TranslationOnly(t *testing.T) {
	e, err := NewEngine(core.IdentityPose())
	require.NoError(t, err)

	live, err := e.ToLive(core.Vec3{0, 0, 0}, core.NewPose(core.Vec3{1, 0, 0}, 0, 0, 0, 1))
	require.NoError(t, err)
	assertVec(t, core.Vec3{1, 0, 0}, live, tol)
}

func TestEngine_RotationAboutY(t *testing.T) {
	e, err := NewEngine(core.IdentityPose())
	require.NoError(t, err)

	h := math.Sqrt2 / 2
	live, err := e.ToLive(core.Vec3{1, 0, 0}, core.NewPose(core.Vec3{}, 0, h, 0, h))
	require.NoError(t, err)
	assertVec(t, core.Vec3{0, 0, -1}, live, 0.01)
}

func TestEngine_TranslationAndRotation(t *testing.T) {
	e, err := NewEngine(core.IdentityPose())
	require.NoError(t, err)

	h := math.Sqrt2 / 2
	current := core.NewPose(core.Vec3{1, 2, 3}, 0, h, 0, h)
	live, err := e.ToLive(core.Vec3{1, 0, 0}, current)
	require.NoError(t, err)
	assertVec(t, core.Vec3{1, 2, 2}, live, 0.01)
}

func TestEngine_InverseRoundTrip(t *testing.T) {
	q, err := Normalize([4]float64{0.1, 0.2, 0.3, 0.9})
	require.NoError(t, err)

	first := core.NewPose(core.Vec3{0.2, -0.1, -0.5}, 0, 0, 0, 1)
	current := core.NewPose(core.Vec3{0.4, 0.1, -0.3}, q[0], q[1], q[2], q[3])
	e, err := NewEngine(first)
	require.NoError(t, err)

	p := core.Vec3{0.5, 0.3, -0.2}
	live, err := e.ToLive(p, current)
	require.NoError(t, err)
	back, err := e.ToW0(live, current)
	require.NoError(t, err)
	assertVec(t, p, back, 1e-9)
}

func TestWorldToAnchor_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(21, 8))
	for i := 0; i < 20; i++ {
		anchor := randomPose(r)
		w := core.Vec3{r.NormFloat64(), r.NormFloat64(), r.NormFloat64()}

		rel, err := WorldToAnchor(anchor, w)
		require.NoError(t, err)
		back, err := AnchorToWorld(anchor, rel)
		require.NoError(t, err)
		assertVec(t, w, back, 1e-9)

		// Anchor-relative coordinates agree with A⁻¹·w.
		assertVec(t, MustFromPose(anchor).Inverse().Apply(w), rel, 1e-9)
	}
}

func TestPoseAhead(t *testing.T) {
	ahead, err := PoseAhead(core.IdentityPose(), 0.5)
	require.NoError(t, err)
	assertVec(t, core.Vec3{0, 0, -0.5}, ahead.Position, tol)

	// Camera yawed 90° about Y looks down −X.
	h := math.Sqrt2 / 2
	cam := core.NewPose(core.Vec3{1, 1, 1}, 0, h, 0, h)
	ahead, err = PoseAhead(cam, 2)
	require.NoError(t, err)
	assertVec(t, core.Vec3{-1, 1, 1}, ahead.Position, 1e-9)
	assert.Equal(t, cam.Orientation, ahead.Orientation)
}

func TestResultWKT(t *testing.T) {
	wkt, err := ResultWKT(core.RemoteResult{})
	require.NoError(t, err)
	assert.Equal(t, "", wkt)

	wkt, err = ResultWKT(core.PointResult(core.Vec3{1, 2, 3}))
	require.NoError(t, err)
	assert.Contains(t, wkt, "POINT Z")

	wkt, err = ResultWKT(core.SegmentResult(core.Vec3{0, 0, 0}, core.Vec3{0, 1, 0}))
	require.NoError(t, err)
	assert.Contains(t, wkt, "LINESTRING Z")
}

func TestResultWKT_UprightAxis(t *testing.T) {
	wkt, err := ResultWKT(core.SegmentResult(core.Vec3{1, 2, 0}, core.Vec3{1, 2, 5}))
	require.NoError(t, err)
	assert.Contains(t, wkt, "LINESTRING Z")
	assert.Contains(t, wkt, "1 2 5")
}

func TestResultWKT_Invalid(t *testing.T) {
	_, err := ResultWKT(core.PointResult(core.Vec3{math.NaN(), 0, 0}))
	assert.Error(t, err)

	_, err = ResultWKT(core.PointResult(core.Vec3{0, 0, math.Inf(1)}))
	assert.Error(t, err)

	_, err = ResultWKT(core.SegmentResult(core.Vec3{1, 2, 3}, core.Vec3{1, 2, 3}))
	assert.ErrorIs(t, err, ErrDegenerateSegment)

	_, err = SegmentZ(core.Vec3{0, 0, 0}, core.Vec3{0, math.NaN(), 1})
	assert.Error(t, err)
}

func TestComposePose_MatchesTransformProduct(t *testing.T) {
	r := rand.New(rand.NewPCG(13, 17))
	for i := 0; i < 20; i++ {
		a, b := randomPose(r), randomPose(r)
		c, err := ComposePose(a, b)
		require.NoError(t, err)
		assert.True(t, MustFromPose(c).ApproxEqual(MustFromPose(a).Mul(MustFromPose(b)), 1e-9))
	}
}

func TestInversePose(t *testing.T) {
	r := rand.New(rand.NewPCG(19, 23))
	for i := 0; i < 20; i++ {
		p := randomPose(r)
		inv, err := InversePose(p)
		require.NoError(t, err)
		assert.True(t, MustFromPose(inv).ApproxEqual(MustFromPose(p).Inverse(), 1e-9))
	}
}
