package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/ar-recorder/recorder/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// ErrDegenerateSegment is returned for a segment whose endpoints coincide.
var ErrDegenerateSegment = errors.New("segment endpoints coincide")

// PointZ converts a W0 point to a 3D simplefeatures point.
func PointZ(p core.Vec3) (geom.Point, error) {
	if err := finite(p); err != nil {
		return geom.Point{}, err
	}
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p[0], Y: p[1]},
		Z:    p[2],
		Type: geom.DimXYZ,
	})
}

// SegmentZ converts a bottom/top pair to a two-vertex 3D line string.
//
// simplefeatures rejects line strings whose vertices share an XY position,
// which is exactly what an upright rotation axis looks like. Endpoints are
// checked here in 3D instead and the library's 2D check is skipped.
func SegmentZ(bottom, top core.Vec3) (geom.LineString, error) {
	if err := finite(bottom); err != nil {
		return geom.LineString{}, fmt.Errorf("bottom: %w", err)
	}
	if err := finite(top); err != nil {
		return geom.LineString{}, fmt.Errorf("top: %w", err)
	}
	if bottom == top {
		return geom.LineString{}, ErrDegenerateSegment
	}
	seq := geom.NewSequence([]float64{
		bottom[0], bottom[1], bottom[2],
		top[0], top[1], top[2],
	}, geom.DimXYZ)
	return geom.NewLineString(seq, geom.DisableAllValidations)
}

// ResultWKT renders a remote result as WKT for the session catalog.
// Results without geometry render as an empty string.
func ResultWKT(r core.RemoteResult) (string, error) {
	switch r.Kind {
	case core.ResultPoint:
		p, err := PointZ(r.Point)
		if err != nil {
			return "", fmt.Errorf("point result: %w", err)
		}
		return p.AsText(), nil
	case core.ResultSegment:
		s, err := SegmentZ(r.Bottom, r.Top)
		if err != nil {
			return "", fmt.Errorf("segment result: %w", err)
		}
		return s.AsText(), nil
	default:
		return "", nil
	}
}

func finite(v core.Vec3) error {
	for i, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("coordinate %d is not finite: %v", i, c)
		}
	}
	return nil
}
