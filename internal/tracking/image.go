package tracking

// yuvImage is a YUV 4:2:0 image held in plain byte slices.
type yuvImage struct {
	w, h   int
	planes []Plane
	closed bool
}

// NewSyntheticImage builds a w×h YUV 4:2:0 test pattern: a luma gradient
// offset by seed with flat chroma.
func NewSyntheticImage(w, h int, seed byte) Image {
	y := make([]byte, w*h)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			y[row*w+col] = byte(col+row) + seed
		}
	}
	cw, ch := (w+1)/2, (h+1)/2
	u := make([]byte, cw*ch)
	v := make([]byte, cw*ch)
	for i := range u {
		u[i] = 128
		v[i] = 128
	}
	return &yuvImage{
		w: w,
		h: h,
		planes: []Plane{
			{Data: y, RowStride: w, PixelStride: 1},
			{Data: u, RowStride: cw, PixelStride: 1},
			{Data: v, RowStride: cw, PixelStride: 1},
		},
	}
}

func (i *yuvImage) Width() int      { return i.w }
func (i *yuvImage) Height() int     { return i.h }
func (i *yuvImage) Planes() []Plane { return i.planes }

func (i *yuvImage) Close() error {
	i.closed = true
	i.planes = nil
	return nil
}
