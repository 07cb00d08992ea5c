package sampler

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/ar-recorder/recorder/internal/tracking"
	"golang.org/x/image/draw"
)

// copyYUV copies a camera image into an owned 4:2:0 YCbCr buffer. The source
// planes may be padded or interleaved; the copy is tightly packed.
func copyYUV(img tracking.Image) (*image.YCbCr, error) {
	w, h := img.Width(), img.Height()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", w, h)
	}
	planes := img.Planes()
	if len(planes) < 3 {
		return nil, fmt.Errorf("expected 3 planes, got %d", len(planes))
	}

	dst := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	cw, ch := (w+1)/2, (h+1)/2

	if err := copyPlane(dst.Y, dst.YStride, planes[0], w, h); err != nil {
		return nil, fmt.Errorf("luma plane: %w", err)
	}
	if err := copyPlane(dst.Cb, dst.CStride, planes[1], cw, ch); err != nil {
		return nil, fmt.Errorf("cb plane: %w", err)
	}
	if err := copyPlane(dst.Cr, dst.CStride, planes[2], cw, ch); err != nil {
		return nil, fmt.Errorf("cr plane: %w", err)
	}
	return dst, nil
}

func copyPlane(dst []byte, dstStride int, p tracking.Plane, w, h int) error {
	ps := max(p.PixelStride, 1)
	need := (h-1)*p.RowStride + (w-1)*ps + 1
	if p.RowStride < w*ps || len(p.Data) < need {
		return fmt.Errorf("plane too small: %d bytes, stride %d, need %d", len(p.Data), p.RowStride, need)
	}
	for row := 0; row < h; row++ {
		src := p.Data[row*p.RowStride:]
		out := dst[row*dstStride : row*dstStride+w]
		if ps == 1 {
			copy(out, src[:w])
			continue
		}
		for col := range out {
			out[col] = src[col*ps]
		}
	}
	return nil
}

// downscale returns src resized to maxWidth preserving aspect ratio, or src
// itself when no resize is needed.
func downscale(src image.Image, maxWidth int) image.Image {
	b := src.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return src
	}
	h := max(b.Dy()*maxWidth/b.Dx(), 1)
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// writeJPEG encodes img to path via a temporary file so a failed encode
// never leaves a truncated frame behind.
func writeJPEG(path string, img image.Image, quality int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frame-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp frame: %w", err)
	}
	tmpName := tmp.Name()

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: quality}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encoding jpeg: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp frame: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming frame: %w", err)
	}
	return nil
}
