// Package depth turns a depth-encoded framebuffer back into XYZI points in
// the sensor frame.
package depth

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/WVU-ASEL/glidar/pkg/raster"
)

// Mode selects how a pixel's range is recovered.
type Mode string

const (
	// ModeAnalytic places each point on its pixel ray at exactly the decoded
	// linear depth.
	ModeAnalytic Mode = "analytic"
	// ModeUnproject uses the unprojected window coordinate directly.
	ModeUnproject Mode = "unproject"
)

// ErrViewport is returned when the framebuffer does not match the snapshot.
var ErrViewport = errors.New("depth: framebuffer does not match snapshot viewport")

// ParseMode accepts "analytic" or "unproject"; empty means analytic.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAnalytic:
		return ModeAnalytic, nil
	case ModeUnproject:
		return ModeUnproject, nil
	}
	return "", fmt.Errorf("depth: unknown mode %q", s)
}

// Snapshot is the render state captured alongside a framebuffer.
type Snapshot struct {
	Projection mgl64.Mat4
	ModelView  mgl64.Mat4
	Near       float64
	Far        float64
	Width      int
	Height     int
}

// Options control reconstruction output.
type Options struct {
	Mode      Mode
	Organized bool // emit NaN quadruples for background pixels
}

// axisFlip maps eye space (looking down -Z) to the output frame where z is
// the positive range.
var axisFlip = mgl64.Scale3D(-1, 1, -1)

// Reconstruct decodes fb into dst, reusing its storage when large enough,
// and returns the quadruple slice and the number of points written. A frame
// with no returns yields zero points and no error.
func Reconstruct(fb *raster.Framebuffer, snap Snapshot, opts Options, dst []float32) ([]float32, int, error) {
	if fb.Width != snap.Width || fb.Height != snap.Height || len(fb.Pix) < snap.Width*snap.Height*4 {
		return dst[:0], 0, fmt.Errorf("%w: %dx%d vs %dx%d", ErrViewport, fb.Width, fb.Height, snap.Width, snap.Height)
	}
	total := snap.Width * snap.Height
	if cap(dst) < total*4 {
		dst = make([]float32, 0, total*4)
	}
	dst = dst[:0]

	inv := snap.Projection.Inv()
	span := snap.Far - snap.Near
	nan := float32(math.NaN())

	count := 0
	for row := 0; row < snap.Height; row++ {
		for col := 0; col < snap.Width; col++ {
			o := fb.Offset(col, row)
			t := raster.DecodeDepth(fb.Pix[o+1], fb.Pix[o+2])
			if t == 0 {
				if opts.Organized {
					dst = append(dst, nan, nan, nan, nan)
					count++
				}
				continue
			}

			d := t*span + snap.Near
			win := mgl64.Vec3{float64(col) + 0.5, float64(row) + 0.5, WindowDepth(snap.Projection, d)}
			p := unproject(inv, win, snap.Width, snap.Height)
			if opts.Mode != ModeUnproject && p[2] != 0 {
				p = p.Mul(d / -p[2])
			}
			p = mgl64.TransformCoordinate(p, axisFlip)

			dst = append(dst, float32(p[0]), float32(p[1]), float32(p[2]), float32(fb.Pix[o])/255)
			count++
		}
	}
	return dst, count, nil
}

// WindowDepth returns the [0,1] window depth of an eye-space distance d in
// front of the camera under projection p.
func WindowDepth(p mgl64.Mat4, d float64) float64 {
	clip := p.Mul4x1(mgl64.Vec4{0, 0, -d, 1})
	return (clip[2]/clip[3] + 1) / 2
}

// unproject matches mgl64.UnProject with an identity model-view and a
// viewport at the origin, with the inverse projection precomputed.
func unproject(inv mgl64.Mat4, win mgl64.Vec3, width, height int) mgl64.Vec3 {
	in := mgl64.Vec4{
		2*win[0]/float64(width) - 1,
		2*win[1]/float64(height) - 1,
		2*win[2] - 1,
		1,
	}
	obj := inv.Mul4x1(in)
	return obj.Vec3().Mul(1 / obj[3])
}
