// Package raster is a software stand-in for the GPU pass: it draws a mesh
// into an RGBA framebuffer whose red channel carries intensity and whose
// green/blue channels carry a 16-bit linear depth.
package raster

import (
	"image"
	"image/color"
	"math"
)

// DepthScale is the number of steps in the encoded depth.
const DepthScale = 65536

// Framebuffer is an RGBA8 colour buffer plus a float depth buffer. Row 0 is
// the bottom of the image, as with glReadPixels.
type Framebuffer struct {
	Width  int
	Height int
	Pix    []uint8   // RGBA interleaved, len = W*H*4
	Depth  []float64 // eye-space distance per pixel, +Inf when empty
}

// NewFramebuffer allocates a cleared framebuffer.
func NewFramebuffer(w, h int) *Framebuffer {
	fb := &Framebuffer{
		Width:  w,
		Height: h,
		Pix:    make([]uint8, w*h*4),
		Depth:  make([]float64, w*h),
	}
	fb.Clear()
	return fb
}

// Clear resets colour to black and depth to +Inf.
func (fb *Framebuffer) Clear() {
	for i := range fb.Pix {
		fb.Pix[i] = 0
	}
	for i := range fb.Depth {
		fb.Depth[i] = math.Inf(1)
	}
}

// Offset returns the index of the red byte of pixel (col, row).
func (fb *Framebuffer) Offset(col, row int) int {
	return 4 * (row*fb.Width + col)
}

// Set writes an intensity and normalized depth into pixel (col, row).
func (fb *Framebuffer) Set(col, row int, intensity, t float64) {
	o := fb.Offset(col, row)
	g, b := EncodeDepth(t)
	fb.Pix[o] = uint8(math.Round(clamp01(intensity) * 255))
	fb.Pix[o+1] = g
	fb.Pix[o+2] = b
	fb.Pix[o+3] = 255
}

// EncodeDepth splits t in (0,1] into a high and low byte. Any positive t
// encodes to a non-zero value so that zero stays reserved for background.
func EncodeDepth(t float64) (g, b uint8) {
	if t <= 0 {
		return 0, 0
	}
	v := math.Round(t * DepthScale)
	if v < 1 {
		v = 1
	}
	if v > DepthScale-1 {
		v = DepthScale - 1
	}
	u := uint16(v)
	return uint8(u >> 8), uint8(u)
}

// DecodeDepth recovers the normalized depth from the green and blue bytes.
func DecodeDepth(g, b uint8) float64 {
	return float64(uint16(g)<<8|uint16(b)) / DepthScale
}

// Image returns the framebuffer as an upright NRGBA image, flipping rows so
// that row 0 of the framebuffer becomes the bottom line.
func (fb *Framebuffer) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, fb.Width, fb.Height))
	for row := 0; row < fb.Height; row++ {
		y := fb.Height - 1 - row
		for col := 0; col < fb.Width; col++ {
			o := fb.Offset(col, row)
			img.SetNRGBA(col, y, color.NRGBA{R: fb.Pix[o], G: fb.Pix[o+1], B: fb.Pix[o+2], A: 255})
		}
	}
	return img
}

// Hits counts pixels with a non-zero encoded depth.
func (fb *Framebuffer) Hits() int {
	n := 0
	for i := 0; i < len(fb.Pix); i += 4 {
		if fb.Pix[i+1] != 0 || fb.Pix[i+2] != 0 {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
