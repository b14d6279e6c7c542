// Package preview turns a rendered framebuffer into a small image that can
// be served or written next to a saved cloud.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/draw"

	"github.com/WVU-ASEL/glidar/pkg/raster"
)

// Format is the preview image encoding.
type Format string

const (
	WebP Format = "webp"
	TGA  Format = "tga"
	None Format = "none"
)

// ParseFormat accepts webp, tga or none; empty means webp.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", WebP:
		return WebP, nil
	case TGA:
		return TGA, nil
	case None:
		return None, nil
	}
	return "", fmt.Errorf("preview: unknown format %q", s)
}

// ContentType is the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case WebP:
		return "image/webp"
	case TGA:
		return "image/x-tga"
	}
	return "application/octet-stream"
}

// Extension is the file suffix for f, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Scale enlarges img by an integer factor with nearest-neighbour sampling
// so individual sensor pixels stay visible.
func Scale(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case WebP:
		return nativewebp.Encode(w, img, nil)
	case TGA:
		return tga.Encode(w, img)
	}
	return fmt.Errorf("preview: cannot encode format %q", f)
}

// Render encodes the framebuffer, top row first, at the given scale.
func Render(fb *raster.Framebuffer, f Format, scale int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, Scale(fb.Image(), scale), f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
