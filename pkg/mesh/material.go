package mesh

import (
	"bufio"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/ftrvxmtrx/tga"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// loadMTL parses newmtl/Kd/map_Kd entries. Texture decode failures fall back
// to the diffuse colour.
func (m *Mesh) loadMTL(path string) ([]Material, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		mats []Material
		cur  *Material
		dir  = filepath.Dir(path)
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "newmtl":
			mats = append(mats, Material{Name: fields[1], Diffuse: [3]float64{1, 1, 1}})
			cur = &mats[len(mats)-1]
		case "Kd":
			if cur == nil || len(fields) < 4 {
				continue
			}
			for i := 0; i < 3; i++ {
				if v, err := strconv.ParseFloat(fields[i+1], 64); err == nil {
					cur.Diffuse[i] = v
				}
			}
		case "map_Kd":
			if cur == nil {
				continue
			}
			// options may precede the file name; it is always last
			cur.Texture = filepath.Join(dir, fields[len(fields)-1])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for i := range mats {
		mats[i].Reflectance = luminance(mats[i].Diffuse)
		if mats[i].Texture == "" {
			continue
		}
		r, err := TextureReflectance(mats[i].Texture)
		if err != nil {
			m.logger.Warnf("Texture for material %s unusable, using Kd: %v", mats[i].Name, err)
			continue
		}
		mats[i].Reflectance = r * mats[i].Reflectance
	}
	return mats, nil
}

// TextureReflectance decodes an image and returns its mean luminance in [0,1].
// TGA, BMP, TIFF, PNG and JPEG are supported.
func TextureReflectance(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return 0, fmt.Errorf("decode %s: empty %s image", path, format)
	}

	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum += luminance([3]float64{float64(r) / 0xffff, float64(g) / 0xffff, float64(bl) / 0xffff})
		}
	}
	return sum / float64(b.Dx()*b.Dy()), nil
}

func luminance(c [3]float64) float64 {
	l := 0.2126*c[0] + 0.7152*c[1] + 0.0722*c[2]
	if l < 0 {
		return 0
	}
	if l > 1 {
		return 1
	}
	return l
}
