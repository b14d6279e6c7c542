package wire

import "github.com/go-gl/mathgl/mgl64"

// RowMajor flattens a GL (column-major) matrix into wire order.
func RowMajor(m mgl64.Mat4) [16]float32 {
	var out [16]float32
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[4*r+c] = float32(m.At(r, c))
		}
	}
	return out
}

// FromRowMajor rebuilds a GL matrix from wire order.
func FromRowMajor(v [16]float32) mgl64.Mat4 {
	var m mgl64.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, float64(v[4*r+c]))
		}
	}
	return m
}
