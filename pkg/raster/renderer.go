package raster

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/WVU-ASEL/glidar/pkg/mesh"
)

// Attenuation coefficients for returned intensity over range.
const (
	AttenuationLinear    = 0.0001
	AttenuationQuadratic = 1e-8
)

// edgeTolerance keeps pixel centres on a shared edge from being missed by
// both triangles.
const edgeTolerance = 1e-9

// Uniforms are the per-frame inputs of a draw.
type Uniforms struct {
	ModelView  mgl64.Mat4 // includes mesh scale
	Projection mgl64.Mat4
	Normal     mgl64.Mat3
	Near       float64
	Far        float64
}

// Renderer draws meshes into one reusable framebuffer. It is not safe for
// concurrent use.
type Renderer struct {
	fb *Framebuffer

	// scratch, reused across parts
	eye    []mgl64.Vec3
	screen []mgl64.Vec3
	normal []mgl64.Vec3
}

// NewRenderer allocates a w×h target.
func NewRenderer(w, h int) *Renderer {
	return &Renderer{fb: NewFramebuffer(w, h)}
}

// Framebuffer returns the render target.
func (r *Renderer) Framebuffer() *Framebuffer {
	return r.fb
}

// Render clears the target and draws every part of m. Triangles that cross
// the near plane are dropped; depth outside (near, far] is discarded per
// pixel.
func (r *Renderer) Render(m *mesh.Mesh, u Uniforms) *Framebuffer {
	r.fb.Clear()
	if m == nil || u.Far <= u.Near {
		return r.fb
	}
	for i := range m.Parts {
		r.drawPart(&m.Parts[i], m.MaterialFor(i).Reflectance, u)
	}
	return r.fb
}

func (r *Renderer) drawPart(p *mesh.Part, reflectance float64, u Uniforms) {
	n := len(p.Vertices)
	r.eye = grow(r.eye, n)
	r.screen = grow(r.screen, n)
	hasNormals := len(p.Normals) == n
	if hasNormals {
		r.normal = grow(r.normal, n)
	}

	w, h := float64(r.fb.Width), float64(r.fb.Height)
	for i, v := range p.Vertices {
		e := u.ModelView.Mul4x1(mgl64.Vec4{v.X, v.Y, v.Z, 1})
		r.eye[i] = e.Vec3()
		c := u.Projection.Mul4x1(e)
		if c[3] <= 0 {
			// behind the sensor; marked by a NaN screen position
			r.screen[i] = mgl64.Vec3{math.NaN(), math.NaN(), math.NaN()}
		} else {
			r.screen[i] = mgl64.Vec3{
				(c[0]/c[3] + 1) * 0.5 * w,
				(c[1]/c[3] + 1) * 0.5 * h,
				-e[2],
			}
		}
		if hasNormals {
			nv := p.Normals[i]
			r.normal[i] = u.Normal.Mul3x1(mgl64.Vec3{nv.X, nv.Y, nv.Z})
		}
	}

	for t := 0; t+2 < len(p.Indices); t += 3 {
		a, b, c := p.Indices[t], p.Indices[t+1], p.Indices[t+2]
		if int(a) >= n || int(b) >= n || int(c) >= n {
			continue
		}
		r.drawTriangle([3]uint32{a, b, c}, hasNormals, reflectance, u)
	}
}

func (r *Renderer) drawTriangle(vi [3]uint32, hasNormals bool, reflectance float64, u Uniforms) {
	s0, s1, s2 := r.screen[vi[0]], r.screen[vi[1]], r.screen[vi[2]]
	// depth is the eye-space distance along the view axis
	d0, d1, d2 := s0[2], s1[2], s2[2]
	if math.IsNaN(s0[0]) || math.IsNaN(s1[0]) || math.IsNaN(s2[0]) {
		return
	}
	if d0 < u.Near || d1 < u.Near || d2 < u.Near {
		return
	}

	// Barycentric setup
	det := (s1[1]-s2[1])*(s0[0]-s2[0]) + (s2[0]-s1[0])*(s0[1]-s2[1])
	if det > -1e-12 && det < 1e-12 {
		return
	}
	invDet := 1.0 / det

	var faceNormal mgl64.Vec3
	if !hasNormals {
		e0, e1, e2 := r.eye[vi[0]], r.eye[vi[1]], r.eye[vi[2]]
		faceNormal = e1.Sub(e0).Cross(e2.Sub(e0))
		if faceNormal.Len() < 1e-12 {
			return
		}
		faceNormal = faceNormal.Normalize()
	}

	minX := int(math.Floor(math.Min(math.Min(s0[0], s1[0]), s2[0])))
	maxX := int(math.Ceil(math.Max(math.Max(s0[0], s1[0]), s2[0])))
	minY := int(math.Floor(math.Min(math.Min(s0[1], s1[1]), s2[1])))
	maxY := int(math.Ceil(math.Max(math.Max(s0[1], s1[1]), s2[1])))
	if minX < 0 {
		minX = 0
	}
	if maxX >= r.fb.Width {
		maxX = r.fb.Width - 1
	}
	if minY < 0 {
		minY = 0
	}
	if maxY >= r.fb.Height {
		maxY = r.fb.Height - 1
	}

	span := u.Far - u.Near
	for row := minY; row <= maxY; row++ {
		py := float64(row) + 0.5
		for col := minX; col <= maxX; col++ {
			px := float64(col) + 0.5

			l0 := ((s1[1]-s2[1])*(px-s2[0]) + (s2[0]-s1[0])*(py-s2[1])) * invDet
			l1 := ((s2[1]-s0[1])*(px-s2[0]) + (s0[0]-s2[0])*(py-s2[1])) * invDet
			l2 := 1 - l0 - l1
			if l0 < -edgeTolerance || l1 < -edgeTolerance || l2 < -edgeTolerance {
				continue
			}

			// perspective-correct interpolation of 1/depth
			w0, w1, w2 := l0/d0, l1/d1, l2/d2
			inv := w0 + w1 + w2
			d := 1 / inv
			t := (d - u.Near) / span
			if t <= 0 || t > 1 {
				continue
			}
			idx := row*r.fb.Width + col
			if d >= r.fb.Depth[idx] {
				continue
			}

			nrm := faceNormal
			if hasNormals {
				nrm = r.normal[vi[0]].Mul(w0).Add(r.normal[vi[1]].Mul(w1)).Add(r.normal[vi[2]].Mul(w2))
				if l := nrm.Len(); l > 0 {
					nrm = nrm.Mul(1 / l)
				}
			}
			pos := r.eye[vi[0]].Mul(w0 * d).Add(r.eye[vi[1]].Mul(w1 * d)).Add(r.eye[vi[2]].Mul(w2 * d))

			r.fb.Depth[idx] = d
			r.fb.Set(col, row, Intensity(nrm, pos, reflectance), t)
		}
	}
}

// Intensity is the return strength of a surface point lit from the sensor
// origin: the cosine of incidence scaled by reflectance and range falloff.
func Intensity(normal, pos mgl64.Vec3, reflectance float64) float64 {
	dist := pos.Len()
	if dist == 0 {
		return clamp01(reflectance)
	}
	toSensor := pos.Mul(-1 / dist)
	cos := math.Abs(normal.Dot(toSensor))
	atten := 1 / (1 + AttenuationLinear*dist + AttenuationQuadratic*dist*dist)
	return clamp01(cos * reflectance * atten)
}

func grow(s []mgl64.Vec3, n int) []mgl64.Vec3 {
	if cap(s) < n {
		return make([]mgl64.Vec3, n)
	}
	return s[:n]
}
