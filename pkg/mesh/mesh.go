// Package mesh holds triangle meshes loaded from Wavefront OBJ files along
// with the nearest-vertex index used to bound clip planes.
package mesh

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/nearest"
)

// NoMaterial marks a part without an assigned material.
const NoMaterial = -1

var (
	// ErrNotLoaded is returned by queries on a mesh with no geometry.
	ErrNotLoaded = errors.New("mesh: not loaded")
	// ErrNoGeometry is returned when a file contains no triangles.
	ErrNoGeometry = errors.New("mesh: no triangles")
)

// Material is the subset of a surface description the renderer uses.
type Material struct {
	Name        string
	Diffuse     [3]float64
	Texture     string  // resolved path of the diffuse map, if any
	Reflectance float64 // [0,1], scales returned intensity
}

// Part is one independently indexed piece of a mesh.
type Part struct {
	Name     string
	Vertices []r3.Vec
	Normals  []r3.Vec // per vertex; empty when the source had none
	Indices  []uint32 // triangle list
	Material int      // index into Mesh.Materials, or NoMaterial
}

// Triangles returns the number of triangles in the part.
func (p *Part) Triangles() int {
	return len(p.Indices) / 3
}

// Mesh owns its parts and materials. The nearest-point index is built once
// at load and never modified.
type Mesh struct {
	Parts     []Part
	Materials []Material

	min, max, centroid r3.Vec
	index              *nearest.Multi
	params             nearest.Params
	logger             customlog.Logger
}

// New returns an empty mesh that will index with params once loaded.
func New(params nearest.Params, logger customlog.Logger) *Mesh {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Mesh{params: params, logger: logger}
}

// FromParts builds a mesh directly from geometry.
func FromParts(parts []Part, materials []Material, params nearest.Params) (*Mesh, error) {
	m := New(params, nil)
	if err := m.init(parts, materials); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mesh) init(parts []Part, materials []Material) error {
	var (
		sets  [][]r3.Vec
		count int
		sum   r3.Vec
		tris  int
	)
	min := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}

	for i := range parts {
		tris += parts[i].Triangles()
		for _, v := range parts[i].Vertices {
			min = r3.Vec{X: math.Min(min.X, v.X), Y: math.Min(min.Y, v.Y), Z: math.Min(min.Z, v.Z)}
			max = r3.Vec{X: math.Max(max.X, v.X), Y: math.Max(max.Y, v.Y), Z: math.Max(max.Z, v.Z)}
			sum = r3.Add(sum, v)
			count++
		}
		sets = append(sets, parts[i].Vertices)
	}
	if count == 0 || tris == 0 {
		return ErrNoGeometry
	}

	index, err := nearest.BuildMulti(sets, m.params)
	if err != nil {
		return err
	}

	m.Parts = parts
	m.Materials = materials
	m.min, m.max = min, max
	m.centroid = r3.Scale(1/float64(count), sum)
	m.index = index
	return nil
}

// Loaded reports whether geometry is present.
func (m *Mesh) Loaded() bool {
	return m.index != nil
}

// Dimensions is the extent of the axis-aligned bounding box.
func (m *Mesh) Dimensions() r3.Vec {
	if !m.Loaded() {
		return r3.Vec{}
	}
	return r3.Sub(m.max, m.min)
}

// Bounds returns the bounding box corners.
func (m *Mesh) Bounds() (min, max r3.Vec) {
	return m.min, m.max
}

// Centroid is the mean of all vertex positions.
func (m *Mesh) Centroid() r3.Vec {
	return m.centroid
}

// NearestPoint returns the vertex closest to q across all parts.
func (m *Mesh) NearestPoint(q r3.Vec) (r3.Vec, float64, error) {
	if !m.Loaded() {
		return r3.Vec{}, math.Inf(1), ErrNotLoaded
	}
	p, d, _ := m.index.Nearest(q)
	return p, d, nil
}

// Nearest satisfies clip.PointIndex.
func (m *Mesh) Nearest(q r3.Vec) (r3.Vec, float64, bool) {
	if !m.Loaded() {
		return r3.Vec{}, math.Inf(1), false
	}
	return m.index.Nearest(q)
}

// MaterialFor returns the material of part i, or a white default.
func (m *Mesh) MaterialFor(i int) Material {
	id := m.Parts[i].Material
	if id < 0 || id >= len(m.Materials) {
		return Material{Name: "default", Diffuse: [3]float64{1, 1, 1}, Reflectance: 1}
	}
	return m.Materials[id]
}

// VertexCount returns the total vertices across parts.
func (m *Mesh) VertexCount() int {
	n := 0
	for i := range m.Parts {
		n += len(m.Parts[i].Vertices)
	}
	return n
}

// TriangleCount returns the total triangles across parts.
func (m *Mesh) TriangleCount() int {
	n := 0
	for i := range m.Parts {
		n += m.Parts[i].Triangles()
	}
	return n
}

// Cube returns a closed axis-aligned cube of the given half extent centred
// on the origin, wound counter-clockwise when seen from outside.
func Cube(half float64) Part {
	h := half
	v := []r3.Vec{
		{X: -h, Y: -h, Z: -h}, {X: h, Y: -h, Z: -h}, {X: h, Y: h, Z: -h}, {X: -h, Y: h, Z: -h},
		{X: -h, Y: -h, Z: h}, {X: h, Y: -h, Z: h}, {X: h, Y: h, Z: h}, {X: -h, Y: h, Z: h},
	}
	idx := []uint32{
		4, 5, 6, 4, 6, 7, // +z
		1, 0, 3, 1, 3, 2, // -z
		5, 1, 2, 5, 2, 6, // +x
		0, 4, 7, 0, 7, 3, // -x
		7, 6, 2, 7, 2, 3, // +y
		0, 1, 5, 0, 5, 4, // -y
	}
	return Part{Name: "cube", Vertices: v, Indices: idx, Material: NoMaterial}
}
