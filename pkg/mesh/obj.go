package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// BuiltinCube is a model path that loads a unit cube instead of a file.
const BuiltinCube = "builtin:cube"

// Load reads an OBJ file (and its MTL library, if any) and builds the index.
// Each object/group/material run becomes its own part.
func (m *Mesh) Load(path string) error {
	if path == BuiltinCube {
		m.logger.Infof("Loading built-in unit cube")
		return m.init([]Part{Cube(1)}, nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mesh: open %s: %w", path, err)
	}
	defer f.Close()

	parts, materials, err := m.parseOBJ(f, filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("mesh: parse %s: %w", path, err)
	}
	if err := m.init(parts, materials); err != nil {
		return fmt.Errorf("mesh: %s: %w", path, err)
	}

	dims := m.Dimensions()
	m.logger.Infof("Loaded %s: %d parts, %d vertices, %d triangles", path, len(m.Parts), m.VertexCount(), m.TriangleCount())
	m.logger.Infof("Object dimensions as modeled: %g %g %g", dims.X, dims.Y, dims.Z)
	m.logger.Infof("Center of object as modeled: %g %g %g", m.centroid.X, m.centroid.Y, m.centroid.Z)
	return nil
}

type vertexKey struct {
	v, vn int
}

// partBuilder accumulates one part, remapping global OBJ indices to local ones.
type partBuilder struct {
	part  Part
	remap map[vertexKey]uint32
}

func newPartBuilder(name string, material int) *partBuilder {
	return &partBuilder{
		part:  Part{Name: name, Material: material},
		remap: make(map[vertexKey]uint32),
	}
}

func (b *partBuilder) vertex(k vertexKey, positions, normals []r3.Vec) uint32 {
	if i, ok := b.remap[k]; ok {
		return i
	}
	i := uint32(len(b.part.Vertices))
	b.part.Vertices = append(b.part.Vertices, positions[k.v])
	if k.vn >= 0 {
		// pad so normals stay aligned with vertices
		for len(b.part.Normals) < int(i) {
			b.part.Normals = append(b.part.Normals, r3.Vec{})
		}
		b.part.Normals = append(b.part.Normals, normals[k.vn])
	}
	b.remap[k] = i
	return i
}

func (b *partBuilder) finish() (Part, bool) {
	if len(b.part.Indices) == 0 {
		return Part{}, false
	}
	if len(b.part.Normals) != len(b.part.Vertices) {
		b.part.Normals = nil
	}
	return b.part, true
}

func (m *Mesh) parseOBJ(r io.Reader, dir string) ([]Part, []Material, error) {
	var (
		positions []r3.Vec
		normals   []r3.Vec
		parts     []Part
		materials []Material
		matIndex  = map[string]int{}
		name      = "default"
		material  = NoMaterial
		cur       = newPartBuilder(name, material)
	)

	flush := func() {
		if p, ok := cur.finish(); ok {
			parts = append(parts, p)
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		switch fields[0] {
		case "v":
			p, err := parseVec(fields[1:])
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", line, err)
			}
			positions = append(positions, p)
		case "vn":
			n, err := parseVec(fields[1:])
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", line, err)
			}
			normals = append(normals, n)
		case "o", "g":
			flush()
			if len(fields) > 1 {
				name = strings.Join(fields[1:], " ")
			}
			cur = newPartBuilder(name, material)
		case "usemtl":
			if len(fields) < 2 {
				continue
			}
			id, ok := matIndex[fields[1]]
			if !ok {
				m.logger.Warnf("Material %q used before definition; using default", fields[1])
				id = NoMaterial
			}
			if id != cur.part.Material {
				flush()
				material = id
				cur = newPartBuilder(name, material)
			}
		case "mtllib":
			for _, lib := range fields[1:] {
				mats, err := m.loadMTL(filepath.Join(dir, lib))
				if err != nil {
					m.logger.Warnf("Skipping material library %s: %v", lib, err)
					continue
				}
				for _, mat := range mats {
					matIndex[mat.Name] = len(materials)
					materials = append(materials, mat)
				}
			}
		case "f":
			if len(fields) < 4 {
				return nil, nil, fmt.Errorf("line %d: face needs at least 3 vertices", line)
			}
			keys := make([]vertexKey, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				k, err := parseFaceVertex(tok, len(positions), len(normals))
				if err != nil {
					return nil, nil, fmt.Errorf("line %d: %w", line, err)
				}
				keys = append(keys, k)
			}
			// fan triangulation
			first := cur.vertex(keys[0], positions, normals)
			for i := 1; i+1 < len(keys); i++ {
				b := cur.vertex(keys[i], positions, normals)
				c := cur.vertex(keys[i+1], positions, normals)
				cur.part.Indices = append(cur.part.Indices, first, b, c)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	flush()

	if len(parts) == 0 {
		return nil, nil, ErrNoGeometry
	}
	return parts, materials, nil
}

func parseVec(fields []string) (r3.Vec, error) {
	if len(fields) < 3 {
		return r3.Vec{}, fmt.Errorf("expected 3 components, got %d", len(fields))
	}
	var c [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return r3.Vec{}, err
		}
		c[i] = v
	}
	return r3.Vec{X: c[0], Y: c[1], Z: c[2]}, nil
}

// parseFaceVertex decodes v, v/vt, v//vn or v/vt/vn into zero-based indices.
// Negative OBJ indices count back from the latest element.
func parseFaceVertex(tok string, nv, nn int) (vertexKey, error) {
	parts := strings.Split(tok, "/")
	v, err := resolveIndex(parts[0], nv)
	if err != nil {
		return vertexKey{}, fmt.Errorf("vertex %q: %w", tok, err)
	}
	k := vertexKey{v: v, vn: -1}
	if len(parts) == 3 && parts[2] != "" {
		vn, err := resolveIndex(parts[2], nn)
		if err != nil {
			return vertexKey{}, fmt.Errorf("normal %q: %w", tok, err)
		}
		k.vn = vn
	}
	return k, nil
}

func resolveIndex(s string, n int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i += n
	default:
		return 0, fmt.Errorf("index 0 is invalid")
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("index out of range (have %d)", n)
	}
	return i, nil
}
