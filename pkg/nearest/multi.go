package nearest

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Multi merges independently built indices, one per mesh part.
type Multi struct {
	parts []*Index
}

// BuildMulti builds one sub-index per non-empty point set.
func BuildMulti(parts [][]r3.Vec, params Params) (*Multi, error) {
	m := &Multi{}
	for _, pts := range parts {
		if len(pts) == 0 {
			continue
		}
		ix, err := Build(pts, params)
		if err != nil {
			return nil, err
		}
		m.parts = append(m.parts, ix)
	}
	if len(m.parts) == 0 {
		return nil, ErrEmpty
	}
	return m, nil
}

// Parts returns the number of sub-indices.
func (m *Multi) Parts() int {
	return len(m.parts)
}

// Nearest returns the globally closest point across all parts.
func (m *Multi) Nearest(q r3.Vec) (r3.Vec, float64, bool) {
	var (
		best  r3.Vec
		bestD = math.Inf(1)
		found bool
	)
	for _, ix := range m.parts {
		p, d, ok := ix.Nearest(q)
		if ok && d < bestD {
			best, bestD, found = p, d, true
		}
	}
	return best, bestD, found
}
