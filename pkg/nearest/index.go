// Package nearest answers nearest-vertex queries against a static point set.
//
// Each Index wraps a gonum kd-tree. Queries are approximate: the search
// prunes branches that cannot beat the current best by more than a factor of
// (1+Epsilon), and stops descending once MaxChecks nodes have been visited.
package nearest

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrEmpty is returned when an index is built from no points.
var ErrEmpty = errors.New("nearest: no points to index")

// Params bounds the approximate search.
type Params struct {
	Epsilon   float64 // 0 means exact pruning
	MaxChecks int     // node visits per query; <= 0 means unbounded
}

// DefaultParams matches the search budget used by the simulator.
var DefaultParams = Params{Epsilon: 0, MaxChecks: 128}

// Index is an immutable kd-tree over one set of points.
type Index struct {
	tree   *kdtree.Tree
	params Params
	size   int
}

// Build constructs an index over points. The slice is copied.
func Build(points []r3.Vec, params Params) (*Index, error) {
	if len(points) == 0 {
		return nil, ErrEmpty
	}
	pts := make(kdtree.Points, len(points))
	for i, p := range points {
		pts[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	return &Index{
		tree:   kdtree.New(pts, false),
		params: params,
		size:   len(points),
	}, nil
}

// Len returns the number of indexed points.
func (ix *Index) Len() int {
	return ix.size
}

// Nearest returns the closest indexed point to q and its Euclidean distance.
func (ix *Index) Nearest(q r3.Vec) (r3.Vec, float64, bool) {
	k := newBudgetKeeper(ix.params)
	ix.tree.NearestSet(k, kdtree.Point{q.X, q.Y, q.Z})
	if k.Len() == 0 {
		return r3.Vec{}, math.Inf(1), false
	}
	best := k.Heap[0]
	p, ok := best.Comparable.(kdtree.Point)
	if !ok {
		return r3.Vec{}, math.Inf(1), false
	}
	return r3.Vec{X: p[0], Y: p[1], Z: p[2]}, math.Sqrt(best.Dist), true
}

// budgetKeeper retains the single best candidate. Its reported maximum is
// shrunk by (1+ε)² so the tree prunes more aggressively, and collapses once
// the node budget is spent so no further branches are entered.
type budgetKeeper struct {
	kdtree.Heap
	shrink    float64
	maxChecks int
	checks    int
}

func newBudgetKeeper(p Params) *budgetKeeper {
	eps := math.Max(p.Epsilon, 0)
	return &budgetKeeper{
		Heap:      kdtree.Heap{{Comparable: nil, Dist: math.Inf(1)}},
		shrink:    1 / ((1 + eps) * (1 + eps)),
		maxChecks: p.MaxChecks,
	}
}

// Keep records c when it improves on the current best.
func (k *budgetKeeper) Keep(c kdtree.ComparableDist) {
	if k.exhausted() {
		return
	}
	k.checks++
	if c.Dist < k.Heap[0].Dist {
		k.Heap[0] = c
	}
}

// Max reports the pruning radius used by the tree search.
func (k *budgetKeeper) Max() kdtree.ComparableDist {
	best := k.Heap[0]
	if k.exhausted() {
		return kdtree.ComparableDist{Comparable: best.Comparable, Dist: -1}
	}
	return kdtree.ComparableDist{Comparable: best.Comparable, Dist: best.Dist * k.shrink}
}

func (k *budgetKeeper) exhausted() bool {
	return k.maxChecks > 0 && k.checks >= k.maxChecks
}
