// Package clip derives near and far clip planes that tightly bracket the
// rendered mesh from the sensor's current position.
package clip

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/WVU-ASEL/glidar/pkg/kinematics"
)

const (
	// MinNearPlane is the smallest near plane the solver will return.
	MinNearPlane = 0.1
	// NearPlaneFactor pulls the near plane slightly toward the sensor.
	NearPlaneFactor = 0.99
	// FarPlaneFactor pushes the far plane slightly away from the sensor.
	FarPlaneFactor = 1.01
)

// ErrNoSurface is returned when the index has nothing to bound.
var ErrNoSurface = errors.New("clip: index returned no surface point")

// PointIndex is the nearest-point query the solver needs.
type PointIndex interface {
	Nearest(q r3.Vec) (r3.Vec, float64, bool)
}

// Params holds the floor and safety margins.
type Params struct {
	MinNearPlane float64
	NearFactor   float64
	FarFactor    float64
}

// DefaultParams returns the stock floor and margins.
func DefaultParams() Params {
	return Params{MinNearPlane: MinNearPlane, NearFactor: NearPlaneFactor, FarFactor: FarPlaneFactor}
}

// Planes is the solver output for one pose.
type Planes struct {
	Near       float64 // near plane handed to the projection
	Far        float64
	NearBound  float64 // clamped depth of the nearest surface point
	FarBound   float64
	RawNear    float64 // unclamped depth of the nearest surface point
	Degenerate bool    // RawNear was not positive and the floor was used
}

func (p Planes) String() string {
	return fmt.Sprintf("near=%.6g far=%.6g (bounds %.6g..%.6g)", p.Near, p.Far, p.NearBound, p.FarBound)
}

// Solver computes clip planes. It keeps no state between calls.
type Solver struct {
	index  PointIndex
	params Params
}

// NewSolver returns a solver over index. Zero fields in params take defaults.
func NewSolver(index PointIndex, params Params) *Solver {
	def := DefaultParams()
	if params.MinNearPlane <= 0 {
		params.MinNearPlane = def.MinNearPlane
	}
	if params.NearFactor <= 0 {
		params.NearFactor = def.NearFactor
	}
	if params.FarFactor <= 0 {
		params.FarFactor = def.FarFactor
	}
	return &Solver{index: index, params: params}
}

// Solve bounds the mesh for the given model-view transform. The sensor
// position in model coordinates is recovered from modelView, the nearest
// vertex gives the near bound and the vertex nearest the antipodal point
// gives the far bound. Depths are measured along the view axis.
func (s *Solver) Solve(modelView mgl64.Mat4) (Planes, error) {
	sensor := kinematics.SensorInModel(modelView)

	nearPoint, _, ok := s.index.Nearest(sensor)
	if !ok {
		return Planes{}, ErrNoSurface
	}
	farPoint, _, ok := s.index.Nearest(r3.Scale(-1, sensor))
	if !ok {
		return Planes{}, ErrNoSurface
	}

	var p Planes
	p.RawNear = depth(modelView, nearPoint)
	p.NearBound = p.RawNear
	if p.NearBound < s.params.MinNearPlane {
		p.Degenerate = p.RawNear <= 0
		p.NearBound = s.params.MinNearPlane
	}

	p.FarBound = depth(modelView, farPoint)
	if p.FarBound < p.NearBound {
		p.FarBound = p.NearBound
	}

	p.Near = p.NearBound * s.params.NearFactor
	if p.Near < s.params.MinNearPlane {
		p.Near = s.params.MinNearPlane
	}
	p.Far = p.FarBound * s.params.FarFactor
	if p.Far <= p.Near {
		p.Far = p.Near + s.params.MinNearPlane
	}
	return p, nil
}

// depth is the distance in front of the sensor along -Z in eye space.
func depth(modelView mgl64.Mat4, p r3.Vec) float64 {
	return -kinematics.TransformPoint(modelView, p).Z
}
