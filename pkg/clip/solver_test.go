package clip

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/WVU-ASEL/glidar/pkg/kinematics"
	"github.com/WVU-ASEL/glidar/pkg/nearest"
)

func cubeIndex(t *testing.T, half float64) *nearest.Multi {
	t.Helper()
	var pts []r3.Vec
	for _, x := range []float64{-half, half} {
		for _, y := range []float64{-half, half} {
			for _, z := range []float64{-half, half} {
				pts = append(pts, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	m, err := nearest.BuildMulti([][]r3.Vec{pts}, nearest.Params{})
	require.NoError(t, err)
	return m
}

func modelView(object quat.Number, translation r3.Vec, sensor quat.Number, scale float64) mgl64.Mat4 {
	return kinematics.ViewMatrix(translation, sensor).Mul4(kinematics.ModelMatrix(object, scale))
}

func TestSolveCubeOnAxis(t *testing.T) {
	s := NewSolver(cubeIndex(t, 1), Params{})
	p, err := s.Solve(modelView(kinematics.Identity, r3.Vec{Z: 10}, kinematics.Identity, 1))
	require.NoError(t, err)

	assert.InDelta(t, 9.0, p.NearBound, 1e-9)
	assert.InDelta(t, 11.0, p.FarBound, 1e-9)
	assert.InDelta(t, 9.0*NearPlaneFactor, p.Near, 1e-9)
	assert.InDelta(t, 11.0*FarPlaneFactor, p.Far, 1e-9)
	assert.False(t, p.Degenerate)
}

func TestSolveRespectsScale(t *testing.T) {
	s := NewSolver(cubeIndex(t, 1), Params{})
	p, err := s.Solve(modelView(kinematics.Identity, r3.Vec{Z: 10}, kinematics.Identity, 2))
	require.NoError(t, err)
	assert.InDelta(t, 8.0, p.NearBound, 1e-9)
	assert.InDelta(t, 12.0, p.FarBound, 1e-9)
}

func TestSolveInvariantsRandomPoses(t *testing.T) {
	rng := rand.New(rand.NewSource(20))
	s := NewSolver(cubeIndex(t, 1), Params{})

	for i := 0; i < 200; i++ {
		object := kinematics.FromEuler(rng.Float64()*360, rng.Float64()*360, rng.Float64()*360)
		sensor := kinematics.FromEuler(rng.Float64()*2, rng.Float64()*2, rng.Float64()*2)
		dist := 3 + rng.Float64()*100
		p, err := s.Solve(modelView(object, r3.Vec{Z: dist}, sensor, 1))
		require.NoError(t, err)

		assert.GreaterOrEqual(t, p.NearBound, MinNearPlane)
		assert.GreaterOrEqual(t, p.Near, MinNearPlane)
		assert.Greater(t, p.FarBound, p.NearBound)
		assert.Greater(t, p.Far, p.Near)
	}
}

func TestSolveSurfaceBehindSensorClampsToFloor(t *testing.T) {
	s := NewSolver(cubeIndex(t, 1), Params{})
	// object sits behind the sensor: translation points down +Z in eye space
	view := mgl64.Translate3D(0, 0, 10)
	p, err := s.Solve(view)
	require.NoError(t, err)

	assert.True(t, p.Degenerate)
	assert.Less(t, p.RawNear, 0.0)
	assert.Equal(t, MinNearPlane, p.NearBound)
	assert.Equal(t, MinNearPlane, p.Near)
	assert.Greater(t, p.Far, p.Near)
}

func TestSolveCustomParams(t *testing.T) {
	s := NewSolver(cubeIndex(t, 1), Params{MinNearPlane: 5, NearFactor: 0.5, FarFactor: 2})
	p, err := s.Solve(modelView(kinematics.Identity, r3.Vec{Z: 10}, kinematics.Identity, 1))
	require.NoError(t, err)
	assert.InDelta(t, 9.0, p.NearBound, 1e-9)
	// 9*0.5 falls under the floor
	assert.InDelta(t, 5.0, p.Near, 1e-9)
	assert.InDelta(t, 22.0, p.Far, 1e-9)
}

type emptyIndex struct{}

func (emptyIndex) Nearest(r3.Vec) (r3.Vec, float64, bool) { return r3.Vec{}, 0, false }

func TestSolveNoSurface(t *testing.T) {
	_, err := NewSolver(emptyIndex{}, Params{}).Solve(mgl64.Ident4())
	assert.ErrorIs(t, err, ErrNoSurface)
}
