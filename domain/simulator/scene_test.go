package simulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/num/quat"

	"github.com/WVU-ASEL/glidar/pkg/config"
	"github.com/WVU-ASEL/glidar/pkg/wire"
)

func TestApplyComponentsNormalizes(t *testing.T) {
	s := &Scene{}
	s.ApplyComponents(wire.PoseComponents{
		Object:      [4]float64{2, 0, 0, 0},
		Translation: [3]float64{1, 2, 3},
		Sensor:      [4]float64{0, 0, 0, 0},
	})
	assert.InDelta(t, 1.0, quat.Abs(s.Object), 1e-12)
	assert.InDelta(t, 1.0, quat.Abs(s.Sensor), 1e-12, "zero maps to identity")

	v := s.Components(9)
	assert.Equal(t, uint64(9), v.Timestamp)
	assert.Equal(t, [3]float64{1, 2, 3}, v.Translation)
	assert.Equal(t, [4]float64{1, 0, 0, 0}, v.Object)
}

func TestApplyPoseFromDegrees(t *testing.T) {
	pose := config.DefaultPoseConfig()
	pose.Object.Yaw = 90
	pose.SensorRate = config.Vector3{Z: 0.25}

	s := &Scene{}
	s.ApplyPose(pose)
	assert.InDelta(t, 0.7071067811865476, s.Object.Real, 1e-12)
	assert.InDelta(t, 0.7071067811865476, s.Object.Kmag, 1e-12)
	assert.Equal(t, 0.25, s.SensorRate.Z)
	assert.Equal(t, 10.0, s.Translation.Z)
}

func TestTransformIsRigid(t *testing.T) {
	s := &Scene{Scale: 4}
	s.ApplyPose(config.DefaultPoseConfig())

	gt := s.Transform(1).ModelView
	assert.InDelta(t, 1.0, gt.Mat3().Det(), 1e-9)
	assert.InDelta(t, 64.0, s.ModelView().Mat3().Det(), 1e-9)
}
