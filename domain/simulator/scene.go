// Package simulator runs the render, reconstruct and publish loop.
package simulator

import (
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/WVU-ASEL/glidar/pkg/config"
	"github.com/WVU-ASEL/glidar/pkg/kinematics"
	"github.com/WVU-ASEL/glidar/pkg/mesh"
	"github.com/WVU-ASEL/glidar/pkg/pcd"
	"github.com/WVU-ASEL/glidar/pkg/wire"
)

// Scene is one mesh and the pose it is seen from. It is owned by the loop
// goroutine.
type Scene struct {
	Mesh  *mesh.Mesh
	Scale float64

	Object      quat.Number
	Translation r3.Vec
	Sensor      quat.Number

	ObjectRate  r3.Vec // rad/s
	SensorRate  r3.Vec
	CameraSpeed float64 // units/s for forward and back
}

// NewScene places m at the given pose.
func NewScene(m *mesh.Mesh, scale float64, pose config.PoseConfig) *Scene {
	s := &Scene{Mesh: m, Scale: scale}
	s.ApplyPose(pose)
	return s
}

// ApplyPose replaces attitude, translation and rates from configuration.
func (s *Scene) ApplyPose(p config.PoseConfig) {
	s.Object = kinematics.FromEuler(p.Object.Roll, p.Object.Pitch, p.Object.Yaw)
	s.Sensor = kinematics.FromEuler(p.Sensor.Roll, p.Sensor.Pitch, p.Sensor.Yaw)
	s.Translation = vec(p.Translation)
	s.ObjectRate = vec(p.ObjectRate)
	s.SensorRate = vec(p.SensorRate)
	s.CameraSpeed = p.CameraSpeed
}

// ApplyComponents takes the pose sent by a physics source.
func (s *Scene) ApplyComponents(v wire.PoseComponents) {
	s.Object = kinematics.Normalize(quatOf(v.Object))
	s.Sensor = kinematics.Normalize(quatOf(v.Sensor))
	s.Translation = r3.Vec{X: v.Translation[0], Y: v.Translation[1], Z: v.Translation[2]}
}

// Components returns the current pose in wire form.
func (s *Scene) Components(timestamp uint64) wire.PoseComponents {
	return wire.PoseComponents{
		Timestamp:   timestamp,
		Object:      kinematics.Components(s.Object),
		Translation: [3]float64{s.Translation.X, s.Translation.Y, s.Translation.Z},
		Sensor:      kinematics.Components(s.Sensor),
	}
}

// Step integrates both attitudes over dt seconds.
func (s *Scene) Step(dt float64) {
	s.Object = kinematics.Change(s.Object, s.ObjectRate, dt)
	s.Sensor = kinematics.Change(s.Sensor, s.SensorRate, dt)
}

// Move shifts the object along the translation z axis.
func (s *Scene) Move(dz float64) {
	s.Translation.Z += dz
}

// ModelView is the render transform, including the mesh scale.
func (s *Scene) ModelView() mgl64.Mat4 {
	view := kinematics.ViewMatrix(s.Translation, s.Sensor)
	return view.Mul4(kinematics.ModelMatrix(s.Object, s.Scale))
}

// Transform is the ground truth saved with a frame.
func (s *Scene) Transform(timestamp uint64) pcd.Transform {
	return pcd.Transform{
		ModelView:  kinematics.ModelViewWithoutScaling(s.Object, s.Translation, s.Sensor),
		Components: s.Components(timestamp),
	}
}

func vec(v config.Vector3) r3.Vec {
	return r3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}

func quatOf(c [4]float64) quat.Number {
	return quat.Number{Real: c[0], Imag: c[1], Jmag: c[2], Kmag: c[3]}
}
