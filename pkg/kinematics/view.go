package kinematics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	negativeZ = r3.Vec{Z: -1}

	// Flip turns the model 180° about Y so its front faces the sensor.
	Flip = FromAngleAxis(math.Pi, r3.Vec{Y: 1})

	yFlip = FromAngleAxis(math.Pi, r3.Vec{Y: 1})
	zFlip = FromAngleAxis(math.Pi/2, r3.Vec{Z: 1})
)

// Alignment is the rotation that carries the translation vector onto the
// nominal -Z viewing direction.
type Alignment struct {
	Axis     r3.Vec
	Angle    float64
	Fallback bool // axis was undefined and (0,1,0) was substituted
}

// Align computes the rotation between (0,0,-1) and translation. When the two
// are parallel, or translation is zero, the axis falls back to +Y. A zero
// translation also has zero angle.
func Align(translation r3.Vec) Alignment {
	length := r3.Norm(translation)
	if length == 0 {
		return Alignment{Axis: r3.Vec{Y: 1}, Fallback: true}
	}

	cos := r3.Dot(negativeZ, r3.Scale(1/length, translation))
	angle := math.Acos(math.Max(-1, math.Min(1, cos)))

	axis := r3.Cross(negativeZ, translation)
	n := r3.Norm(axis)
	if n == 0 {
		return Alignment{Axis: r3.Vec{Y: 1}, Angle: angle, Fallback: true}
	}
	return Alignment{Axis: r3.Scale(1/n, axis), Angle: angle}
}

// Rotation returns the quaternion that undoes the alignment angle.
func (a Alignment) Rotation() quat.Number {
	return FromAngleAxis(-a.Angle, a.Axis)
}

// ViewMatrix builds the view transform for a sensor at the given attitude
// looking at an object offset by translation. The translation is first
// rotated onto the -Z axis, then the fixed 180° yaw and 90° roll corrections
// and the sensor attitude are applied.
func ViewMatrix(translation r3.Vec, sensor quat.Number) mgl64.Mat4 {
	rotation := Align(translation).Rotation()
	adjusted := Rotate(rotation, translation)
	attitude := Compose(sensor, Compose(zFlip, Compose(yFlip, rotation)))

	return ToGL(attitude).Mat4().Mul4(mgl64.Translate3D(adjusted.X, adjusted.Y, adjusted.Z))
}

// ModelRotation is the object attitude composed with the fixed model flip.
func ModelRotation(object quat.Number) mgl64.Mat4 {
	return ToGL(Compose(object, Flip)).Mat4()
}

// ModelMatrix is the model transform including the uniform mesh scale.
func ModelMatrix(object quat.Number, scale float64) mgl64.Mat4 {
	return ModelRotation(object).Mul4(mgl64.Scale3D(scale, scale, scale))
}

// ModelViewWithoutScaling is the rigid object-to-sensor transform recorded as
// ground truth next to saved clouds.
func ModelViewWithoutScaling(object quat.Number, translation r3.Vec, sensor quat.Number) mgl64.Mat4 {
	return ViewMatrix(translation, sensor).Mul4(ModelRotation(object))
}

// Projection is a GL perspective projection with the field of view in degrees.
func Projection(fovDegrees, aspect, near, far float64) mgl64.Mat4 {
	return mgl64.Perspective(mgl64.DegToRad(fovDegrees), aspect, near, far)
}

// NormalMatrix is the inverse transpose of the upper 3x3 of modelView.
func NormalMatrix(modelView mgl64.Mat4) mgl64.Mat3 {
	return modelView.Mat3().Inv().Transpose()
}

// SensorInModel returns the sensor origin expressed in model-local coordinates.
func SensorInModel(modelView mgl64.Mat4) r3.Vec {
	p := modelView.Inv().Mul4x1(mgl64.Vec4{0, 0, 0, 1})
	if p[3] != 0 && p[3] != 1 {
		return r3.Vec{X: p[0] / p[3], Y: p[1] / p[3], Z: p[2] / p[3]}
	}
	return r3.Vec{X: p[0], Y: p[1], Z: p[2]}
}

// TransformPoint applies m to p with perspective division.
func TransformPoint(m mgl64.Mat4, p r3.Vec) r3.Vec {
	v := mgl64.TransformCoordinate(mgl64.Vec3{p.X, p.Y, p.Z}, m)
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}
