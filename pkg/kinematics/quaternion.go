// Package kinematics integrates attitudes and builds the transforms used to
// place the object and sensor in a rendered scene.
//
// Attitudes are gonum quaternions, scalar first (Real is w). Matrices handed
// to the renderer are column-major mgl64 matrices, matching GL conventions.
package kinematics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Identity is the unit quaternion with no rotation.
var Identity = quat.Number{Real: 1}

// BigOmega returns the 4x4 skew matrix of the angular rate w, acting on a
// quaternion stored as (w, x, y, z). Ω(w)·q equals q ∘ (0, w).
func BigOmega(w r3.Vec) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		0, -w.X, -w.Y, -w.Z,
		w.X, 0, w.Z, -w.Y,
		w.Y, -w.Z, 0, w.X,
		w.Z, w.Y, -w.X, 0,
	})
}

// TimeDerivative returns Ω(w)·q.
func TimeDerivative(q quat.Number, w r3.Vec) quat.Number {
	var dq mat.VecDense
	dq.MulVec(BigOmega(w), mat.NewVecDense(4, []float64{q.Real, q.Imag, q.Jmag, q.Kmag}))
	return quat.Number{Real: dq.AtVec(0), Imag: dq.AtVec(1), Jmag: dq.AtVec(2), Kmag: dq.AtVec(3)}
}

// Change integrates q over dt at angular rate w and renormalizes the result.
func Change(q quat.Number, w r3.Vec, dt float64) quat.Number {
	return Normalize(quat.Add(q, quat.Scale(dt, TimeDerivative(q, w))))
}

// Normalize scales q to unit length. The zero quaternion maps to Identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return Identity
	}
	return quat.Scale(1/n, q)
}

// Compose returns the Hamilton product p ∘ q: rotating by q first, then by p.
func Compose(p, q quat.Number) quat.Number {
	return quat.Mul(p, q)
}

// Rotate applies the rotation q to v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// FromAngleAxis returns the rotation of angle radians about axis. A zero axis
// yields Identity.
func FromAngleAxis(angle float64, axis r3.Vec) quat.Number {
	n := r3.Norm(axis)
	if n == 0 {
		return Identity
	}
	s := math.Sin(angle/2) / n
	return quat.Number{Real: math.Cos(angle / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// FromEuler builds an attitude from roll, pitch and yaw in degrees, applied
// in that order about the fixed X, Y and Z axes.
func FromEuler(roll, pitch, yaw float64) quat.Number {
	qx := FromAngleAxis(mgl64.DegToRad(roll), r3.Vec{X: 1})
	qy := FromAngleAxis(mgl64.DegToRad(pitch), r3.Vec{Y: 1})
	qz := FromAngleAxis(mgl64.DegToRad(yaw), r3.Vec{Z: 1})
	return Compose(qz, Compose(qy, qx))
}

// ToGL converts q into the mgl64 representation.
func ToGL(q quat.Number) mgl64.Quat {
	return mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}
}

// FromGL converts an mgl64 quaternion back into a gonum one.
func FromGL(q mgl64.Quat) quat.Number {
	return quat.Number{Real: q.W, Imag: q.V[0], Jmag: q.V[1], Kmag: q.V[2]}
}

// Components returns q as [w, x, y, z].
func Components(q quat.Number) [4]float64 {
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}
