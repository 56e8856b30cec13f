package physics

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Quaternion is a rotation quaternion. Real is the scalar part (w) and
// Imag, Jmag, Kmag the vector part (x, y, z).
type Quaternion quat.Number

// Identity returns the rotation that leaves every vector unchanged
func Identity() Quaternion {
	return Quaternion{Real: 1}
}

// AxisAngle builds the rotation of angle radians about axis
func AxisAngle(axis Vector3, angle float64) Quaternion {
	return Quaternion(r3.NewRotation(angle, axis.vec()))
}

// Rotate applies the rotation to v. q must be a unit quaternion.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	return Vector3(r3.Rotation(q).Rotate(v.vec()))
}

// InverseRotate applies the inverse rotation to v
func (q Quaternion) InverseRotate(v Vector3) Vector3 {
	return q.Conjugate().Rotate(v)
}

// Mul returns the composition q*other (other is applied first)
func (q Quaternion) Mul(other Quaternion) Quaternion {
	return Quaternion(quat.Mul(quat.Number(q), quat.Number(other)))
}

// Conjugate returns the conjugate, which is the inverse of a unit quaternion
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion(quat.Conj(quat.Number(q)))
}

// Norm returns the quaternion magnitude
func (q Quaternion) Norm() float64 {
	return quat.Abs(quat.Number(q))
}

// Normalize returns q scaled to unit length. A degenerate quaternion
// normalizes to the identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Identity()
	}
	return Quaternion(quat.Scale(1/n, quat.Number(q)))
}

// Integrate advances the orientation by a world-space angular velocity
// over dt seconds and renormalizes the result.
func (q Quaternion) Integrate(angularVelocity Vector3, dt float64) Quaternion {
	omega := quat.Number{Imag: angularVelocity.X, Jmag: angularVelocity.Y, Kmag: angularVelocity.Z}
	dq := quat.Scale(0.5*dt, quat.Mul(omega, quat.Number(q)))
	return Quaternion(quat.Add(quat.Number(q), dq)).Normalize()
}

// Slice returns the components in x, y, z, w order
func (q Quaternion) Slice() []float64 {
	return []float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}
