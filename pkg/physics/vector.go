// pkg/physics/vector.go
package physics

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vector3 represents a 3D vector in a Y-up, left-handed world (X right, Z forward).
// It has the same layout as r3.Vec, so the two convert freely.
type Vector3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Axis vectors
var (
	Zero    = Vector3{}
	Up      = Vector3{Y: 1}
	Right   = Vector3{X: 1}
	Forward = Vector3{Z: 1}
)

func (v Vector3) vec() r3.Vec { return r3.Vec(v) }

// Add returns the sum of two vectors
func (v Vector3) Add(other Vector3) Vector3 {
	return Vector3(r3.Add(v.vec(), other.vec()))
}

// Sub returns the difference between two vectors
func (v Vector3) Sub(other Vector3) Vector3 {
	return Vector3(r3.Sub(v.vec(), other.vec()))
}

// Scale multiplies the vector by a scalar value
func (v Vector3) Scale(factor float64) Vector3 {
	return Vector3(r3.Scale(factor, v.vec()))
}

// Mul multiplies the vectors component-wise
func (v Vector3) Mul(other Vector3) Vector3 {
	return Vector3{X: v.X * other.X, Y: v.Y * other.Y, Z: v.Z * other.Z}
}

// Length returns the magnitude of the vector
func (v Vector3) Length() float64 {
	return r3.Norm(v.vec())
}

// LengthSquared returns magnitude squared (optimization for comparisons)
func (v Vector3) LengthSquared() float64 {
	return r3.Norm2(v.vec())
}

// Normalize returns a unit vector in the same direction.
// The zero vector normalizes to itself.
func (v Vector3) Normalize() Vector3 {
	if v.LengthSquared() == 0 {
		return Vector3{}
	}
	return Vector3(r3.Unit(v.vec()))
}

// Distance returns the distance between two points
func (v Vector3) Distance(other Vector3) float64 {
	return v.Sub(other).Length()
}

// Dot returns the dot product of two vectors
func (v Vector3) Dot(other Vector3) float64 {
	return r3.Dot(v.vec(), other.vec())
}

// Cross returns the cross product v × other
func (v Vector3) Cross(other Vector3) Vector3 {
	return Vector3(r3.Cross(v.vec(), other.vec()))
}

// ClampLength limits the magnitude of the vector to max
func (v Vector3) ClampLength(max float64) Vector3 {
	if max < 0 {
		return Vector3{}
	}
	if v.LengthSquared() > max*max {
		return v.Normalize().Scale(max)
	}
	return v
}

// IsFinite reports whether every component is a finite number
func (v Vector3) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Slice returns the components as x, y, z
func (v Vector3) Slice() []float64 {
	return []float64{v.X, v.Y, v.Z}
}
