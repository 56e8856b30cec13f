// pkg/physics/collision.go
package physics

// Sphere represents a spherical collision shape
type Sphere struct {
	Center Vector3
	Radius float64
}

// Plane is a horizontal, one-sided surface at the given height.
// Only bodies whose centre is above the surface can touch it.
type Plane struct {
	Height float64
}

// Normal returns the surface normal of the plane
func (p Plane) Normal() Vector3 {
	return Up
}

// CollisionResult contains information about a contact
type CollisionResult struct {
	Collided     bool
	Normal       Vector3
	Penetration  float64
	ContactPoint Vector3
}

// CheckPlaneContact tests a sphere against a plane
func CheckPlaneContact(s Sphere, p Plane) CollisionResult {
	above := s.Center.Y - p.Height
	if above < 0 || above >= s.Radius {
		return CollisionResult{Collided: false}
	}

	return CollisionResult{
		Collided:     true,
		Normal:       p.Normal(),
		Penetration:  s.Radius - above,
		ContactPoint: Vector3{X: s.Center.X, Y: p.Height, Z: s.Center.Z},
	}
}

// SweepPlaneContact tests a sphere that moved from one centre to another
// during a tick. Besides ending inside the contact band, a sphere whose centre
// crossed the surface from above is in contact, with enough penetration to
// push it back on top of the plane.
func SweepPlaneContact(from, to Sphere, p Plane) CollisionResult {
	if res := CheckPlaneContact(to, p); res.Collided {
		return res
	}
	if from.Center.Y < p.Height || to.Center.Y >= p.Height {
		return CollisionResult{Collided: false}
	}

	return CollisionResult{
		Collided:     true,
		Normal:       p.Normal(),
		Penetration:  to.Radius + p.Height - to.Center.Y,
		ContactPoint: Vector3{X: to.Center.X, Y: p.Height, Z: to.Center.Z},
	}
}

// Bounds is an axis-aligned box given by its minimum and maximum corners
type Bounds struct {
	Min Vector3
	Max Vector3
}

// BoundsAround returns the box spanning base+[lo, hi] on every axis
func BoundsAround(base Vector3, lo, hi float64) Bounds {
	return Bounds{
		Min: base.Add(Vector3{X: lo, Y: lo, Z: lo}),
		Max: base.Add(Vector3{X: hi, Y: hi, Z: hi}),
	}
}

// Contains reports whether the point lies inside the box, edges included
func (b Bounds) Contains(point Vector3) bool {
	return point.X >= b.Min.X && point.X <= b.Max.X &&
		point.Y >= b.Min.Y && point.Y <= b.Max.Y &&
		point.Z >= b.Min.Z && point.Z <= b.Max.Z
}

// Lerp maps t in [0,1] per axis onto the box
func (b Bounds) Lerp(t Vector3) Vector3 {
	size := b.Max.Sub(b.Min)
	return b.Min.Add(size.Mul(t))
}
