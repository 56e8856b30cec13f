package physics

// RigidBody tracks the kinematic state of a simulated body and the
// forces accumulated for the next integration step.
type RigidBody struct {
	Position        Vector3
	Velocity        Vector3
	Rotation        Quaternion
	AngularVelocity Vector3 // world space, rad/s

	Mass            float64
	Inertia         Vector3 // principal moments of inertia, body frame
	Drag            float64
	AngularDrag     float64
	MaxAngularSpeed float64 // 0 disables the limit
	UseGravity      bool

	force  Vector3
	torque Vector3
}

// NewRigidBody creates a body at rest at the origin
func NewRigidBody(mass float64, inertia Vector3) *RigidBody {
	return &RigidBody{
		Rotation:   Identity(),
		Mass:       mass,
		Inertia:    inertia,
		UseGravity: true,
	}
}

// AddForce accumulates a world-space force acting through the centre of mass
func (b *RigidBody) AddForce(force Vector3) {
	b.force = b.force.Add(force)
}

// AddForceAtPosition accumulates a world-space force applied at a world-space
// point. Off-centre forces also produce torque.
func (b *RigidBody) AddForceAtPosition(force, point Vector3) {
	b.force = b.force.Add(force)
	b.torque = b.torque.Add(point.Sub(b.Position).Cross(force))
}

// AddTorque accumulates a world-space torque
func (b *RigidBody) AddTorque(torque Vector3) {
	b.torque = b.torque.Add(torque)
}

// PendingForce returns the force accumulated since the last integration
func (b *RigidBody) PendingForce() Vector3 {
	return b.force
}

// PendingTorque returns the torque accumulated since the last integration
func (b *RigidBody) PendingTorque() Vector3 {
	return b.torque
}

// Up returns the body's local up axis in world space
func (b *RigidBody) Up() Vector3 {
	return b.Rotation.Rotate(Up)
}

// LocalToWorld converts a point in body coordinates to world coordinates
func (b *RigidBody) LocalToWorld(local Vector3) Vector3 {
	return b.Position.Add(b.Rotation.Rotate(local))
}

// ResetMotion zeroes linear and angular velocity, restores the identity
// orientation and discards pending forces.
func (b *RigidBody) ResetMotion() {
	b.Velocity = Vector3{}
	b.AngularVelocity = Vector3{}
	b.Rotation = Identity()
	b.ClearForces()
}

// ClearForces discards accumulated force and torque
func (b *RigidBody) ClearForces() {
	b.force = Vector3{}
	b.torque = Vector3{}
}

// Integrate advances the body by dt seconds using semi-implicit Euler and
// clears the accumulators. Bodies without positive mass do not move.
func (b *RigidBody) Integrate(dt float64, gravity Vector3) {
	defer b.ClearForces()
	if b.Mass <= 0 || dt <= 0 {
		return
	}

	// Linear motion
	accel := b.force.Scale(1 / b.Mass)
	if b.UseGravity {
		accel = accel.Add(gravity)
	}
	b.Velocity = b.Velocity.Add(accel.Scale(dt)).Scale(dampen(b.Drag, dt))

	// Angular motion, solved in the body frame where inertia is diagonal
	omega := b.Rotation.InverseRotate(b.AngularVelocity)
	torque := b.Rotation.InverseRotate(b.torque)
	gyro := omega.Cross(b.Inertia.Mul(omega))
	alpha := torque.Sub(gyro).Mul(invert(b.Inertia))
	omega = omega.Add(alpha.Scale(dt))
	b.AngularVelocity = b.Rotation.Rotate(omega).Scale(dampen(b.AngularDrag, dt))
	if b.MaxAngularSpeed > 0 {
		b.AngularVelocity = b.AngularVelocity.ClampLength(b.MaxAngularSpeed)
	}

	b.Position = b.Position.Add(b.Velocity.Scale(dt))
	b.Rotation = b.Rotation.Integrate(b.AngularVelocity, dt)
}

// dampen returns the velocity retention factor for a drag coefficient
func dampen(drag, dt float64) float64 {
	f := 1 - drag*dt
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// invert returns the component-wise reciprocal, treating zero moments as locked axes
func invert(v Vector3) Vector3 {
	inv := func(c float64) float64 {
		if c <= 0 {
			return 0
		}
		return 1 / c
	}
	return Vector3{X: inv(v.X), Y: inv(v.Y), Z: inv(v.Z)}
}
