// pkg/entity/entity.go
package entity

import (
	"github.com/EngoEngine/ecs"

	"github.com/opd-ai/go-dronegym/pkg/physics"
)

// ID is a unique identifier for an entity
type ID uint64

// Entity is the base interface for all simulated objects
type Entity interface {
	GetID() ID
	GetBasicEntity() *ecs.BasicEntity
	GetPosition() physics.Vector3
	Render(r Renderer)
}

// BaseEntity contains common functionality for entities without physics
type BaseEntity struct {
	ecs.BasicEntity
	Position physics.Vector3
}

// NewBaseEntity allocates a fresh ECS identity at the given position
func NewBaseEntity(position physics.Vector3) BaseEntity {
	return BaseEntity{
		BasicEntity: ecs.NewBasic(),
		Position:    position,
	}
}

// GetID returns the entity's unique identifier
func (e *BaseEntity) GetID() ID {
	return ID(e.BasicEntity.ID())
}

// GetPosition returns the entity's position
func (e *BaseEntity) GetPosition() physics.Vector3 {
	return e.Position
}

// Render does nothing for the base type; concrete entities override it.
func (e *BaseEntity) Render(r Renderer) {}

// Target is a position marker the drone tries to reach. It has no physics.
type Target struct {
	BaseEntity
}

// NewTarget creates a target marker
func NewTarget(position physics.Vector3) *Target {
	return &Target{BaseEntity: NewBaseEntity(position)}
}

// Render implements Entity
func (t *Target) Render(r Renderer) {
	r.RenderTarget(t)
}

// Floor is a horizontal obstacle surface located at Position.Y
type Floor struct {
	BaseEntity
}

// NewFloor creates a floor at the given position
func NewFloor(position physics.Vector3) *Floor {
	return &Floor{BaseEntity: NewBaseEntity(position)}
}

// Plane returns the collision surface of the floor
func (f *Floor) Plane() physics.Plane {
	return physics.Plane{Height: f.Position.Y}
}

// Render implements Entity
func (f *Floor) Render(r Renderer) {
	r.RenderFloor(f)
}
