// pkg/render/renderer.go
package render

import (
	"context"

	"github.com/opd-ai/go-dronegym/pkg/entity"
	"github.com/opd-ai/go-dronegym/pkg/logging"
)

// NullRenderer is an entity.Renderer that only logs what it is asked to draw.
type NullRenderer struct {
	logger *logging.Logger
}

// NewNullRenderer creates a NullRenderer. A nil logger falls back to
// logging.NewLogger.
func NewNullRenderer(logger *logging.Logger) *NullRenderer {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &NullRenderer{logger: logger}
}

// Clear implements entity.Renderer.
func (d *NullRenderer) Clear() {
	d.logger.Debug(context.Background(), "Clear called")
}

// Present implements entity.Renderer.
func (d *NullRenderer) Present() {
	d.logger.Debug(context.Background(), "Present called")
}

// RenderDrone implements entity.Renderer.
func (d *NullRenderer) RenderDrone(drone *entity.Drone) {
	ctx := context.Background()
	if drone == nil {
		d.logger.Debug(ctx, "RenderDrone called with nil drone")
		return
	}
	p := drone.GetPosition()
	d.logger.Debug(ctx, "RenderDrone called",
		"drone_id", drone.GetID(),
		"x", p.X, "y", p.Y, "z", p.Z,
		"thrusters", len(drone.Thrusters),
	)
}

// RenderTarget implements entity.Renderer.
func (d *NullRenderer) RenderTarget(target *entity.Target) {
	ctx := context.Background()
	if target == nil {
		d.logger.Debug(ctx, "RenderTarget called with nil target")
		return
	}
	d.logger.Debug(ctx, "RenderTarget called",
		"target_id", target.GetID(),
		"x", target.Position.X, "y", target.Position.Y, "z", target.Position.Z,
	)
}

// RenderFloor implements entity.Renderer.
func (d *NullRenderer) RenderFloor(floor *entity.Floor) {
	ctx := context.Background()
	if floor == nil {
		d.logger.Debug(ctx, "RenderFloor called with nil floor")
		return
	}
	d.logger.Debug(ctx, "RenderFloor called",
		"floor_id", floor.GetID(),
		"height", floor.Position.Y,
	)
}
