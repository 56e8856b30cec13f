package render

import (
	"image"
	"io"

	"github.com/fogleman/gg"

	"github.com/opd-ai/go-dronegym/pkg/entity"
	"github.com/opd-ai/go-dronegym/pkg/physics"
)

// ImageRenderer rasterizes the same side view as TerminalRenderer into an
// image. Each Clear starts a new frame; the frame is kept after Present so it
// can be saved.
type ImageRenderer struct {
	width  int
	height int
	scale  float64 // pixels per world unit
	center physics.Vector3
	dc     *gg.Context
}

// NewImageRenderer creates a width x height renderer
func NewImageRenderer(width, height int, scale float64) *ImageRenderer {
	r := &ImageRenderer{
		width:  width,
		height: height,
		scale:  scale,
		dc:     gg.NewContext(width, height),
	}
	r.Clear()
	return r
}

// SetCenter sets the world position drawn in the middle of the image
func (r *ImageRenderer) SetCenter(pos physics.Vector3) {
	r.center = pos
}

func (r *ImageRenderer) toPixel(p physics.Vector3) (float64, float64) {
	x := (p.X-r.center.X)*r.scale + float64(r.width)/2
	y := float64(r.height)/2 - (p.Y-r.center.Y)*r.scale
	return x, y
}

// Clear implements entity.Renderer
func (r *ImageRenderer) Clear() {
	r.dc.SetRGB(0.08, 0.09, 0.12)
	r.dc.Clear()
}

// Present implements entity.Renderer. The frame stays available through
// Image and SavePNG.
func (r *ImageRenderer) Present() {}

// RenderFloor implements entity.Renderer
func (r *ImageRenderer) RenderFloor(floor *entity.Floor) {
	_, y := r.toPixel(floor.Position)
	if y >= float64(r.height) {
		return
	}
	r.dc.DrawRectangle(0, y, float64(r.width), float64(r.height)-y)
	r.dc.SetRGB(0.35, 0.27, 0.18)
	r.dc.Fill()
}

// RenderTarget implements entity.Renderer
func (r *ImageRenderer) RenderTarget(target *entity.Target) {
	x, y := r.toPixel(target.Position)
	const arm = 6.0
	r.dc.SetRGB(0.2, 0.9, 0.3)
	r.dc.SetLineWidth(2)
	r.dc.DrawLine(x-arm, y-arm, x+arm, y+arm)
	r.dc.DrawLine(x-arm, y+arm, x+arm, y-arm)
	r.dc.Stroke()
}

// RenderDrone implements entity.Renderer
func (r *ImageRenderer) RenderDrone(drone *entity.Drone) {
	cx, cy := r.toPixel(drone.GetPosition())

	r.dc.SetRGB(0.7, 0.7, 0.75)
	r.dc.SetLineWidth(2)
	for i := range drone.Thrusters {
		tx, ty := r.toPixel(drone.ThrusterPosition(i))
		r.dc.DrawLine(cx, cy, tx, ty)
		r.dc.Stroke()
		r.dc.DrawCircle(tx, ty, 3)
		r.dc.Fill()
	}

	radius := drone.Radius * r.scale
	if radius < 2 {
		radius = 2
	}
	r.dc.SetRGB(0.95, 0.6, 0.1)
	r.dc.DrawCircle(cx, cy, radius)
	r.dc.Fill()
}

// Image returns the current frame
func (r *ImageRenderer) Image() image.Image {
	return r.dc.Image()
}

// SavePNG writes the current frame to path
func (r *ImageRenderer) SavePNG(path string) error {
	return r.dc.SavePNG(path)
}

// EncodePNG writes the current frame to w
func (r *ImageRenderer) EncodePNG(w io.Writer) error {
	return r.dc.EncodePNG(w)
}
