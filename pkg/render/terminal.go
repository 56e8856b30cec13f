package render

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/opd-ai/go-dronegym/pkg/entity"
	"github.com/opd-ai/go-dronegym/pkg/physics"
)

// TerminalRenderer draws a side view of the scene as ASCII: world X runs
// left to right and world Y runs bottom to top. Depth (Z) is dropped.
type TerminalRenderer struct {
	width       int
	height      int
	buffer      [][]rune
	scale       float64 // world units per character
	centerPos   physics.Vector3
	out         io.Writer
	clearScreen bool
}

// NewTerminalRenderer creates a terminal renderer that writes frames to out
func NewTerminalRenderer(out io.Writer, width, height int, scale float64) *TerminalRenderer {
	buffer := make([][]rune, height)
	for i := range buffer {
		buffer[i] = make([]rune, width)
	}

	r := &TerminalRenderer{
		width:  width,
		height: height,
		buffer: buffer,
		scale:  scale,
		out:    out,
	}
	r.Clear()
	return r
}

// SetCenter sets the world position shown in the middle of the view
func (r *TerminalRenderer) SetCenter(pos physics.Vector3) {
	r.centerPos = pos
}

// SetClearScreen makes Present clear the terminal before each frame
func (r *TerminalRenderer) SetClearScreen(on bool) {
	r.clearScreen = on
}

func (r *TerminalRenderer) worldToScreen(pos physics.Vector3) (int, int) {
	screenX := int(math.Floor((pos.X-r.centerPos.X)/r.scale + float64(r.width)/2))
	screenY := int(math.Floor(float64(r.height)/2 - (pos.Y-r.centerPos.Y)/r.scale))
	return screenX, screenY
}

func (r *TerminalRenderer) plot(x, y int, c rune) {
	if x >= 0 && x < r.width && y >= 0 && y < r.height {
		r.buffer[y][x] = c
	}
}

// Clear implements entity.Renderer
func (r *TerminalRenderer) Clear() {
	for y := range r.buffer {
		for x := range r.buffer[y] {
			r.buffer[y][x] = ' '
		}
	}
}

// String returns the current frame with its border
func (r *TerminalRenderer) String() string {
	var b strings.Builder
	b.WriteString("+" + strings.Repeat("-", r.width) + "+\n")
	for y := range r.buffer {
		b.WriteString("|")
		b.WriteString(string(r.buffer[y]))
		b.WriteString("|\n")
	}
	b.WriteString("+" + strings.Repeat("-", r.width) + "+\n")
	return b.String()
}

// Present implements entity.Renderer
func (r *TerminalRenderer) Present() {
	if r.clearScreen {
		fmt.Fprint(r.out, "\033[H\033[2J")
	}
	fmt.Fprint(r.out, r.String())
}

// RenderDrone implements entity.Renderer. Thrusters are drawn as '+' when
// they land on a different cell than the body.
func (r *TerminalRenderer) RenderDrone(drone *entity.Drone) {
	for i := range drone.Thrusters {
		x, y := r.worldToScreen(drone.ThrusterPosition(i))
		r.plot(x, y, '+')
	}
	x, y := r.worldToScreen(drone.GetPosition())
	r.plot(x, y, 'D')
}

// RenderTarget implements entity.Renderer
func (r *TerminalRenderer) RenderTarget(target *entity.Target) {
	x, y := r.worldToScreen(target.Position)
	r.plot(x, y, 'X')
}

// RenderFloor implements entity.Renderer. The floor spans the whole view.
func (r *TerminalRenderer) RenderFloor(floor *entity.Floor) {
	_, y := r.worldToScreen(floor.Position)
	if y < 0 || y >= r.height {
		return
	}
	for x := 0; x < r.width; x++ {
		if r.buffer[y][x] == ' ' {
			r.buffer[y][x] = '='
		}
	}
}
