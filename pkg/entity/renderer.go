package entity

// Renderer handles rendering simulated entities
type Renderer interface {
	RenderDrone(drone *Drone)
	RenderTarget(target *Target)
	RenderFloor(floor *Floor)
	Clear()
	Present()
}
