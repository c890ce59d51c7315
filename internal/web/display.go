package web

import (
	"sync"

	"github.com/cjeanneret/SmartCam/internal/hw/camera"
)

// Display is the screen geometry reported by the UI client through
// POST /display and POST /rotation. It implements session.Display.
type Display struct {
	mu       sync.RWMutex
	width    int
	height   int
	rotation camera.Rotation
}

// NewDisplay creates a display with initial metrics.
func NewDisplay(width, height int, rotation camera.Rotation) *Display {
	return &Display{width: width, height: height, rotation: rotation}
}

func (d *Display) Metrics() (width, height int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.width, d.height
}

func (d *Display) Rotation() camera.Rotation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rotation
}

// SetMetrics records new screen dimensions.
func (d *Display) SetMetrics(width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = width, height
}

// SetRotation records a new display rotation.
func (d *Display) SetRotation(r camera.Rotation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rotation = r
}
