package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/SmartCam/internal/hw/camera"
)

// CaptureResult is the single outcome of a Capture call: Err is nil on
// success and URI names the written image.
type CaptureResult struct {
	RequestID uuid.UUID
	URI       string
	Lens      camera.LensFacing
	Rotation  camera.Rotation
	Mirrored  bool
	Err       error
}

// EventKind classifies controller events.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventCaptureDone
	EventBindFailed
	EventRebindDeferred
	EventPropertyWritten
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state"
	case EventCaptureDone:
		return "capture"
	case EventBindFailed:
		return "bind-failed"
	case EventRebindDeferred:
		return "rebind-deferred"
	case EventPropertyWritten:
		return "property"
	default:
		return "unknown"
	}
}

// Event is published on Controller.Events.
type Event struct {
	Kind   EventKind
	From   State
	State  State
	Result *CaptureResult
	Err    error
	At     time.Time
}
