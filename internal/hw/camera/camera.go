package camera

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/SmartCam/internal/logic/geometry"
)

// LensFacing selects the physical lens.
type LensFacing int

const (
	LensBack LensFacing = iota
	LensFront
)

func (l LensFacing) String() string {
	if l == LensFront {
		return "front"
	}
	return "back"
}

// Opposite returns the other lens.
func (l LensFacing) Opposite() LensFacing {
	if l == LensFront {
		return LensBack
	}
	return LensFront
}

// ParseLensFacing parses "back" or "front".
func ParseLensFacing(s string) (LensFacing, error) {
	switch strings.ToLower(s) {
	case "back":
		return LensBack, nil
	case "front":
		return LensFront, nil
	}
	return LensBack, fmt.Errorf("unknown lens facing %q", s)
}

// FlashMode is the still capture flash setting.
type FlashMode int

const (
	FlashOff FlashMode = iota
	FlashAuto
	FlashOn
)

func (f FlashMode) String() string {
	switch f {
	case FlashAuto:
		return "auto"
	case FlashOn:
		return "on"
	default:
		return "off"
	}
}

// ParseFlashMode parses "off", "auto" or "on".
func ParseFlashMode(s string) (FlashMode, error) {
	switch strings.ToLower(s) {
	case "off":
		return FlashOff, nil
	case "auto":
		return FlashAuto, nil
	case "on":
		return FlashOn, nil
	}
	return FlashOff, fmt.Errorf("unknown flash mode %q", s)
}

// Rotation is a target rotation in degrees: 0, 90, 180 or 270.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// Valid reports whether r is one of the four supported rotations.
func (r Rotation) Valid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	}
	return false
}

// ParseRotation converts degrees to a Rotation.
func ParseRotation(degrees int) (Rotation, error) {
	r := Rotation(degrees)
	if !r.Valid() {
		return Rotation0, fmt.Errorf("rotation must be 0, 90, 180 or 270, got %d", degrees)
	}
	return r, nil
}

// Frame is one image delivered to the preview and analysis use cases.
// Luma holds the Y plane (Width*Height bytes) when available; JPEG holds an
// encoded copy when the backend produces one.
type Frame struct {
	Seq      int64
	Width    int
	Height   int
	Luma     []byte
	JPEG     []byte
	Rotation Rotation
	At       time.Time
}

// PreviewSink renders preview frames.
type PreviewSink interface {
	RenderFrame(f Frame)
}

// Analyzer consumes frames for per-frame analysis.
type Analyzer interface {
	Analyze(f Frame)
}

// StillCapture configures the still image use case.
type StillCapture struct {
	Flash   FlashMode
	Quality int // JPEG quality, 1-100
}

// UseCaseSet is the set of consumers bound together on one camera.
// A nil member means that use case is not requested.
type UseCaseSet struct {
	Preview  PreviewSink
	Capture  *StillCapture
	Analysis Analyzer
}

// BindSpec is everything a device needs to start streaming.
type BindSpec struct {
	Lens     LensFacing
	UseCases UseCaseSet
	Rotation Rotation
	Aspect   geometry.AspectRatio
}

// Metadata travels with a still capture request.
type Metadata struct {
	MirrorHorizontally bool
}

// OutputTarget is an opaque destination for one encoded still image,
// provided by the storage layer.
type OutputTarget interface {
	Create() (io.WriteCloser, error)
	URI() string
}

// CaptureRequest is one still capture invocation.
type CaptureRequest struct {
	ID          uuid.UUID
	Output      OutputTarget
	Metadata    Metadata
	RequestedAt time.Time
}

// NewCaptureRequest stamps a new request with an id and the current time.
func NewCaptureRequest(out OutputTarget, meta Metadata) CaptureRequest {
	return CaptureRequest{
		ID:          uuid.New(),
		Output:      out,
		Metadata:    meta,
		RequestedAt: time.Now(),
	}
}

// Device is a camera backend exposing one or two lenses.
type Device interface {
	// Lenses reports the lens facings the hardware exposes.
	Lenses() ([]LensFacing, error)
	// DeviceID returns the physical camera identifier behind a lens.
	DeviceID(lens LensFacing) string
	// Open starts streaming from spec.Lens to the use cases in spec.
	Open(spec BindSpec) (Stream, error)
}

// Stream is an open, exclusive session on one physical camera.
// Close must stop frame delivery to the sinks before it returns.
type Stream interface {
	SetTargetRotation(r Rotation) error
	SetFlashMode(m FlashMode) error
	TakePicture(ctx context.Context, meta Metadata) ([]byte, error)
	Close() error
}

// Flash fires a flash unit once.
type Flash interface {
	Fire(ctx context.Context) error
}

// shouldFire decides whether the flash fires for a scene of the given mean
// luma (0-255).
func shouldFire(mode FlashMode, luma, threshold float64) bool {
	switch mode {
	case FlashOn:
		return true
	case FlashAuto:
		return luma < threshold
	default:
		return false
	}
}
