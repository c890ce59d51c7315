package camera

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrDeviceUnavailable means no usable physical camera is present.
	// It is fatal for a session and is never retried automatically.
	ErrDeviceUnavailable = errors.New("no usable camera device")
	// ErrDeviceBusy means the device is held by another handle or process.
	ErrDeviceBusy = errors.New("camera device busy")
	// ErrNotBound is returned by operations that need a live binding.
	ErrNotBound = errors.New("camera not bound")
	// ErrNoCaptureUseCase is returned when the still capture use case was not bound.
	ErrNoCaptureUseCase = errors.New("still capture use case not bound")
)

// BindError reports a failed bind. The handle is always unbound afterwards.
type BindError struct {
	Lens     LensFacing
	DeviceID string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s lens (device %q): %v", e.Lens, e.DeviceID, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Retryable is false only when the device is missing altogether.
func (e *BindError) Retryable() bool {
	return !errors.Is(e.Err, ErrDeviceUnavailable)
}

// CaptureError reports a failed still capture.
type CaptureError struct {
	RequestID uuid.UUID
	Err       error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.RequestID, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
