package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/SmartCam/internal/debug"
)

// Registry tracks which Handle holds each physical camera, so that at most
// one Handle is bound to a given device id at a time.
type Registry struct {
	mu     sync.Mutex
	owners map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[string]*Handle)}
}

var defaultRegistry = NewRegistry()

func (r *Registry) claim(id string, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[id]; ok && owner != h {
		return false
	}
	r.owners[id] = h
	return true
}

func (r *Registry) release(id string, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[id] == h {
		delete(r.owners, id)
	}
}

// Owner returns the handle currently bound to id, if any.
func (r *Registry) Owner(id string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[id]
}

// Handle owns the exclusive binding to one physical camera.
//
// A Handle is not safe for concurrent use: the session controller calls it
// from a single background worker only.
type Handle struct {
	dev      Device
	registry *Registry

	stream   Stream
	spec     BindSpec
	deviceID string
}

// NewHandle creates an unbound handle over dev. A nil registry uses the
// process-wide one.
func NewHandle(dev Device, reg *Registry) *Handle {
	if reg == nil {
		reg = defaultRegistry
	}
	return &Handle{dev: dev, registry: reg}
}

// Enumerate reports the available lens facings. It never changes the binding.
func (h *Handle) Enumerate() ([]LensFacing, error) {
	lenses, err := h.dev.Lenses()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if len(lenses) == 0 {
		return nil, fmt.Errorf("%w: neither back nor front lens found", ErrDeviceUnavailable)
	}
	return lenses, nil
}

// Bound reports whether the handle currently holds a binding.
func (h *Handle) Bound() bool {
	return h.stream != nil
}

// Spec returns the spec of the current binding.
func (h *Handle) Spec() BindSpec {
	return h.spec
}

// Bind releases any binding this handle holds, then binds spec.
// On failure the handle is left unbound and the error is a *BindError.
func (h *Handle) Bind(spec BindSpec) error {
	if err := h.Unbind(); err != nil {
		// The previous stream is gone either way; report and go on.
		debug.Info("Camera: release before bind: %v", err)
	}

	id := h.dev.DeviceID(spec.Lens)
	if !spec.Rotation.Valid() {
		return &BindError{Lens: spec.Lens, DeviceID: id, Err: fmt.Errorf("invalid target rotation %d", spec.Rotation)}
	}
	if !h.registry.claim(id, h) {
		return &BindError{Lens: spec.Lens, DeviceID: id, Err: fmt.Errorf("%w: held by another handle", ErrDeviceBusy)}
	}

	debug.PrintStruct("Camera: bind spec", spec)
	stream, err := h.dev.Open(spec)
	if err != nil {
		h.registry.release(id, h)
		return &BindError{Lens: spec.Lens, DeviceID: id, Err: err}
	}

	h.stream = stream
	h.spec = spec
	h.deviceID = id
	return nil
}

// Rebind is an unbind followed by a bind with the new spec.
func (h *Handle) Rebind(spec BindSpec) error {
	return h.Bind(spec)
}

// Unbind releases the binding. Unbinding an unbound handle is a no-op.
// The handle is unbound after the call even if closing the stream failed.
func (h *Handle) Unbind() error {
	if h.stream == nil {
		return nil
	}
	err := h.stream.Close()
	h.registry.release(h.deviceID, h)
	debug.Verbose("Camera: unbound %s lens (device %q)", h.spec.Lens, h.deviceID)
	h.stream = nil
	h.spec = BindSpec{}
	h.deviceID = ""
	if err != nil {
		return fmt.Errorf("close camera stream: %w", err)
	}
	return nil
}

// SetTargetRotation updates the rotation of the live use cases in place.
func (h *Handle) SetTargetRotation(r Rotation) error {
	if h.stream == nil {
		return ErrNotBound
	}
	if !r.Valid() {
		return fmt.Errorf("invalid target rotation %d", r)
	}
	if err := h.stream.SetTargetRotation(r); err != nil {
		return fmt.Errorf("set target rotation: %w", err)
	}
	h.spec.Rotation = r
	return nil
}

// SetFlashMode updates the flash mode of the live still capture use case.
func (h *Handle) SetFlashMode(m FlashMode) error {
	if h.stream == nil {
		return ErrNotBound
	}
	if h.spec.UseCases.Capture == nil {
		return ErrNoCaptureUseCase
	}
	if err := h.stream.SetFlashMode(m); err != nil {
		return fmt.Errorf("set flash mode: %w", err)
	}
	sc := *h.spec.UseCases.Capture
	sc.Flash = m
	h.spec.UseCases.Capture = &sc
	return nil
}

// TakePicture runs one still capture and writes the encoded image to the
// request's output target. It returns the target URI.
func (h *Handle) TakePicture(ctx context.Context, req CaptureRequest) (string, error) {
	fail := func(err error) (string, error) {
		return "", &CaptureError{RequestID: req.ID, Err: err}
	}
	if h.stream == nil {
		return fail(ErrNotBound)
	}
	if h.spec.UseCases.Capture == nil {
		return fail(ErrNoCaptureUseCase)
	}
	if req.Output == nil {
		return fail(errors.New("no output target"))
	}

	data, err := h.stream.TakePicture(ctx, req.Metadata)
	if err != nil {
		return fail(err)
	}

	w, err := req.Output.Create()
	if err != nil {
		return fail(fmt.Errorf("create output: %w", err))
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fail(fmt.Errorf("write output: %w", err))
	}
	if err := w.Close(); err != nil {
		return fail(fmt.Errorf("close output: %w", err))
	}
	return req.Output.URI(), nil
}
