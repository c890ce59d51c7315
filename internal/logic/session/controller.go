package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/SmartCam/internal/debug"
	"github.com/cjeanneret/SmartCam/internal/hw/camera"
	"github.com/cjeanneret/SmartCam/internal/logic/geometry"
)

// Display supplies the screen geometry on demand.
type Display interface {
	Metrics() (width, height int)
	Rotation() camera.Rotation
}

// Permissions is the camera access gate checked before Start.
type Permissions interface {
	CameraAccessGranted() bool
}

// Options configures a Controller.
type Options struct {
	Config   SessionConfig        // initial configuration
	Preview  camera.PreviewSink   // nil: no preview use case
	Analysis camera.Analyzer      // nil: no analysis use case
	Capture  *camera.StillCapture // nil: no still capture use case
}

// Controller orchestrates the preview, still capture and analysis use cases
// over a single camera.Handle.
//
// Public methods run on the controller loop goroutine, which owns the
// configuration and the state machine. Every handle operation runs on a
// single background worker; results come back to the loop as closures.
type Controller struct {
	handle  *camera.Handle
	display Display
	opts    Options

	cmds   chan func()
	quit   chan struct{}
	worker *worker
	events chan Event

	// Owned by the loop goroutine.
	state         State
	cfg           SessionConfig
	lenses        []camera.LensFacing
	aspect        geometry.AspectRatio
	bound         camera.BindSpec
	starting      bool
	pendingRebind bool
	closing       bool
	eventsClosed  bool
	stopped       bool
}

// NewController creates an UNBOUND controller and starts its loop and worker.
// display may be nil, in which case the configured rotation and a 4:3
// stream are used.
func NewController(h *camera.Handle, display Display, opts Options) *Controller {
	c := &Controller{
		handle:  h,
		display: display,
		opts:    opts,
		cmds:    make(chan func()),
		quit:    make(chan struct{}),
		worker:  newWorker(),
		events:  make(chan Event, 64),
		state:   Unbound,
		cfg:     opts.Config,
		aspect:  geometry.Ratio4x3,
	}
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.quit)
	for !c.stopped {
		fn := <-c.cmds
		fn()
	}
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(fn func()) error {
	done := make(chan struct{})
	select {
	case c.cmds <- func() { defer close(done); fn() }:
	case <-c.quit:
		return ErrSessionClosed
	}
	<-done
	return nil
}

// read runs fn on the loop, or directly once the loop has exited.
func (c *Controller) read(fn func()) {
	if err := c.call(fn); err != nil {
		fn()
	}
}

// post hands a worker result back to the loop.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.quit:
	}
}

func (c *Controller) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		debug.Info("Session: illegal transition %s -> %s ignored", from, to)
		return
	}
	c.state = to
	debug.State(from.String(), to.String())
	c.emit(Event{Kind: EventStateChanged, From: from, State: to})
}

func (c *Controller) emit(e Event) {
	if c.eventsClosed {
		return
	}
	e.At = time.Now()
	select {
	case c.events <- e:
	default:
		debug.Verbose("Session: %s event dropped, no reader", e.Kind)
	}
}

// Events delivers state changes, capture results and bind failures.
// The channel is closed when teardown completes.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// State returns the current state.
func (c *Controller) State() State {
	var s State
	c.read(func() { s = c.state })
	return s
}

// Config returns a copy of the session configuration.
func (c *Controller) Config() SessionConfig {
	var cfg SessionConfig
	c.read(func() { cfg = c.cfg })
	return cfg
}

// Lenses returns the lens facings found at Start.
func (c *Controller) Lenses() []camera.LensFacing {
	var l []camera.LensFacing
	c.read(func() { l = append(l, c.lenses...) })
	return l
}

// CanSwitchLens reports whether both lenses were found.
func (c *Controller) CanSwitchLens() bool {
	var ok bool
	c.read(func() { ok = hasLens(c.lenses, camera.LensBack) && hasLens(c.lenses, camera.LensFront) })
	return ok
}

func hasLens(lenses []camera.LensFacing, l camera.LensFacing) bool {
	for _, x := range lenses {
		if x == l {
			return true
		}
	}
	return false
}

// Start enumerates the camera and binds the configured lens, falling back
// to the back lens, then the front one. It blocks until the bind completes.
//
// An error wrapping camera.ErrDeviceUnavailable is fatal; a *camera.BindError
// with Retryable() true may be retried by calling Start again.
func (c *Controller) Start(ctx context.Context, perm Permissions) error {
	if perm != nil && !perm.CameraAccessGranted() {
		return ErrPermissionDenied
	}

	reply := make(chan error, 1)
	var err error
	if cerr := c.call(func() {
		switch {
		case c.closing:
			err = ErrSessionClosed
		case c.state != Unbound || c.starting:
			err = fmt.Errorf("%w: start while %s", ErrSessionBusy, c.state)
		default:
			c.starting = true
			debug.Summary("Starting camera session")
			c.worker.submit(func(context.Context) {
				lenses, err := c.handle.Enumerate()
				c.post(func() { c.onEnumerated(lenses, err, reply) })
			})
		}
	}); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-c.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) onEnumerated(lenses []camera.LensFacing, err error, reply chan<- error) {
	c.starting = false
	if err == nil && c.closing {
		err = ErrSessionClosed
	}
	if err != nil {
		debug.Error(err)
		c.emit(Event{Kind: EventBindFailed, State: c.state, Err: err})
		reply <- err
		return
	}

	c.lenses = lenses
	switch {
	case hasLens(lenses, c.cfg.Lens):
	case hasLens(lenses, camera.LensBack):
		c.cfg.Lens = camera.LensBack
	default:
		c.cfg.Lens = camera.LensFront
	}
	debug.Value("lenses", lenses)

	c.pullDisplay()
	spec := c.bindSpec()
	c.setState(Binding)
	c.submitBind(spec, reply)
}

// pullDisplay reads the display geometry into the committed aspect ratio and
// target rotation.
func (c *Controller) pullDisplay() {
	if c.display == nil {
		return
	}
	w, h := c.display.Metrics()
	c.commitDisplay(w, h, c.display.Rotation())
}

// commitDisplay records display geometry used by the next bind. Non-positive
// metrics keep the previous aspect ratio; an invalid rotation keeps the
// configured one.
func (c *Controller) commitDisplay(w, h int, r camera.Rotation) {
	if w > 0 && h > 0 {
		c.aspect = geometry.SelectAspectRatio(w, h)
	} else {
		debug.Verbose("Session: display metrics %dx%d ignored, keeping %s", w, h, c.aspect)
	}
	if r.Valid() {
		c.cfg.Rotation = r
	}
}

// bindSpec rebuilds the use case set from the committed configuration.
func (c *Controller) bindSpec() camera.BindSpec {
	uc := camera.UseCaseSet{Preview: c.opts.Preview, Analysis: c.opts.Analysis}
	if c.opts.Capture != nil {
		sc := *c.opts.Capture
		sc.Flash = c.cfg.Flash
		uc.Capture = &sc
	}
	return camera.BindSpec{
		Lens:     c.cfg.Lens,
		UseCases: uc,
		Rotation: c.cfg.Rotation,
		Aspect:   c.aspect,
	}
}

// submitBind queues an unbind-then-bind of spec. reply, when non-nil,
// receives the outcome.
func (c *Controller) submitBind(spec camera.BindSpec, reply chan<- error) {
	c.worker.submit(func(context.Context) {
		err := c.handle.Rebind(spec)
		c.post(func() { c.onBindDone(spec, err, reply) })
	})
}

func (c *Controller) onBindDone(spec camera.BindSpec, err error, reply chan<- error) {
	debug.Bind(spec.Lens.String(), spec.Aspect.String(), int(spec.Rotation), err)
	if err != nil {
		c.bound = camera.BindSpec{}
		c.pendingRebind = false
		c.setState(Unbound)
		c.emit(Event{Kind: EventBindFailed, State: c.state, Err: err})
		if reply != nil {
			reply <- err
		}
		return
	}

	c.bound = spec
	c.setState(Bound)
	if reply != nil {
		reply <- nil
	}
	c.afterBound()
}

// afterBound applies what changed while the bind was in flight.
func (c *Controller) afterBound() {
	if c.closing {
		return
	}
	if c.pendingRebind {
		c.pendingRebind = false
		c.startRebind()
		return
	}
	if c.cfg.Rotation != c.bound.Rotation {
		c.writeRotation(c.cfg.Rotation)
	}
	if sc := c.bound.UseCases.Capture; sc != nil && sc.Flash != c.cfg.Flash {
		c.writeFlash(c.cfg.Flash)
	}
}

func (c *Controller) startRebind() {
	spec := c.bindSpec()
	c.setState(Rebinding)
	c.submitBind(spec, nil)
}

// rebindAllowed reports ErrSessionBusy while a bind is in flight.
func (c *Controller) rebindAllowed() error {
	if c.state == Binding || c.state == Rebinding {
		return fmt.Errorf("%w: rebind while %s", ErrSessionBusy, c.state)
	}
	return nil
}

// requestRebind applies the rebind policy for the current state.
func (c *Controller) requestRebind() error {
	switch c.state {
	case Unbound:
		// The next Start binds with the new configuration.
		return nil
	case Bound:
		c.startRebind()
		return nil
	case Capturing:
		if !c.pendingRebind {
			c.pendingRebind = true
			debug.Live("Session: rebind deferred until capture completes")
			c.emit(Event{Kind: EventRebindDeferred, State: c.state})
		}
		return nil
	default:
		return fmt.Errorf("%w: rebind while %s", ErrSessionBusy, c.state)
	}
}

func (c *Controller) writeRotation(r camera.Rotation) {
	c.bound.Rotation = r
	c.worker.submit(func(context.Context) {
		err := c.handle.SetTargetRotation(r)
		c.post(func() { c.onPropertyWritten("rotation", err) })
	})
}

func (c *Controller) writeFlash(m camera.FlashMode) {
	sc := *c.bound.UseCases.Capture
	sc.Flash = m
	c.bound.UseCases.Capture = &sc
	c.worker.submit(func(context.Context) {
		err := c.handle.SetFlashMode(m)
		c.post(func() { c.onPropertyWritten("flash", err) })
	})
}

func (c *Controller) onPropertyWritten(name string, err error) {
	if err != nil {
		debug.Info("Session: %s write failed: %v", name, err)
	} else {
		debug.Verbose("Session: %s written in place", name)
	}
	c.emit(Event{Kind: EventPropertyWritten, State: c.state, Err: err})
}

// SwitchLens toggles between the back and front lens and rebinds.
// While a capture is in flight the rebind is deferred until it completes.
func (c *Controller) SwitchLens() error {
	var err error
	if cerr := c.call(func() {
		if c.closing {
			err = ErrSessionClosed
			return
		}
		if c.state == Binding || c.state == Rebinding {
			err = fmt.Errorf("%w: lens switch while %s", ErrSessionBusy, c.state)
			return
		}
		target := c.cfg.Lens.Opposite()
		if c.lenses != nil && !hasLens(c.lenses, target) {
			err = fmt.Errorf("%w: %s", ErrLensUnavailable, target)
			return
		}
		c.cfg.SwitchLens()
		err = c.requestRebind()
	}); cerr != nil {
		return cerr
	}
	return err
}

// ConfigurationChanged reads the display's current geometry and rebinds.
// While a bind is in flight it fails with ErrSessionBusy and the display is
// not read.
func (c *Controller) ConfigurationChanged() error {
	var err error
	if cerr := c.call(func() {
		if c.closing {
			err = ErrSessionClosed
			return
		}
		if err = c.rebindAllowed(); err != nil {
			return
		}
		c.pullDisplay()
		err = c.requestRebind()
	}); cerr != nil {
		return cerr
	}
	return err
}

// DisplayChanged commits new display geometry and rebinds. The values are
// committed only when the rebind is accepted: while a bind is in flight it
// fails with ErrSessionBusy and nothing changes.
func (c *Controller) DisplayChanged(width, height int, rotation camera.Rotation) error {
	if !rotation.Valid() {
		return fmt.Errorf("invalid display rotation %d", rotation)
	}
	var err error
	if cerr := c.call(func() {
		if c.closing {
			err = ErrSessionClosed
			return
		}
		if err = c.rebindAllowed(); err != nil {
			return
		}
		c.commitDisplay(width, height, rotation)
		err = c.requestRebind()
	}); cerr != nil {
		return cerr
	}
	return err
}

// SetTargetRotation updates the target rotation of the live use cases in
// place. Mid-bind, the value is written as soon as the bind completes.
func (c *Controller) SetTargetRotation(degrees int) error {
	r, err := camera.ParseRotation(degrees)
	if err != nil {
		return err
	}
	if cerr := c.call(func() {
		if c.closing {
			err = ErrSessionClosed
			return
		}
		if c.cfg.SetRotation(r) == EffectNone {
			return
		}
		if (c.state == Bound || c.state == Capturing) && c.bound.Rotation != r {
			c.writeRotation(r)
		}
	}); cerr != nil {
		return cerr
	}
	return err
}

// SetFlashMode updates the flash mode of the still capture use case in place.
func (c *Controller) SetFlashMode(m camera.FlashMode) error {
	var err error
	if cerr := c.call(func() {
		if c.closing {
			err = ErrSessionClosed
			return
		}
		if c.opts.Capture == nil {
			err = camera.ErrNoCaptureUseCase
			return
		}
		if c.cfg.SetFlash(m) == EffectNone {
			return
		}
		if (c.state == Bound || c.state == Capturing) && c.bound.UseCases.Capture != nil {
			c.writeFlash(m)
		}
	}); cerr != nil {
		return cerr
	}
	return err
}

// SetTimer selects the countdown used by the capture pipeline.
func (c *Controller) SetTimer(t Timer) error {
	var err error
	if cerr := c.call(func() {
		if c.closing {
			err = ErrSessionClosed
			return
		}
		c.cfg.SetTimer(t)
	}); cerr != nil {
		return cerr
	}
	return err
}

// Capture starts one still capture into out. It fails with ErrSessionBusy
// unless the session is BOUND. The result is delivered exactly once on the
// returned channel.
func (c *Controller) Capture(out camera.OutputTarget) (<-chan CaptureResult, error) {
	var (
		ch  chan CaptureResult
		err error
	)
	if cerr := c.call(func() {
		if c.closing {
			err = ErrSessionClosed
			return
		}
		if c.state != Bound {
			err = fmt.Errorf("%w: capture while %s", ErrSessionBusy, c.state)
			return
		}
		if c.bound.UseCases.Capture == nil {
			err = camera.ErrNoCaptureUseCase
			return
		}

		meta := camera.Metadata{MirrorHorizontally: c.bound.Lens == camera.LensFront}
		req := camera.NewCaptureRequest(out, meta)
		res := CaptureResult{
			RequestID: req.ID,
			Lens:      c.bound.Lens,
			Rotation:  c.bound.Rotation,
			Mirrored:  meta.MirrorHorizontally,
		}
		ch = make(chan CaptureResult, 1)
		c.setState(Capturing)
		c.worker.submit(func(ctx context.Context) {
			uri, err := c.handle.TakePicture(ctx, req)
			stillBound := c.handle.Bound()
			c.post(func() {
				res.URI, res.Err = uri, err
				c.onCaptureDone(res, stillBound, ch)
			})
		})
	}); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Controller) onCaptureDone(res CaptureResult, stillBound bool, ch chan<- CaptureResult) {
	if stillBound {
		c.setState(Bound)
	} else {
		c.bound = camera.BindSpec{}
		c.pendingRebind = false
		c.setState(Unbound)
	}
	if res.Err != nil {
		debug.Info("Session: capture %s failed: %v", res.RequestID, res.Err)
	} else {
		debug.Shot(res.URI)
	}

	ch <- res
	close(ch)
	c.emit(Event{Kind: EventCaptureDone, State: c.state, Result: &res, Err: res.Err})

	if c.state == Bound && c.pendingRebind && !c.closing {
		c.pendingRebind = false
		c.startRebind()
	}
}

// Close refuses new requests and unbinds the camera once the in-flight
// worker task finishes.
// If ctx expires first, running tasks are cancelled through their context
// and Close returns ctx.Err() without waiting for a hardware call that
// ignores it; teardown then completes as soon as that call returns.
func (c *Controller) Close(ctx context.Context) error {
	if err := c.call(func() {
		if c.closing {
			return
		}
		c.closing = true
		c.pendingRebind = false
		debug.Verbose("Session: teardown requested in state %s", c.state)
		c.worker.submit(func(context.Context) {
			err := c.handle.Unbind()
			c.post(func() { c.finishClose(err) })
		})
	}); err != nil {
		return nil
	}

	select {
	case <-c.quit:
		c.worker.wait()
		return nil
	case <-ctx.Done():
		debug.Info("Session: teardown deadline reached, abandoning in-flight task")
		c.worker.abandon()
		return ctx.Err()
	}
}

func (c *Controller) finishClose(unbindErr error) {
	if unbindErr != nil {
		debug.Error(unbindErr)
	}
	c.bound = camera.BindSpec{}
	c.setState(Unbound)
	c.setState(Closed)
	c.worker.stop()
	c.eventsClosed = true
	close(c.events)
	c.stopped = true
}
