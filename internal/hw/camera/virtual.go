package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/cjeanneret/SmartCam/internal/debug"
)

// VirtualOptions configures a VirtualDevice.
type VirtualOptions struct {
	Lenses        []LensFacing
	LongEdge      int           // long edge of the stream resolution, pixels
	FrameInterval time.Duration // 0 disables preview/analysis frames
	SceneLuma     uint8         // constant scene luminance
	CaptureDelay  time.Duration // simulated exposure time

	Flash          Flash
	FlashThreshold float64

	// Failure injection, for tests.
	OpenErr    error
	CaptureErr error
}

// VirtualDevice is an in-process camera that produces flat gray frames.
// It is used for development without a camera and in tests.
type VirtualDevice struct {
	mu       sync.Mutex
	opts     VirtualOptions
	open     map[LensFacing]bool
	opens    int
	closes   int
	captures int
}

// NewVirtualDevice creates a virtual camera.
func NewVirtualDevice(opts VirtualOptions) *VirtualDevice {
	if opts.LongEdge <= 0 {
		opts.LongEdge = 640
	}
	return &VirtualDevice{opts: opts, open: make(map[LensFacing]bool)}
}

func (d *VirtualDevice) Lenses() ([]LensFacing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]LensFacing(nil), d.opts.Lenses...), nil
}

func (d *VirtualDevice) DeviceID(lens LensFacing) string {
	return "virtual-" + lens.String()
}

func (d *VirtualDevice) hasLens(lens LensFacing) bool {
	for _, l := range d.opts.Lenses {
		if l == lens {
			return true
		}
	}
	return false
}

func (d *VirtualDevice) Open(spec BindSpec) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasLens(spec.Lens) {
		return nil, fmt.Errorf("%w: no %s lens", ErrDeviceUnavailable, spec.Lens)
	}
	if d.opts.OpenErr != nil {
		return nil, d.opts.OpenErr
	}
	if d.open[spec.Lens] {
		return nil, ErrDeviceBusy
	}
	d.open[spec.Lens] = true
	d.opens++

	w, h := spec.Aspect.Resolution(d.opts.LongEdge)
	s := &virtualStream{
		dev:      d,
		spec:     spec,
		width:    w,
		height:   h,
		rotation: spec.Rotation,
		stop:     make(chan struct{}),
	}
	if spec.UseCases.Capture != nil {
		s.flash = spec.UseCases.Capture.Flash
	}
	if d.opts.FrameInterval > 0 && (spec.UseCases.Preview != nil || spec.UseCases.Analysis != nil) {
		s.wg.Add(1)
		go s.run(d.opts.FrameInterval)
	}
	debug.Verbose("Virtual camera: opened %s lens at %dx%d", spec.Lens, w, h)
	return s, nil
}

// Opens returns how many streams were opened.
func (d *VirtualDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns how many streams were closed.
func (d *VirtualDevice) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Captures returns how many still captures completed.
func (d *VirtualDevice) Captures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

// OpenLenses returns how many lenses are currently streaming.
func (d *VirtualDevice) OpenLenses() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.open {
		if o {
			n++
		}
	}
	return n
}

// SetCaptureDelay changes the simulated exposure time for later captures.
func (d *VirtualDevice) SetCaptureDelay(delay time.Duration) {
	d.mu.Lock()
	d.opts.CaptureDelay = delay
	d.mu.Unlock()
}

// SetCaptureErr makes later captures fail with err (nil to clear).
func (d *VirtualDevice) SetCaptureErr(err error) {
	d.mu.Lock()
	d.opts.CaptureErr = err
	d.mu.Unlock()
}

// SetSceneLuma changes the simulated scene luminance.
func (d *VirtualDevice) SetSceneLuma(luma uint8) {
	d.mu.Lock()
	d.opts.SceneLuma = luma
	d.mu.Unlock()
}

type virtualStream struct {
	dev           *VirtualDevice
	spec          BindSpec
	width, height int

	mu       sync.Mutex
	rotation Rotation
	flash    FlashMode
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func (s *virtualStream) run(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			seq++
			s.dev.mu.Lock()
			luma := s.dev.opts.SceneLuma
			s.dev.mu.Unlock()
			s.mu.Lock()
			rot := s.rotation
			s.mu.Unlock()

			plane := bytes.Repeat([]byte{luma}, s.width*s.height)
			f := Frame{Seq: seq, Width: s.width, Height: s.height, Luma: plane, Rotation: rot, At: now}
			if s.spec.UseCases.Analysis != nil {
				s.spec.UseCases.Analysis.Analyze(f)
			}
			if s.spec.UseCases.Preview != nil {
				s.spec.UseCases.Preview.RenderFrame(f)
			}
		}
	}
}

func (s *virtualStream) SetTargetRotation(r Rotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotBound
	}
	s.rotation = r
	return nil
}

func (s *virtualStream) SetFlashMode(m FlashMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotBound
	}
	s.flash = m
	return nil
}

// Rotation returns the current target rotation of the stream.
func (s *virtualStream) Rotation() Rotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

func (s *virtualStream) TakePicture(ctx context.Context, meta Metadata) ([]byte, error) {
	s.mu.Lock()
	closed, rot, flash := s.closed, s.rotation, s.flash
	quality := 90
	if s.spec.UseCases.Capture != nil && s.spec.UseCases.Capture.Quality > 0 {
		quality = s.spec.UseCases.Capture.Quality
	}
	s.mu.Unlock()
	if closed {
		return nil, ErrNotBound
	}

	s.dev.mu.Lock()
	delay, capErr, luma := s.dev.opts.CaptureDelay, s.dev.opts.CaptureErr, s.dev.opts.SceneLuma
	fl, threshold := s.dev.opts.Flash, s.dev.opts.FlashThreshold
	s.dev.mu.Unlock()

	if fl != nil && shouldFire(flash, float64(luma), threshold) {
		if err := fl.Fire(ctx); err != nil {
			return nil, fmt.Errorf("flash: %w", err)
		}
	}

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if capErr != nil {
		return nil, capErr
	}

	w, h := s.width, s.height
	if rot == Rotation90 || rot == Rotation270 {
		w, h = h, w
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = luma
	}
	// White marker column on the left edge; mirroring moves it right.
	marker := 0
	if meta.MirrorHorizontally {
		marker = w - 1
	}
	for y := 0; y < h; y++ {
		img.SetGray(marker, y, color.Gray{Y: 255})
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	s.dev.mu.Lock()
	s.dev.captures++
	s.dev.mu.Unlock()
	return buf.Bytes(), nil
}

func (s *virtualStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	s.dev.mu.Lock()
	s.dev.open[s.spec.Lens] = false
	s.dev.closes++
	s.dev.mu.Unlock()
	debug.Verbose("Virtual camera: closed %s lens", s.spec.Lens)
	return nil
}
