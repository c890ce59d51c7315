//go:build opencv

package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/cjeanneret/SmartCam/internal/debug"
)

// OpenCVDevice is a Device backed by V4L2/AVFoundation cameras through gocv.
type OpenCVDevice struct {
	opts OpenCVOptions
}

// NewOpenCVDevice creates an OpenCV-backed camera device.
func NewOpenCVDevice(opts OpenCVOptions) (Device, error) {
	if opts.LongEdge <= 0 {
		opts.LongEdge = 1280
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 33 * time.Millisecond
	}
	return &OpenCVDevice{opts: opts}, nil
}

func (d *OpenCVDevice) index(lens LensFacing) int {
	if lens == LensFront {
		return d.opts.FrontIndex
	}
	return d.opts.BackIndex
}

func (d *OpenCVDevice) DeviceID(lens LensFacing) string {
	return fmt.Sprintf("video%d", d.index(lens))
}

// Lenses probes each configured index by opening and closing it.
func (d *OpenCVDevice) Lenses() ([]LensFacing, error) {
	var found []LensFacing
	for _, lens := range []LensFacing{LensBack, LensFront} {
		idx := d.index(lens)
		if idx < 0 {
			continue
		}
		vc, err := gocv.OpenVideoCapture(idx)
		if err != nil {
			debug.Verbose("Camera: probe %s lens (index %d): %v", lens, idx, err)
			continue
		}
		ok := vc.IsOpened()
		vc.Close()
		if ok {
			found = append(found, lens)
		}
	}
	return found, nil
}

func (d *OpenCVDevice) Open(spec BindSpec) (Stream, error) {
	idx := d.index(spec.Lens)
	if idx < 0 {
		return nil, fmt.Errorf("%w: no %s lens configured", ErrDeviceUnavailable, spec.Lens)
	}
	vc, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return nil, fmt.Errorf("open capture %d: %w", idx, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: capture %d is not open", ErrDeviceBusy, idx)
	}

	w, h := spec.Aspect.Resolution(d.opts.LongEdge)
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	vc.Set(gocv.VideoCaptureFrameWidth, float64(w))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(h))
	debug.Verbose("Camera: opened index %d, requested %dx%d, got %.0fx%.0f",
		idx, w, h, vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight))

	s := &cvStream{
		dev:      d,
		vc:       vc,
		spec:     spec,
		rotation: spec.Rotation,
		latest:   gocv.NewMat(),
		stop:     make(chan struct{}),
	}
	if spec.UseCases.Capture != nil {
		s.flash = spec.UseCases.Capture.Flash
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

type cvStream struct {
	dev  *OpenCVDevice
	vc   *gocv.VideoCapture
	spec BindSpec

	mu       sync.Mutex
	rotation Rotation
	flash    FlashMode
	latest   gocv.Mat
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// run reads frames continuously so the latest one is always at hand for a
// still capture, and paces delivery to the preview and analysis sinks.
func (s *cvStream) run() {
	defer s.wg.Done()
	img := gocv.NewMat()
	defer img.Close()
	gray := gocv.NewMat()
	defer gray.Close()

	var seq int64
	var lastDelivery time.Time
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if ok := s.vc.Read(&img); !ok || img.Empty() {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.mu.Lock()
		img.CopyTo(&s.latest)
		rot := s.rotation
		s.mu.Unlock()

		now := time.Now()
		if now.Sub(lastDelivery) < s.dev.opts.FrameInterval {
			continue
		}
		lastDelivery = now
		seq++

		f := Frame{Seq: seq, Width: img.Cols(), Height: img.Rows(), Rotation: rot, At: now}
		if s.spec.UseCases.Analysis != nil {
			gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
			f.Luma = gray.ToBytes()
			s.spec.UseCases.Analysis.Analyze(f)
		}
		if s.spec.UseCases.Preview != nil {
			buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
			if err != nil {
				debug.Trace("Camera: preview encode: %v", err)
				continue
			}
			f.JPEG = append([]byte(nil), buf.GetBytes()...)
			buf.Close()
			s.spec.UseCases.Preview.RenderFrame(f)
		}
	}
}

func (s *cvStream) SetTargetRotation(r Rotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotBound
	}
	s.rotation = r
	return nil
}

func (s *cvStream) SetFlashMode(m FlashMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotBound
	}
	s.flash = m
	return nil
}

func (s *cvStream) TakePicture(ctx context.Context, meta Metadata) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNotBound
	}
	if s.latest.Empty() {
		s.mu.Unlock()
		return nil, fmt.Errorf("no frame captured yet")
	}
	frame := s.latest.Clone()
	rot, flash := s.rotation, s.flash
	s.mu.Unlock()
	defer frame.Close()

	if fl := s.dev.opts.Flash; fl != nil {
		gray := gocv.NewMat()
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
		luma := gray.Mean().Val1
		gray.Close()
		if shouldFire(flash, luma, s.dev.opts.FlashThreshold) {
			if err := fl.Fire(ctx); err != nil {
				return nil, fmt.Errorf("flash: %w", err)
			}
			// Grab a frame exposed under the flash.
			s.mu.Lock()
			if !s.latest.Empty() {
				s.latest.CopyTo(&frame)
			}
			s.mu.Unlock()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch rot {
	case Rotation90:
		gocv.Rotate(frame, &frame, gocv.Rotate90CounterClockwise)
	case Rotation180:
		gocv.Rotate(frame, &frame, gocv.Rotate180Clockwise)
	case Rotation270:
		gocv.Rotate(frame, &frame, gocv.Rotate90Clockwise)
	}
	if meta.MirrorHorizontally {
		gocv.Flip(frame, &frame, 1)
	}

	quality := 90
	if c := s.spec.UseCases.Capture; c != nil && c.Quality > 0 {
		quality = c.Quality
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func (s *cvStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	s.mu.Lock()
	s.latest.Close()
	s.mu.Unlock()
	return s.vc.Close()
}
