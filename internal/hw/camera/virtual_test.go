package camera

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SmartCam/internal/logic/geometry"
)

type countingSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (c *countingSink) RenderFrame(f Frame) { c.add(f) }
func (c *countingSink) Analyze(f Frame)     { c.add(f) }

func (c *countingSink) add(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *countingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestVirtualDevice_SecondOpenBusy(t *testing.T) {
	dev := bothLenses()
	s, err := dev.Open(captureSpec(LensBack))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := dev.Open(captureSpec(LensBack)); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("second Open = %v, want ErrDeviceBusy", err)
	}
}

func TestVirtualDevice_NoFramesAfterClose(t *testing.T) {
	dev := NewVirtualDevice(VirtualOptions{
		Lenses:        []LensFacing{LensBack},
		LongEdge:      8,
		FrameInterval: time.Millisecond,
		SceneLuma:     40,
	})
	sink := &countingSink{}
	s, err := dev.Open(BindSpec{Lens: LensBack, UseCases: UseCaseSet{Preview: sink, Analysis: sink}})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for sink.count() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sink.count() < 4 {
		t.Fatalf("got %d frames, want at least 4", sink.count())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	n := sink.count()
	time.Sleep(10 * time.Millisecond)
	if sink.count() != n {
		t.Errorf("frames delivered after Close: %d -> %d", n, sink.count())
	}

	f := sink.frames[0]
	if len(f.Luma) != f.Width*f.Height || f.Luma[0] != 40 {
		t.Errorf("frame luma plane = %d bytes, first=%d", len(f.Luma), f.Luma[0])
	}
}

func TestVirtualDevice_RotatedCapture(t *testing.T) {
	dev := NewVirtualDevice(VirtualOptions{Lenses: []LensFacing{LensBack}, LongEdge: 32})
	s, err := dev.Open(BindSpec{
		Lens:     LensBack,
		UseCases: UseCaseSet{Capture: &StillCapture{}},
		Rotation: Rotation90,
		Aspect:   geometry.Ratio16x9,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	data, err := s.TakePicture(context.Background(), Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 18 || cfg.Height != 32 {
		t.Errorf("portrait capture = %dx%d, want 18x32", cfg.Width, cfg.Height)
	}
}

func TestVirtualDevice_FlashAuto(t *testing.T) {
	drv := &recordingDriver{}
	fl := NewGPIOFlash(drv, 5, time.Microsecond)
	dev := NewVirtualDevice(VirtualOptions{
		Lenses:         []LensFacing{LensBack},
		LongEdge:       8,
		SceneLuma:      20,
		Flash:          fl,
		FlashThreshold: 60,
	})
	s, err := dev.Open(BindSpec{Lens: LensBack, UseCases: UseCaseSet{Capture: &StillCapture{Flash: FlashAuto}}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	drv.reset()

	if _, err := s.TakePicture(context.Background(), Metadata{}); err != nil {
		t.Fatal(err)
	}
	if len(drv.writeCalls()) != 2 {
		t.Errorf("dark scene: flash writes = %v, want one pulse", drv.writeCalls())
	}

	drv.reset()
	dev.SetSceneLuma(200)
	if _, err := s.TakePicture(context.Background(), Metadata{}); err != nil {
		t.Fatal(err)
	}
	if len(drv.writeCalls()) != 0 {
		t.Errorf("bright scene: flash writes = %v, want none", drv.writeCalls())
	}
}

func TestVirtualDevice_CaptureDelayHonoursContext(t *testing.T) {
	dev := NewVirtualDevice(VirtualOptions{Lenses: []LensFacing{LensBack}, CaptureDelay: time.Hour})
	s, err := dev.Open(captureSpec(LensBack))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.TakePicture(ctx, Metadata{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("TakePicture = %v, want deadline exceeded", err)
	}
	if dev.Captures() != 0 {
		t.Errorf("captures = %d, want 0", dev.Captures())
	}
}
