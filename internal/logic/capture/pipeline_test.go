package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SmartCam/internal/hw/camera"
	"github.com/cjeanneret/SmartCam/internal/logic/session"
)

// recordingCapturer records Capture calls and answers with a canned result.
type recordingCapturer struct {
	mu    sync.Mutex
	calls int
	err   error // synchronous rejection
	res   session.CaptureResult
	delay time.Duration
}

func (c *recordingCapturer) Capture(out camera.OutputTarget) (<-chan session.CaptureResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.calls++
	ch := make(chan session.CaptureResult, 1)
	res := c.res
	res.URI = out.URI()
	go func() {
		time.Sleep(c.delay)
		ch <- res
		close(ch)
	}()
	return ch, nil
}

func (c *recordingCapturer) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type nameTarget string

func (n nameTarget) Create() (io.WriteCloser, error) { return nil, errors.New("not used") }
func (n nameTarget) URI() string                     { return string(n) }

func targets() (camera.OutputTarget, error) { return nameTarget("file:///tmp/shot.jpg"), nil }

const testTick = 20 * time.Millisecond

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("event sequence did not terminate")
		}
	}
}

func TestStartCapture_Sec3(t *testing.T) {
	capt := &recordingCapturer{}
	p := NewPipeline(capt, targets, testTick)
	defer p.Close()

	events, err := p.StartCapture(context.Background(), session.TimerSec3)
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	got := collect(t, events)

	if len(got) != 4 {
		t.Fatalf("got %d events, want 3 ticks + 1 terminal: %+v", len(got), got)
	}
	for i, want := range []int{3, 2, 1} {
		if got[i].Kind != EventTick || got[i].Remaining != want {
			t.Errorf("event %d = %s(%d), want tick(%d)", i, got[i].Kind, got[i].Remaining, want)
		}
	}
	for i := 1; i < 4; i++ {
		gap := got[i].At.Sub(got[i-1].At)
		if gap < testTick || gap > 10*testTick {
			t.Errorf("spacing between event %d and %d = %v, want about %v", i-1, i, gap, testTick)
		}
	}
	last := got[3]
	if last.Kind != EventCompleted || last.Result == nil || last.Result.URI != "file:///tmp/shot.jpg" {
		t.Errorf("terminal = %+v, want completed with uri", last)
	}
	if capt.callCount() != 1 {
		t.Errorf("captures = %d, want 1", capt.callCount())
	}
}

func TestStartCapture_OffIsImmediate(t *testing.T) {
	capt := &recordingCapturer{}
	p := NewPipeline(capt, targets, time.Hour)
	defer p.Close()

	start := time.Now()
	events, err := p.StartCapture(context.Background(), session.TimerOff)
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)
	if len(got) != 1 || got[0].Kind != EventCompleted {
		t.Fatalf("events = %+v, want a single completed event", got)
	}
	if time.Since(start) > time.Second {
		t.Error("OFF timer should not wait a tick")
	}
}

func TestStartCapture_CancelAfterSecondTick(t *testing.T) {
	capt := &recordingCapturer{}
	p := NewPipeline(capt, targets, testTick)

	events, err := p.StartCapture(context.Background(), session.TimerSec3)
	if err != nil {
		t.Fatal(err)
	}
	var got []Event
	for e := range events {
		got = append(got, e)
		if e.Kind == EventTick && e.Remaining == 2 {
			p.Close()
		}
	}

	if len(got) != 3 || got[2].Kind != EventFailed || !errors.Is(got[2].Err, ErrCountdownCancelled) {
		t.Fatalf("events = %+v, want ticks 3,2 then cancelled", got)
	}
	time.Sleep(3 * testTick)
	if capt.callCount() != 0 {
		t.Errorf("capture issued after teardown: %d calls", capt.callCount())
	}
	if _, err := p.StartCapture(context.Background(), session.TimerOff); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("StartCapture after Close = %v, want ErrPipelineClosed", err)
	}
}

func TestStartCapture_ContextCancel(t *testing.T) {
	capt := &recordingCapturer{}
	p := NewPipeline(capt, targets, time.Hour)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := p.StartCapture(ctx, session.TimerSec10)
	if err != nil {
		t.Fatal(err)
	}
	<-events // tick 10
	cancel()
	got := collect(t, events)
	if len(got) != 1 || !errors.Is(got[0].Err, ErrCountdownCancelled) {
		t.Errorf("after cancel = %+v, want one cancelled event", got)
	}
	if capt.callCount() != 0 {
		t.Error("no capture should be issued")
	}
}

func TestStartCapture_OneAtATime(t *testing.T) {
	capt := &recordingCapturer{}
	p := NewPipeline(capt, targets, testTick)
	defer p.Close()

	events, err := p.StartCapture(context.Background(), session.TimerSec3)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Active() {
		t.Error("Active should be true during a countdown")
	}
	if _, err := p.StartCapture(context.Background(), session.TimerOff); !errors.Is(err, ErrCountdownActive) {
		t.Errorf("second StartCapture = %v, want ErrCountdownActive", err)
	}
	p.Cancel()
	collect(t, events)

	events, err = p.StartCapture(context.Background(), session.TimerOff)
	if err != nil {
		t.Fatalf("StartCapture after cancel: %v", err)
	}
	collect(t, events)
}

func TestStartCapture_Failures(t *testing.T) {
	t.Run("session busy", func(t *testing.T) {
		capt := &recordingCapturer{err: session.ErrSessionBusy}
		p := NewPipeline(capt, targets, testTick)
		defer p.Close()
		events, _ := p.StartCapture(context.Background(), session.TimerOff)
		got := collect(t, events)
		if len(got) != 1 || got[0].Kind != EventFailed || !errors.Is(got[0].Err, session.ErrSessionBusy) {
			t.Errorf("events = %+v, want failed with ErrSessionBusy", got)
		}
	})

	t.Run("capture error", func(t *testing.T) {
		boom := errors.New("write failed")
		capt := &recordingCapturer{res: session.CaptureResult{Err: boom}}
		p := NewPipeline(capt, targets, testTick)
		defer p.Close()
		events, _ := p.StartCapture(context.Background(), session.TimerOff)
		got := collect(t, events)
		if len(got) != 1 || !errors.Is(got[0].Err, boom) || got[0].Result == nil {
			t.Errorf("events = %+v, want failed carrying the result", got)
		}
	})

	t.Run("no output target", func(t *testing.T) {
		capt := &recordingCapturer{}
		noTarget := func() (camera.OutputTarget, error) { return nil, errors.New("disk gone") }
		p := NewPipeline(capt, noTarget, testTick)
		defer p.Close()
		events, _ := p.StartCapture(context.Background(), session.TimerOff)
		got := collect(t, events)
		if len(got) != 1 || got[0].Kind != EventFailed || capt.callCount() != 0 {
			t.Errorf("events = %+v, calls=%d", got, capt.callCount())
		}
	})
}

func TestClose_AbandonsPendingResult(t *testing.T) {
	capt := &recordingCapturer{delay: time.Hour}
	p := NewPipeline(capt, targets, testTick)
	events, err := p.StartCapture(context.Background(), session.TimerOff)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for capt.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Close()
	got := collect(t, events)
	if len(got) != 1 || !errors.Is(got[0].Err, ErrCountdownCancelled) {
		t.Errorf("events = %+v, want abandoned result", got)
	}
}
