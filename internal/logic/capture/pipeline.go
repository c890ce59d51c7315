package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SmartCam/internal/debug"
	"github.com/cjeanneret/SmartCam/internal/hw/camera"
	"github.com/cjeanneret/SmartCam/internal/logic/session"
)

var (
	// ErrCountdownActive is returned when a countdown is already running.
	ErrCountdownActive = errors.New("countdown already running")
	// ErrCountdownCancelled ends a countdown torn down before its capture completed.
	ErrCountdownCancelled = errors.New("countdown cancelled")
	// ErrPipelineClosed is returned by StartCapture after Close.
	ErrPipelineClosed = errors.New("capture pipeline closed")
)

// Capturer issues one still capture. *session.Controller implements it.
type Capturer interface {
	Capture(out camera.OutputTarget) (<-chan session.CaptureResult, error)
}

// TargetFunc supplies a fresh output target for each capture.
type TargetFunc func() (camera.OutputTarget, error)

// EventKind classifies pipeline events.
type EventKind int

const (
	EventTick EventKind = iota
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one step of a countdown capture. A sequence is zero or more
// ticks followed by exactly one Completed or Failed event.
type Event struct {
	Kind      EventKind
	Remaining int                    // ticks only
	Result    *session.CaptureResult // Completed, and Failed when the capture ran
	Err       error                  // Failed only
	At        time.Time
}

// Pipeline runs an optional countdown, then a still capture.
// One countdown runs at a time.
type Pipeline struct {
	capturer Capturer
	targets  TargetFunc
	tick     time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline ticking every tick (one second in production).
func NewPipeline(c Capturer, targets TargetFunc, tick time.Duration) *Pipeline {
	if tick <= 0 {
		tick = time.Second
	}
	return &Pipeline{capturer: c, targets: targets, tick: tick}
}

// StartCapture starts a countdown of timer.Seconds() ticks and returns its
// event sequence. The channel is closed after the terminal event.
func (p *Pipeline) StartCapture(ctx context.Context, timer session.Timer) (<-chan Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPipelineClosed
	}
	if p.cancel != nil {
		return nil, ErrCountdownActive
	}

	cctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	n := timer.Seconds()
	// Sized for every event, so the countdown never waits on its reader.
	events := make(chan Event, n+1)

	debug.Live("Countdown: starting (%s)", timer)
	p.wg.Add(1)
	go p.run(cctx, n, events)
	return events, nil
}

func (p *Pipeline) run(ctx context.Context, n int, events chan<- Event) {
	defer p.wg.Done()
	defer close(events)

	term := p.countdown(ctx, n, events)

	// The slot is free by the time the terminal event is observed.
	p.mu.Lock()
	p.cancel()
	p.cancel = nil
	p.mu.Unlock()

	term.At = time.Now()
	if term.Err != nil {
		debug.Info("Countdown: capture failed: %v", term.Err)
	} else {
		debug.Live("Countdown: completed %s", term.Result.URI)
	}
	events <- term
}

// countdown emits the ticks, issues the capture and returns the terminal event.
func (p *Pipeline) countdown(ctx context.Context, n int, events chan<- Event) Event {
	failed := func(res *session.CaptureResult, err error) Event {
		return Event{Kind: EventFailed, Result: res, Err: err}
	}
	cancelled := func() Event {
		return failed(nil, fmt.Errorf("%w: %v", ErrCountdownCancelled, context.Cause(ctx)))
	}

	for remaining := n; remaining >= 1; remaining-- {
		if ctx.Err() != nil {
			return cancelled()
		}
		debug.Tick(remaining)
		events <- Event{Kind: EventTick, Remaining: remaining, At: time.Now()}

		t := time.NewTimer(p.tick)
		select {
		case <-ctx.Done():
			t.Stop()
			return cancelled()
		case <-t.C:
		}
	}
	if ctx.Err() != nil {
		return cancelled()
	}

	out, err := p.targets()
	if err != nil {
		return failed(nil, fmt.Errorf("output target: %w", err))
	}
	results, err := p.capturer.Capture(out)
	if err != nil {
		return failed(nil, err)
	}

	select {
	case res, ok := <-results:
		if !ok {
			return failed(nil, errors.New("capture result channel closed"))
		}
		if res.Err != nil {
			return failed(&res, res.Err)
		}
		return Event{Kind: EventCompleted, Result: &res}
	case <-ctx.Done():
		// The capture itself still finishes on the session worker.
		return failed(nil, fmt.Errorf("%w: result abandoned", ErrCountdownCancelled))
	}
}

// Cancel stops the running countdown, if any. No capture is issued if the
// countdown has not reached it yet.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		debug.Verbose("Countdown: cancel requested")
		p.cancel()
	}
}

// Active reports whether a countdown is running.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Close cancels any countdown and waits for it to finish. Later calls to
// StartCapture fail with ErrPipelineClosed.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}
