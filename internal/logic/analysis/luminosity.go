package analysis

import (
	"sync"
	"time"

	"github.com/cjeanneret/SmartCam/internal/debug"
	"github.com/cjeanneret/SmartCam/internal/hw/camera"
)

// fpsWindow is the number of frame timestamps kept for the frame rate estimate.
const fpsWindow = 8

// Reading is one luminosity measurement.
type Reading struct {
	Luma float64 // mean luma, 0-255
	FPS  float64
	At   time.Time
}

// Listener receives readings from the analysis goroutine.
type Listener func(Reading)

// Luminosity is the analysis use case: it averages the Y plane of frames,
// at most once per interval, and tracks the incoming frame rate.
type Luminosity struct {
	interval  time.Duration
	listeners []Listener

	mu     sync.Mutex
	frames []time.Time
	lastAt time.Time
	last   Reading
	ok     bool
}

// NewLuminosity creates an analyzer producing at most one reading per interval.
func NewLuminosity(interval time.Duration, listeners ...Listener) *Luminosity {
	return &Luminosity{interval: interval, listeners: listeners}
}

// Analyze implements camera.Analyzer.
func (l *Luminosity) Analyze(f camera.Frame) {
	l.mu.Lock()
	l.frames = append(l.frames, f.At)
	if len(l.frames) > fpsWindow {
		l.frames = l.frames[len(l.frames)-fpsWindow:]
	}
	if len(f.Luma) == 0 || (l.ok && f.At.Sub(l.lastAt) < l.interval) {
		l.mu.Unlock()
		return
	}

	r := Reading{Luma: meanLuma(f.Luma), FPS: l.fps(), At: f.At}
	l.lastAt = f.At
	l.last = r
	l.ok = true
	l.mu.Unlock()

	debug.Trace("Analysis: luma %.1f, %.1f fps", r.Luma, r.FPS)
	for _, fn := range l.listeners {
		fn(r)
	}
}

// fps estimates the frame rate from the timestamp window. Caller holds mu.
func (l *Luminosity) fps() float64 {
	if len(l.frames) < 2 {
		return 0
	}
	span := l.frames[len(l.frames)-1].Sub(l.frames[0])
	if span <= 0 {
		return 0
	}
	return float64(len(l.frames)-1) / span.Seconds()
}

// Last returns the latest reading, if any.
func (l *Luminosity) Last() (Reading, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.ok
}

func meanLuma(plane []byte) float64 {
	var sum uint64
	for _, v := range plane {
		sum += uint64(v)
	}
	return float64(sum) / float64(len(plane))
}
