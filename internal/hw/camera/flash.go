package camera

import (
	"context"
	"time"

	"github.com/cjeanneret/SmartCam/internal/debug"
	"github.com/cjeanneret/SmartCam/internal/hw/gpio"
)

// GPIOFlash is a Flash driven by one GPIO line (LED driver or flash trigger
// opto-coupler). The line is active HIGH.
//
// Fire sequence:
// 1. LINE to HIGH (flash on)
// 2. Hold for the pulse duration
// 3. LINE back to LOW
type GPIOFlash struct {
	gpio  gpio.Driver
	pin   int
	pulse time.Duration
}

// NewGPIOFlash configures pin as an output held LOW (inactive).
func NewGPIOFlash(g gpio.Driver, pin int, pulse time.Duration) *GPIOFlash {
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, gpio.Low)

	return &GPIOFlash{
		gpio:  g,
		pin:   pin,
		pulse: pulse,
	}
}

// Fire pulses the flash line once. The line is released even when ctx is
// cancelled during the pulse.
func (f *GPIOFlash) Fire(ctx context.Context) error {
	debug.Verbose("Flash: firing (pin %d, pulse %v)", f.pin, f.pulse)

	if err := f.gpio.WritePin(f.pin, gpio.High); err != nil {
		return err
	}

	t := time.NewTimer(f.pulse)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}

	if err := f.gpio.WritePin(f.pin, gpio.Low); err != nil {
		return err
	}
	return ctx.Err()
}
