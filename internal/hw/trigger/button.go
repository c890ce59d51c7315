package trigger

import (
	"context"
	"time"

	"github.com/cjeanneret/SmartCam/internal/debug"
	"github.com/cjeanneret/SmartCam/internal/hw/gpio"
)

// Button is a momentary push button wired between a GPIO pin and GND,
// read with the internal pull-up: released reads HIGH, pressed reads LOW.
type Button struct {
	gpio     gpio.Driver
	pin      int
	poll     time.Duration
	debounce time.Duration
	onPress  func()
}

// NewButton configures pin as a pulled-up input. onPress is called from
// Run's goroutine once per debounced press.
func NewButton(g gpio.Driver, pin int, poll, debounce time.Duration, onPress func()) *Button {
	_ = g.SetupPin(pin, gpio.InputPullUp)
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}
	return &Button{
		gpio:     g,
		pin:      pin,
		poll:     poll,
		debounce: debounce,
		onPress:  onPress,
	}
}

// Run polls the pin until ctx is done.
func (b *Button) Run(ctx context.Context) error {
	debug.Verbose("Button: watching pin %d (poll %v, debounce %v)", b.pin, b.poll, b.debounce)

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	pressed := false
	var lowSince time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			level, err := b.gpio.ReadPin(b.pin)
			if err != nil {
				return err
			}
			if level == gpio.High {
				pressed = false
				lowSince = time.Time{}
				continue
			}
			if lowSince.IsZero() {
				lowSince = now
			}
			if !pressed && now.Sub(lowSince) >= b.debounce {
				pressed = true
				debug.Live("Button: pressed (pin %d)", b.pin)
				if b.onPress != nil {
					b.onPress()
				}
			}
		}
	}
}
