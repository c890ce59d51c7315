package session

import (
	"fmt"
	"strings"

	"github.com/cjeanneret/SmartCam/internal/hw/camera"
)

// Timer is the countdown before a still capture.
type Timer int

const (
	TimerOff Timer = iota
	TimerSec3
	TimerSec10
)

// Seconds returns the countdown length.
func (t Timer) Seconds() int {
	switch t {
	case TimerSec3:
		return 3
	case TimerSec10:
		return 10
	default:
		return 0
	}
}

func (t Timer) String() string {
	switch t {
	case TimerSec3:
		return "3s"
	case TimerSec10:
		return "10s"
	default:
		return "off"
	}
}

// ParseTimer parses "off", "3s" or "10s".
func ParseTimer(s string) (Timer, error) {
	switch strings.ToLower(s) {
	case "off", "":
		return TimerOff, nil
	case "3s", "3":
		return TimerSec3, nil
	case "10s", "10":
		return TimerSec10, nil
	}
	return TimerOff, fmt.Errorf("unknown timer %q (want off, 3s or 10s)", s)
}

// Effect is what the controller must do after a configuration change.
type Effect int

const (
	EffectNone Effect = iota
	EffectRebind
	EffectFlashWrite
	EffectRotationWrite
)

func (e Effect) String() string {
	switch e {
	case EffectRebind:
		return "rebind"
	case EffectFlashWrite:
		return "flash-write"
	case EffectRotationWrite:
		return "rotation-write"
	default:
		return "none"
	}
}

// SessionConfig is the mutable session configuration. It is a plain value:
// the controller owns the live copy and hands out copies.
type SessionConfig struct {
	Lens     camera.LensFacing
	Flash    camera.FlashMode
	Timer    Timer
	Rotation camera.Rotation
}

// SwitchLens toggles back and front. A lens switch always needs a rebind.
func (c *SessionConfig) SwitchLens() Effect {
	c.Lens = c.Lens.Opposite()
	return EffectRebind
}

// SetFlash changes the flash mode. It is applied in place on the capture
// use case.
func (c *SessionConfig) SetFlash(m camera.FlashMode) Effect {
	if c.Flash == m {
		return EffectNone
	}
	c.Flash = m
	return EffectFlashWrite
}

// SetTimer changes the countdown. Only the capture pipeline reads it.
func (c *SessionConfig) SetTimer(t Timer) Effect {
	c.Timer = t
	return EffectNone
}

// SetRotation changes the target rotation, written in place on the live
// use cases.
func (c *SessionConfig) SetRotation(r camera.Rotation) Effect {
	if c.Rotation == r {
		return EffectNone
	}
	c.Rotation = r
	return EffectRotationWrite
}
