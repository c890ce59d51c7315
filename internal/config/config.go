package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes which camera backend to use and how to reach it.
// Type selects a concrete implementation ("opencv" or "virtual").
type CameraConfig struct {
	Type        string   `yaml:"type"`         // e.g., "opencv"
	BackIndex   int      `yaml:"back_index"`   // OpenCV device index of the back lens (-1 = absent)
	FrontIndex  int      `yaml:"front_index"`  // OpenCV device index of the front lens (-1 = absent)
	DeviceNodes []string `yaml:"device_nodes"` // nodes checked by the permission gate, e.g. /dev/video0
	JPEGQuality int      `yaml:"jpeg_quality"` // still capture JPEG quality (1-100)
	LongEdgePx  int      `yaml:"long_edge_px"` // requested long edge of the stream, in pixels
}

// SessionConfig holds the initial session settings.
type SessionConfig struct {
	Lens               string `yaml:"lens"`                 // "back" or "front"
	FlashMode          string `yaml:"flash_mode"`           // "off", "auto", "on"
	Timer              string `yaml:"timer"`                // "off", "3s", "10s"
	CountdownTickMs    int    `yaml:"countdown_tick_ms"`    // countdown tick spacing (default 1000)
	AnalysisIntervalMs int    `yaml:"analysis_interval_ms"` // luminosity reading period (default 1000)
	Preview            bool   `yaml:"preview"`              // bind the preview use case
	Analysis           bool   `yaml:"analysis"`             // bind the analysis use case
}

// DisplayConfig is the initial display geometry.
type DisplayConfig struct {
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	Rotation int `yaml:"rotation"` // 0, 90, 180 or 270
}

// FlashConfig describes the GPIO-driven flash. Pin 0 disables the flash.
type FlashConfig struct {
	Pin               int     `yaml:"pin"`
	PulseMs           int     `yaml:"pulse_ms"`            // flash pulse length (ms)
	AutoLumaThreshold float64 `yaml:"auto_luma_threshold"` // auto mode fires below this mean luma (0-255)
}

// ButtonConfig describes the hardware shutter button. Pin 0 disables it.
type ButtonConfig struct {
	Pin        int `yaml:"pin"`
	PollMs     int `yaml:"poll_ms"`
	DebounceMs int `yaml:"debounce_ms"`
}

// StorageConfig describes where still images are written.
type StorageConfig struct {
	OutputDir      string `yaml:"output_dir"`
	FilenameLayout string `yaml:"filename_layout"` // Go time layout used for file names
	Extension      string `yaml:"extension"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Session  SessionConfig  `yaml:"session"`
	Display  DisplayConfig  `yaml:"display"`
	Flash    FlashConfig    `yaml:"flash"`
	Button   ButtonConfig   `yaml:"button"`
	Storage  StorageConfig  `yaml:"storage"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// MaxConfigFileBytes bounds the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// ValidateConfigPath checks that path points to a .yaml file inside a
// "configs" directory, after cleaning.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if strings.Contains(filepath.ToSlash(clean), "..") {
		return fmt.Errorf("config path %q must not contain '..'", path)
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	switch c.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case "opencv", "virtual":
	default:
		return fmt.Errorf("unsupported camera.type %q", c.Camera.Type)
	}
	if c.Camera.JPEGQuality == 0 {
		c.Camera.JPEGQuality = 90
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return fmt.Errorf("camera.jpeg_quality must be between 1 and 100, got %d", c.Camera.JPEGQuality)
	}
	if c.Camera.Type == "opencv" && c.Camera.BackIndex == c.Camera.FrontIndex {
		return fmt.Errorf("camera.back_index and camera.front_index must differ (use -1 for an absent lens)")
	}
	if c.Camera.LongEdgePx <= 0 {
		c.Camera.LongEdgePx = 1280
	}

	if c.Session.Lens == "" {
		c.Session.Lens = "back"
	}
	if c.Session.Lens != "back" && c.Session.Lens != "front" {
		return fmt.Errorf("session.lens must be back or front, got %q", c.Session.Lens)
	}
	if c.Session.FlashMode == "" {
		c.Session.FlashMode = "auto"
	}
	switch c.Session.FlashMode {
	case "off", "auto", "on":
	default:
		return fmt.Errorf("session.flash_mode must be off, auto or on, got %q", c.Session.FlashMode)
	}
	if c.Session.Timer == "" {
		c.Session.Timer = "off"
	}
	switch c.Session.Timer {
	case "off", "3s", "10s":
	default:
		return fmt.Errorf("session.timer must be off, 3s or 10s, got %q", c.Session.Timer)
	}
	if c.Session.CountdownTickMs <= 0 {
		c.Session.CountdownTickMs = 1000
	}
	if c.Session.AnalysisIntervalMs <= 0 {
		c.Session.AnalysisIntervalMs = 1000
	}

	if c.Display.Width < 0 || c.Display.Height < 0 {
		return fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Display.Width == 0 {
		c.Display.Width = 1920
	}
	if c.Display.Height == 0 {
		c.Display.Height = 1080
	}
	switch c.Display.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("display.rotation must be 0, 90, 180 or 270, got %d", c.Display.Rotation)
	}

	if c.Flash.PulseMs <= 0 {
		c.Flash.PulseMs = 150
	}
	if c.Flash.AutoLumaThreshold <= 0 {
		c.Flash.AutoLumaThreshold = 60
	}
	if c.Button.PollMs <= 0 {
		c.Button.PollMs = 20
	}
	if c.Button.DebounceMs <= 0 {
		c.Button.DebounceMs = 50
	}

	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "photos"
	}
	if c.Storage.FilenameLayout == "" {
		c.Storage.FilenameLayout = "2006-01-02-15-04-05.000"
	}
	if c.Storage.Extension == "" {
		c.Storage.Extension = ".jpg"
	}
	return nil
}

// CountdownTick returns the spacing between two countdown ticks.
func (c *Config) CountdownTick() time.Duration {
	return time.Duration(c.Session.CountdownTickMs) * time.Millisecond
}

// AnalysisInterval returns the minimum delay between two luminosity readings.
func (c *Config) AnalysisInterval() time.Duration {
	return time.Duration(c.Session.AnalysisIntervalMs) * time.Millisecond
}

// FlashPulse returns how long the flash line is held active.
func (c *Config) FlashPulse() time.Duration {
	return time.Duration(c.Flash.PulseMs) * time.Millisecond
}

// ButtonPoll returns the shutter button polling period.
func (c *Config) ButtonPoll() time.Duration {
	return time.Duration(c.Button.PollMs) * time.Millisecond
}

// ButtonDebounce returns how long the button must stay pressed to count.
func (c *Config) ButtonDebounce() time.Duration {
	return time.Duration(c.Button.DebounceMs) * time.Millisecond
}
