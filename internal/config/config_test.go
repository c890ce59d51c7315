package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	// Create a real configs/ directory so filepath.Abs resolves correctly.
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Should not panic; error or success is OS-dependent, but must not crash.
	_ = ValidateConfigPath(long)
}

func TestValidateConfigPath_SpecialChars(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		wantErr bool
	}{
		{"con fig.yaml", false},
		{"café.yaml", false},
	}
	for _, tc := range cases {
		path := filepath.Join(cfgDir, tc.name)
		err := ValidateConfigPath(path)
		if tc.wantErr && err == nil {
			t.Errorf("expected error for %q, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("unexpected error for %q: %v", tc.name, err)
		}
	}
}

func TestValidateConfigPath_DoubleTraversal(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Try to escape via ../../configs/ok.yaml; filepath.Clean resolves this
	// and the parent must still be "configs".
	path := filepath.Join(cfgDir, "../../configs/ok.yaml")
	err := ValidateConfigPath(path)
	// After Clean the parent may or may not be "configs" depending on resolution.
	// The important thing is it either succeeds with a valid parent or fails.
	_ = err
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
camera:
  type: "opencv"
  back_index: 0
  front_index: 1
  device_nodes: ["/dev/video0", "/dev/video1"]
  jpeg_quality: 85
  long_edge_px: 1920
session:
  lens: "front"
  flash_mode: "on"
  timer: "3s"
  countdown_tick_ms: 500
  analysis_interval_ms: 250
  preview: true
  analysis: true
display:
  width: 1080
  height: 2340
  rotation: 90
flash:
  pin: 18
  pulse_ms: 100
  auto_luma_threshold: 40
button:
  pin: 26
  poll_ms: 10
  debounce_ms: 30
storage:
  output_dir: "/var/lib/smartcam"
  filename_layout: "20060102-150405"
  extension: ".jpeg"
defaults:
  debug_level: 2
  mock_gpio: true
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Camera.Type != "opencv" {
		t.Errorf("camera.type = %q, want %q", cfg.Camera.Type, "opencv")
	}
	if cfg.Camera.FrontIndex != 1 {
		t.Errorf("camera.front_index = %d, want 1", cfg.Camera.FrontIndex)
	}
	if len(cfg.Camera.DeviceNodes) != 2 {
		t.Errorf("camera.device_nodes = %v, want 2 entries", cfg.Camera.DeviceNodes)
	}
	if cfg.Camera.JPEGQuality != 85 {
		t.Errorf("camera.jpeg_quality = %d, want 85", cfg.Camera.JPEGQuality)
	}
	if cfg.Session.Lens != "front" || cfg.Session.FlashMode != "on" || cfg.Session.Timer != "3s" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if !cfg.Session.Preview || !cfg.Session.Analysis {
		t.Errorf("session use cases = %+v, want preview and analysis", cfg.Session)
	}
	if cfg.Display.Width != 1080 || cfg.Display.Height != 2340 || cfg.Display.Rotation != 90 {
		t.Errorf("display = %+v", cfg.Display)
	}
	if cfg.Flash.Pin != 18 || cfg.Button.Pin != 26 {
		t.Errorf("flash.pin = %d, button.pin = %d", cfg.Flash.Pin, cfg.Button.Pin)
	}
	if cfg.Storage.Extension != ".jpeg" {
		t.Errorf("storage.extension = %q, want .jpeg", cfg.Storage.Extension)
	}
	if cfg.Defaults.DebugLevel != 2 || !cfg.Defaults.MockGPIO {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
}

func TestLoad_MissingCameraType(t *testing.T) {
	yaml := `
session:
  lens: back
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for missing camera.type, got nil")
	}
}

func TestLoad_UnsupportedCameraType(t *testing.T) {
	path := writeConfig(t, "camera:\n  type: \"usb_webcam\"\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for unsupported camera.type, got nil")
	}
}

func TestLoad_OpenCVSameIndex(t *testing.T) {
	yaml := `
camera:
  type: "opencv"
  back_index: 0
  front_index: 0
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Error("expected error for identical back/front indices, got nil")
	}
}

func TestLoad_InvalidEnums(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"lens", "camera:\n  type: virtual\nsession:\n  lens: side\n"},
		{"flash", "camera:\n  type: virtual\nsession:\n  flash_mode: strobe\n"},
		{"timer", "camera:\n  type: virtual\nsession:\n  timer: 5s\n"},
		{"rotation", "camera:\n  type: virtual\ndisplay:\n  rotation: 45\n"},
		{"quality", "camera:\n  type: virtual\n  jpeg_quality: 101\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Errorf("expected error for invalid %s, got nil", tc.name)
			}
		})
	}
}

func TestLoad_NegativeDisplay(t *testing.T) {
	yaml := `
camera:
  type: "virtual"
display:
  width: -10
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Error("expected error for negative display width, got nil")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	path := writeConfig(t, "camera:\n  type: \"virtual\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Camera.JPEGQuality != 90 {
		t.Errorf("jpeg_quality default = %d, want 90", cfg.Camera.JPEGQuality)
	}
	if cfg.Camera.LongEdgePx != 1280 {
		t.Errorf("long_edge_px default = %d, want 1280", cfg.Camera.LongEdgePx)
	}
	if cfg.Session.Lens != "back" {
		t.Errorf("lens default = %q, want back", cfg.Session.Lens)
	}
	if cfg.Session.FlashMode != "auto" {
		t.Errorf("flash_mode default = %q, want auto", cfg.Session.FlashMode)
	}
	if cfg.Session.Timer != "off" {
		t.Errorf("timer default = %q, want off", cfg.Session.Timer)
	}
	if cfg.CountdownTick() != time.Second {
		t.Errorf("countdown tick default = %v, want 1s", cfg.CountdownTick())
	}
	if cfg.Display.Width != 1920 || cfg.Display.Height != 1080 {
		t.Errorf("display default = %dx%d, want 1920x1080", cfg.Display.Width, cfg.Display.Height)
	}
	if cfg.FlashPulse() != 150*time.Millisecond {
		t.Errorf("flash pulse default = %v, want 150ms", cfg.FlashPulse())
	}
	if cfg.Flash.AutoLumaThreshold != 60 {
		t.Errorf("auto_luma_threshold default = %v, want 60", cfg.Flash.AutoLumaThreshold)
	}
	if cfg.ButtonPoll() != 20*time.Millisecond || cfg.ButtonDebounce() != 50*time.Millisecond {
		t.Errorf("button defaults = %v/%v, want 20ms/50ms", cfg.ButtonPoll(), cfg.ButtonDebounce())
	}
	if cfg.Storage.OutputDir != "photos" || cfg.Storage.Extension != ".jpg" {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Storage.FilenameLayout != "2006-01-02-15-04-05.000" {
		t.Errorf("filename_layout default = %q", cfg.Storage.FilenameLayout)
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for empty config (camera.type missing), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
camera:
  type: "virtual"
unknown_section:
  foo: bar
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "nonexistent.yaml")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

// ---------- Helper methods ----------

func TestConfig_DurationAccessors(t *testing.T) {
	cfg := &Config{
		Session: SessionConfig{CountdownTickMs: 250, AnalysisIntervalMs: 750},
		Flash:   FlashConfig{PulseMs: 80},
		Button:  ButtonConfig{PollMs: 5, DebounceMs: 40},
	}
	cases := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"CountdownTick", cfg.CountdownTick(), 250 * time.Millisecond},
		{"AnalysisInterval", cfg.AnalysisInterval(), 750 * time.Millisecond},
		{"FlashPulse", cfg.FlashPulse(), 80 * time.Millisecond},
		{"ButtonPoll", cfg.ButtonPoll(), 5 * time.Millisecond},
		{"ButtonDebounce", cfg.ButtonDebounce(), 40 * time.Millisecond},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s() = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestLoad_ShippedDefault(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatalf("Load shipped default: %v", err)
	}
	if cfg.Camera.Type != "virtual" {
		t.Errorf("Camera.Type = %q, want virtual", cfg.Camera.Type)
	}
	if !cfg.Defaults.MockGPIO {
		t.Error("shipped default should use mock GPIO")
	}
	if cfg.CountdownTick() != time.Second {
		t.Errorf("CountdownTick = %v, want 1s", cfg.CountdownTick())
	}
}
