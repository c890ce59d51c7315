package camera

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseLensFacing(t *testing.T) {
	for in, want := range map[string]LensFacing{"back": LensBack, "FRONT": LensFront} {
		got, err := ParseLensFacing(in)
		if err != nil || got != want {
			t.Errorf("ParseLensFacing(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseLensFacing("side"); err == nil {
		t.Error("ParseLensFacing(side) should fail")
	}
	if LensBack.Opposite() != LensFront || LensFront.Opposite() != LensBack {
		t.Error("Opposite should toggle between back and front")
	}
}

func TestParseFlashMode(t *testing.T) {
	for _, m := range []FlashMode{FlashOff, FlashAuto, FlashOn} {
		got, err := ParseFlashMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseFlashMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseFlashMode("strobe"); err == nil {
		t.Error("ParseFlashMode(strobe) should fail")
	}
}

func TestParseRotation(t *testing.T) {
	for _, deg := range []int{0, 90, 180, 270} {
		if _, err := ParseRotation(deg); err != nil {
			t.Errorf("ParseRotation(%d): %v", deg, err)
		}
	}
	for _, deg := range []int{-90, 45, 360} {
		if _, err := ParseRotation(deg); err == nil {
			t.Errorf("ParseRotation(%d) should fail", deg)
		}
	}
}

func TestDeviceNodeGate(t *testing.T) {
	dir := t.TempDir()
	node := filepath.Join(dir, "video0")
	if err := os.WriteFile(node, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if !(DeviceNodeGate{}).CameraAccessGranted() {
		t.Error("empty gate should grant access")
	}
	if !(DeviceNodeGate{Nodes: []string{node}}).CameraAccessGranted() {
		t.Error("readable/writable node should grant access")
	}
	if (DeviceNodeGate{Nodes: []string{node, filepath.Join(dir, "video9")}}).CameraAccessGranted() {
		t.Error("missing node should deny access")
	}
}
