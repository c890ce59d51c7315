//go:build !opencv

package camera

import (
	"errors"
	"testing"
)

func TestNewOpenCVDevice_NotBuilt(t *testing.T) {
	dev, err := NewOpenCVDevice(OpenCVOptions{BackIndex: 0, FrontIndex: -1})
	if !errors.Is(err, ErrOpenCVNotBuilt) {
		t.Errorf("err = %v, want ErrOpenCVNotBuilt", err)
	}
	if dev != nil {
		t.Errorf("dev = %v, want nil", dev)
	}
}
