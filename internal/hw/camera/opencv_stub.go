//go:build !opencv

package camera

// NewOpenCVDevice reports that this binary has no OpenCV backend.
func NewOpenCVDevice(opts OpenCVOptions) (Device, error) {
	return nil, ErrOpenCVNotBuilt
}
