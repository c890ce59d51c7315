package camera

import (
	"golang.org/x/sys/unix"

	"github.com/cjeanneret/SmartCam/internal/debug"
)

// DeviceNodeGate grants camera access when every listed device node
// (e.g. /dev/video0) is readable and writable by this process.
type DeviceNodeGate struct {
	Nodes []string
}

// CameraAccessGranted checks the device nodes. An empty list grants access.
func (g DeviceNodeGate) CameraAccessGranted() bool {
	for _, node := range g.Nodes {
		if err := unix.Access(node, unix.R_OK|unix.W_OK); err != nil {
			debug.Info("Camera: no access to %s: %v", node, err)
			return false
		}
	}
	return true
}
