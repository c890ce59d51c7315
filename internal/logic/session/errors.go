package session

import "errors"

var (
	// ErrSessionBusy is returned synchronously when a capture is requested
	// outside BOUND or a rebind is requested mid-bind. No state changes.
	ErrSessionBusy = errors.New("session busy")
	// ErrSessionClosed is returned once teardown has started.
	ErrSessionClosed = errors.New("session closed")
	// ErrPermissionDenied means camera access was not granted before Start.
	ErrPermissionDenied = errors.New("camera permission not granted")
	// ErrLensUnavailable means the requested lens was not enumerated.
	ErrLensUnavailable = errors.New("lens not available")
)
