package camera

import (
	"errors"
	"time"
)

// ErrOpenCVNotBuilt is returned by NewOpenCVDevice in binaries built
// without the opencv tag.
var ErrOpenCVNotBuilt = errors.New("opencv support not built in (rebuild with -tags opencv)")

// OpenCVOptions maps lens facings to capture device indexes.
// A negative index means the lens is absent.
type OpenCVOptions struct {
	BackIndex      int
	FrontIndex     int
	LongEdge       int
	FrameInterval  time.Duration // pacing of preview/analysis delivery
	Flash          Flash
	FlashThreshold float64
}
