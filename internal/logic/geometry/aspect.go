package geometry

// AspectRatio is one of the two stream aspect ratios supported by the camera.
type AspectRatio int

const (
	Ratio4x3 AspectRatio = iota
	Ratio16x9
)

func (a AspectRatio) String() string {
	switch a {
	case Ratio4x3:
		return "4:3"
	case Ratio16x9:
		return "16:9"
	default:
		return "unknown"
	}
}

// SelectAspectRatio picks the supported aspect ratio closest to the ratio
// between the long and the short side of a width x height display.
// Both dimensions must be positive. Ties go to 4:3.
//
// The comparison |long/short - 4/3| <= |long/short - 16/9| is done on
// integers, scaled by 9*short, so that it is exact and scale-invariant:
// |9*long - 12*short| <= |9*long - 16*short|.
func SelectAspectRatio(width, height int) AspectRatio {
	long, short := int64(width), int64(height)
	if short > long {
		long, short = short, long
	}
	d43 := abs64(9*long - 12*short)
	d169 := abs64(9*long - 16*short)
	if d43 <= d169 {
		return Ratio4x3
	}
	return Ratio16x9
}

// Resolution returns the landscape resolution of the ratio for a given
// long edge, e.g. 1280 -> 1280x960 (4:3) or 1280x720 (16:9).
func (a AspectRatio) Resolution(longEdge int) (width, height int) {
	switch a {
	case Ratio16x9:
		return longEdge, longEdge * 9 / 16
	default:
		return longEdge, longEdge * 3 / 4
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
