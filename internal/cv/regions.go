package cv

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
)

// Region is a pixel rectangle. X2 and Y2 are exclusive.
type Region struct {
	X1, Y1, X2, Y2 int
}

type Point struct {
	X, Y int
}

// Resolution of a captured frame
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses strings like "1920x1080"
func ParseResolution(s string) (Resolution, error) {
	var res Resolution
	if _, err := fmt.Sscanf(s, "%dx%d", &res.Width, &res.Height); err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution %q: %w", s, err)
	}
	if res.Width <= 0 || res.Height <= 0 {
		return Resolution{}, fmt.Errorf("invalid resolution %q", s)
	}
	return res, nil
}

// NewRegion creates a new region
func NewRegion(x1, y1, x2, y2 int) Region {
	return Region{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Contains checks if a point is within the region
func (r Region) Contains(p Point) bool {
	return p.X >= r.X1 && p.X < r.X2 && p.Y >= r.Y1 && p.Y < r.Y2
}

// Width returns the width of the region
func (r Region) Width() int {
	return r.X2 - r.X1
}

// Height returns the height of the region
func (r Region) Height() int {
	return r.Y2 - r.Y1
}

// ToImageRectangle converts Region to an image.Rectangle
func (r Region) ToImageRectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

func (r Region) String() string {
	return fmt.Sprintf("[%d,%d)-[%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// ErrUnsupportedResolution is returned by Locate when the bar cannot be placed
var ErrUnsupportedResolution = errors.New("unsupported resolution")

// Cost bar geometry at the 1920x1080 reference resolution. The bar hugs the
// right edge of the screen, so offsets are measured from the right and
// bottom edges.
const (
	refWidth  = 1920.0
	refHeight = 1080.0

	barLeftFromRight    = refWidth - 1739
	barRightFromRight   = refWidth - 1919
	barTopFromBottom    = refHeight - 810
	barBottomFromBottom = refHeight - 817

	MinAspectRatio = 1.25
	MaxAspectRatio = 2.4
	MinHeight      = 360
)

var locateCache sync.Map // Resolution -> Region

// Locate returns the cost bar region for a frame of the given size.
func Locate(width, height int) (Region, error) {
	key := Resolution{Width: width, Height: height}
	if cached, ok := locateCache.Load(key); ok {
		return cached.(Region), nil
	}

	region, err := locate(width, height)
	if err != nil {
		return Region{}, err
	}

	locateCache.Store(key, region)
	return region, nil
}

func locate(width, height int) (Region, error) {
	if width <= 0 || height <= 0 {
		return Region{}, fmt.Errorf("%w: %dx%d", ErrUnsupportedResolution, width, height)
	}

	aspect := float64(width) / float64(height)
	if aspect < MinAspectRatio || aspect > MaxAspectRatio || height < MinHeight {
		return Region{}, fmt.Errorf("%w: %dx%d (aspect %.3f)", ErrUnsupportedResolution, width, height, aspect)
	}

	// Wider than 16:9 scales with height, taller scales with width
	var scale float64
	if aspect >= refWidth/refHeight {
		scale = float64(height) / refHeight
	} else {
		scale = float64(width) / refWidth
	}

	w, h := float64(width), float64(height)
	region := Region{
		X1: int(math.Round(w - barLeftFromRight*scale)),
		X2: int(math.Round(w - barRightFromRight*scale)),
		Y1: int(math.Round(h - barTopFromBottom*scale)),
		Y2: int(math.Round(h - barBottomFromBottom*scale)),
	}

	// Very small scales can collapse the bar to a single row
	if region.Y2 <= region.Y1 {
		region.Y2 = region.Y1 + 1
	}
	if region.Width() < 2 {
		return Region{}, fmt.Errorf("%w: %dx%d (bar too narrow)", ErrUnsupportedResolution, width, height)
	}

	return region, nil
}
