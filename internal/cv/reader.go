package cv

import (
	"errors"
	"image"
	"image/color"
	"time"
)

// InvalidReason explains why a FrameSample is not valid
type InvalidReason string

const (
	ReasonNone         InvalidReason = ""
	ReasonLowContrast  InvalidReason = "low_contrast"
	ReasonNotBar       InvalidReason = "not_bar"
	ReasonNonMonotonic InvalidReason = "non_monotonic"
	ReasonSaturated    InvalidReason = "saturated"
	ReasonOutOfBounds  InvalidReason = "out_of_bounds"
	ReasonCaptureError InvalidReason = "capture_error"
)

// ErrReadInvalid is the error form of an invalid sample
var ErrReadInvalid = errors.New("cost bar not readable")

// FrameSample is one reading of the cost bar
type FrameSample struct {
	CapturedAt time.Time
	FillRatio  float64
	Valid      bool
	Reason     InvalidReason
}

// Err returns ErrReadInvalid for invalid samples
func (s FrameSample) Err() error {
	if s.Valid {
		return nil
	}
	return ErrReadInvalid
}

// InvalidSample builds a sample that carries no reading
func InvalidSample(at time.Time, reason InvalidReason) FrameSample {
	return FrameSample{CapturedAt: at, Reason: reason}
}

type columnClass int

const (
	columnEmpty columnClass = iota
	columnAmbiguous
	columnFilled
)

// Reader extracts fill ratios from cost bar pixels
type Reader struct {
	opts readerOptions
}

// NewReader creates a bar reader
func NewReader(opts ...Option) *Reader {
	o := defaultReaderOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Reader{opts: o}
}

// Read reads the bar inside region from a captured frame. It never fails:
// unreadable bars produce a sample with Valid=false and a reason.
func (r *Reader) Read(frame Frame, region Region) FrameSample {
	ratio, reason := r.ReadImage(frame.Image, region)
	if reason != ReasonNone {
		return InvalidSample(frame.CapturedAt, reason)
	}
	return FrameSample{
		CapturedAt: frame.CapturedAt,
		FillRatio:  ratio,
		Valid:      true,
	}
}

// ReadImage returns the fill ratio of the bar, or a reason it cannot be read
func (r *Reader) ReadImage(img image.Image, region Region) (float64, InvalidReason) {
	if img == nil || region.Width() <= 0 || region.Height() <= 0 {
		return 0, ReasonOutOfBounds
	}
	if !region.ToImageRectangle().In(img.Bounds()) {
		return 0, ReasonOutOfBounds
	}

	n := region.Width()
	classes := make([]columnClass, n)
	levels := make([]int, n)

	var empties, ambiguous int
	for i := 0; i < n; i++ {
		c, ok := columnAverage(img, region.X1+i, region.Y1, region.Y2)
		if !ok || c.A != 255 || !isGrayscale(c, r.opts.variation) {
			return 0, ReasonNotBar
		}

		level := (int(c.R) + int(c.G) + int(c.B)) / 3
		levels[i] = level
		switch {
		case level > r.opts.whiteThreshold:
			classes[i] = columnFilled
		case level <= r.opts.emptyMax:
			classes[i] = columnEmpty
			empties++
		default:
			classes[i] = columnAmbiguous
			ambiguous++
		}
	}

	// Uniformly bright but never white: the bar is held in a locked tint
	if empties == 0 && ambiguous > r.opts.edgeAllowance {
		return 0, ReasonSaturated
	}

	lead := 0
	for lead < n && classes[lead] == columnFilled {
		lead++
	}
	edge := 0
	for lead+edge < n && classes[lead+edge] == columnAmbiguous {
		edge++
	}
	if edge > r.opts.edgeAllowance {
		return 0, ReasonNonMonotonic
	}
	for i := lead + edge; i < n; i++ {
		if classes[i] != columnEmpty {
			return 0, ReasonNonMonotonic
		}
	}

	if lead == 0 && edge == 0 {
		sum, lo, hi := 0, 255, 0
		for _, l := range levels {
			sum += l
			lo = min(lo, l)
			hi = max(hi, l)
		}
		if sum/n < r.opts.trackMinLevel || hi-lo > r.opts.trackMaxSpread {
			return 0, ReasonLowContrast
		}
	}

	return (float64(lead) + float64(edge)*0.5) / float64(n), ReasonNone
}

func isGrayscale(c color.RGBA, tolerance int) bool {
	return absInt(int(c.R)-int(c.G)) <= tolerance &&
		absInt(int(c.G)-int(c.B)) <= tolerance &&
		absInt(int(c.R)-int(c.B)) <= tolerance
}
