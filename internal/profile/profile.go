package profile

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"jordanella.com/cost-ruler/internal/cv"
)

var (
	ErrNotFound       = errors.New("profile not found")
	ErrExists         = errors.New("profile already exists")
	ErrInvalidProfile = errors.New("invalid profile")
)

// Breakpoint pairs a fill ratio with the logical frame it is reached on
type Breakpoint struct {
	Ratio float64 `json:"ratio" yaml:"ratio"`
	Frame int     `json:"frame" yaml:"frame"`
}

// Profile maps fill ratios to frames for one regeneration regime. Profiles
// are immutable once built; callers that need a variant use With* copies.
type Profile struct {
	Name              string        `json:"name" yaml:"name"`
	Resolution        cv.Resolution `json:"resolution" yaml:"resolution"`
	CycleLengthFrames int           `json:"cycleLengthFrames" yaml:"cycleLengthFrames"`
	Breakpoints       []Breakpoint  `json:"breakpoints" yaml:"breakpoints"`

	LogicalFrameRate float64   `json:"logicalFrameRate,omitempty" yaml:"logicalFrameRate,omitempty"`
	SlowMotionFactor float64   `json:"slowMotionFactor,omitempty" yaml:"slowMotionFactor,omitempty"`
	CreatedAt        time.Time `json:"createdAt" yaml:"createdAt"`
}

// Linear builds a profile with evenly spaced fill, one breakpoint per frame
func Linear(name string, res cv.Resolution, cycle int) *Profile {
	bps := make([]Breakpoint, cycle)
	for i := range bps {
		bps[i] = Breakpoint{Ratio: float64(i) / float64(cycle-1), Frame: i}
	}
	return &Profile{
		Name:              name,
		Resolution:        res,
		CycleLengthFrames: cycle,
		Breakpoints:       bps,
		CreatedAt:         time.Now().UTC().Truncate(time.Second),
	}
}

// Validate checks the breakpoint invariants
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil", ErrInvalidProfile)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidProfile)
	}
	if p.CycleLengthFrames < 2 {
		return fmt.Errorf("%w: cycle length %d", ErrInvalidProfile, p.CycleLengthFrames)
	}
	n := len(p.Breakpoints)
	if n < 2 {
		return fmt.Errorf("%w: %d breakpoints", ErrInvalidProfile, n)
	}

	first, last := p.Breakpoints[0], p.Breakpoints[n-1]
	if first.Frame != 0 || first.Ratio != 0 {
		return fmt.Errorf("%w: first breakpoint %v is not (0, 0)", ErrInvalidProfile, first)
	}
	if last.Ratio != 1 || last.Frame != p.CycleLengthFrames-1 {
		return fmt.Errorf("%w: last breakpoint %v is not (1, %d)", ErrInvalidProfile, last, p.CycleLengthFrames-1)
	}
	for i := 1; i < n; i++ {
		prev, cur := p.Breakpoints[i-1], p.Breakpoints[i]
		if cur.Frame <= prev.Frame || cur.Ratio <= prev.Ratio {
			return fmt.Errorf("%w: breakpoint %d %v does not follow %v", ErrInvalidProfile, i, cur, prev)
		}
	}
	return nil
}

// FrameAt inverts the breakpoints: the fractional frame at which the bar
// shows ratio
func (p *Profile) FrameAt(ratio float64) float64 {
	bps := p.Breakpoints
	if ratio <= bps[0].Ratio {
		return float64(bps[0].Frame)
	}
	if ratio >= bps[len(bps)-1].Ratio {
		return float64(bps[len(bps)-1].Frame)
	}

	// First breakpoint strictly above ratio closes the enclosing pair
	i := sort.Search(len(bps), func(i int) bool { return bps[i].Ratio > ratio })
	lo, hi := bps[i-1], bps[i]
	t := (ratio - lo.Ratio) / (hi.Ratio - lo.Ratio)
	return float64(lo.Frame) + t*float64(hi.Frame-lo.Frame)
}

// RatioAt is the forward mapping: the fill ratio shown at frame
func (p *Profile) RatioAt(frame float64) float64 {
	bps := p.Breakpoints
	if frame <= float64(bps[0].Frame) {
		return bps[0].Ratio
	}
	if frame >= float64(bps[len(bps)-1].Frame) {
		return bps[len(bps)-1].Ratio
	}

	i := sort.Search(len(bps), func(i int) bool { return float64(bps[i].Frame) > frame })
	lo, hi := bps[i-1], bps[i]
	t := (frame - float64(lo.Frame)) / float64(hi.Frame-lo.Frame)
	return lo.Ratio + t*(hi.Ratio-lo.Ratio)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key identifies the profile on disk: <name>_<N>f_<W>x<H>
func (p *Profile) Key() string {
	name := unsafeChars.ReplaceAllString(p.Name, "-")
	return fmt.Sprintf("%s_%df_%s", name, p.CycleLengthFrames, p.Resolution)
}

// WithName returns a renamed copy
func (p *Profile) WithName(name string) *Profile {
	c := p.clone()
	c.Name = name
	return c
}

func (p *Profile) clone() *Profile {
	c := *p
	c.Breakpoints = append([]Breakpoint(nil), p.Breakpoints...)
	return &c
}

// Equal compares the persisted content of two profiles
func (p *Profile) Equal(o *Profile) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Name != o.Name || p.Resolution != o.Resolution || p.CycleLengthFrames != o.CycleLengthFrames ||
		len(p.Breakpoints) != len(o.Breakpoints) || !p.CreatedAt.Equal(o.CreatedAt) ||
		!floatEqual(p.LogicalFrameRate, o.LogicalFrameRate) || !floatEqual(p.SlowMotionFactor, o.SlowMotionFactor) {
		return false
	}
	for i := range p.Breakpoints {
		if p.Breakpoints[i] != o.Breakpoints[i] {
			return false
		}
	}
	return true
}

func floatEqual(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}
