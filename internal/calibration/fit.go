package calibration

import (
	"fmt"
	"math"
	"sort"
	"time"

	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/profile"
)

// FitOptions tunes how a sampled cycle becomes breakpoints
type FitOptions struct {
	LogicalFrameRate float64 // game frames per second at normal speed
	SlowMotionFactor float64 // wall-clock seconds per game second while sampling

	MonotonicTolerance float64 // drops up to this much are jitter, not misreads
	SpikeRatio         float64 // rise above both neighbours that marks a spike
	FullRatio          float64 // readings at or above this count as a full bar
	MaxRejectFraction  float64 // more rejected samples than this fails the fit
	MinDensity         float64 // minimum kept samples per cycle frame
	MinSamples         int
}

// FitResult is the fitted mapping
type FitResult struct {
	CycleLengthFrames int
	Breakpoints       []profile.Breakpoint
	Kept              int
	Rejected          int
}

type point struct {
	frame float64
	ratio float64
}

// Fit converts samples taken from anchor onwards into breakpoints. The
// cycle ends at the first full reading, or at cycleEnd when the bar was
// seen resetting instead.
func Fit(anchor time.Time, samples []cv.FrameSample, cycleEnd time.Time, opts FitOptions) (FitResult, error) {
	if opts.LogicalFrameRate <= 0 || opts.SlowMotionFactor <= 0 {
		return FitResult{}, fmt.Errorf("%w: frame rate %.2f, slow motion factor %.2f",
			ErrInsufficientSamples, opts.LogicalFrameRate, opts.SlowMotionFactor)
	}
	toFrame := func(t time.Time) float64 {
		return t.Sub(anchor).Seconds() * opts.LogicalFrameRate / opts.SlowMotionFactor
	}

	valid := make([]cv.FrameSample, 0, len(samples))
	for _, s := range samples {
		if s.Valid && !s.CapturedAt.Before(anchor) {
			valid = append(valid, s)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].CapturedAt.Before(valid[j].CapturedAt) })

	total := len(valid)
	if total == 0 {
		return FitResult{}, fmt.Errorf("%w: no valid samples", ErrInsufficientSamples)
	}
	pts := make([]point, total)
	for i, s := range valid {
		pts[i] = point{frame: toFrame(s.CapturedAt), ratio: s.FillRatio}
	}

	rejected := 0

	// Upward spikes would otherwise raise the floor and reject every
	// honest reading after them
	filtered := make([]point, 0, total)
	for i, p := range pts {
		if i > 0 && i < total-1 &&
			p.ratio-pts[i-1].ratio > opts.SpikeRatio && p.ratio-pts[i+1].ratio > opts.SpikeRatio {
			rejected++
			continue
		}
		filtered = append(filtered, p)
	}

	// The anchor is frame 0 by definition
	kept := []point{{frame: 0, ratio: 0}}
	last := filtered[0].ratio
	for _, p := range filtered[1:] {
		switch {
		case p.ratio < last-opts.MonotonicTolerance:
			rejected++
		case p.ratio <= last:
			// plateau or jitter: the first reading of a level already marks it
		default:
			kept = append(kept, p)
			last = p.ratio
		}
	}

	if frac := float64(rejected) / float64(total); frac > opts.MaxRejectFraction {
		return FitResult{Rejected: rejected}, fmt.Errorf("%w: rejected %d of %d (%.0f%%)",
			ErrNonMonotonicData, rejected, total, frac*100)
	}

	// Points up to and including the end of the cycle
	interp := make([]point, 0, len(kept))
	endFrame := -1.0
	for _, p := range kept {
		if p.ratio >= opts.FullRatio {
			endFrame = p.frame
			break
		}
		interp = append(interp, p)
	}
	if endFrame < 0 && !cycleEnd.IsZero() {
		endFrame = toFrame(cycleEnd)
		for len(interp) > 1 && interp[len(interp)-1].frame >= endFrame {
			interp = interp[:len(interp)-1]
		}
	}
	if endFrame < 0 {
		return FitResult{Rejected: rejected}, fmt.Errorf("%w: bar never reached %.2f", ErrCycleNotObserved, opts.FullRatio)
	}
	interp = append(interp, point{frame: endFrame, ratio: 1})

	cycle := int(math.Round(endFrame))
	n := len(interp)
	if cycle < 2 {
		return FitResult{Rejected: rejected}, fmt.Errorf("%w: cycle of %d frames", ErrInsufficientSamples, cycle)
	}
	if n < opts.MinSamples || float64(n)/float64(cycle) < opts.MinDensity {
		return FitResult{Rejected: rejected}, fmt.Errorf("%w: %d usable samples for a %d frame cycle",
			ErrInsufficientSamples, n, cycle)
	}

	// Resample onto whole frames, dropping levels that do not rise
	bps := []profile.Breakpoint{{Ratio: 0, Frame: 0}}
	j := 0
	for f := 1; f <= cycle-2; f++ {
		x := float64(f)
		for j < n-2 && interp[j+1].frame <= x {
			j++
		}
		a, b := interp[j], interp[j+1]
		r := b.ratio
		if x < b.frame && b.frame > a.frame {
			r = a.ratio + (x-a.frame)/(b.frame-a.frame)*(b.ratio-a.ratio)
		}
		if r <= bps[len(bps)-1].Ratio || r >= 1 {
			continue
		}
		bps = append(bps, profile.Breakpoint{Ratio: r, Frame: f})
	}
	bps = append(bps, profile.Breakpoint{Ratio: 1, Frame: cycle - 1})

	return FitResult{
		CycleLengthFrames: cycle,
		Breakpoints:       bps,
		Kept:              n,
		Rejected:          rejected,
	}, nil
}
