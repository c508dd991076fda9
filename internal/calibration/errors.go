package calibration

import (
	"errors"
	"fmt"
)

var (
	ErrCalibrationTimeout  = errors.New("no near-zero reading before the arm timeout")
	ErrCycleNotObserved    = errors.New("cycle not observed")
	ErrInsufficientSamples = errors.New("insufficient samples")
	ErrNonMonotonicData    = errors.New("too many non-monotonic samples")
	ErrCancelled           = errors.New("calibration cancelled")
	ErrCommitFailed        = errors.New("failed to store profile")

	ErrSessionActive = errors.New("a calibration session is already active")
	ErrNoSession     = errors.New("no calibration session is active")
	ErrCommitting    = errors.New("calibration is committing its profile")
)

// Reason names a terminal failure
type Reason string

const (
	ReasonTimeout             Reason = "calibration_timeout"
	ReasonCycleNotObserved    Reason = "cycle_not_observed"
	ReasonInsufficientSamples Reason = "insufficient_samples"
	ReasonNonMonotonicData    Reason = "non_monotonic_data"
	ReasonCancelled           Reason = "cancelled"
	ReasonCommitFailed        Reason = "commit_failed"
)

// Failure is the error a failed session ends with
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("calibration failed (%s): %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// reasonFor maps a fit or session error onto its Reason
func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, ErrCalibrationTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrCycleNotObserved):
		return ReasonCycleNotObserved
	case errors.Is(err, ErrNonMonotonicData):
		return ReasonNonMonotonicData
	case errors.Is(err, ErrCancelled):
		return ReasonCancelled
	case errors.Is(err, ErrCommitFailed):
		return ReasonCommitFailed
	default:
		return ReasonInsufficientSamples
	}
}
