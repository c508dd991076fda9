package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/events"
	"jordanella.com/cost-ruler/internal/logging"
	"jordanella.com/cost-ruler/internal/profile"
)

// State of the calibration state machine
type State int

const (
	StateIdle State = iota
	StateArmed
	StateSampling
	StateFitting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateSampling:
		return "sampling"
	case StateFitting:
		return "fitting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of State.String; unknown names map to StateIdle
func ParseState(s string) State {
	for st := StateIdle; st <= StateFailed; st++ {
		if st.String() == s {
			return st
		}
	}
	return StateIdle
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(b []byte) error {
	*s = ParseState(string(b))
	return nil
}

// Config holds the engine thresholds and bounds
type Config struct {
	LogicalFrameRate float64
	SlowMotionFactor float64

	NearZero  float64 // readings at or below this anchor a cycle start
	ResetHigh float64 // a drop from here to NearZero is a cycle reset
	MaxJump   float64 // larger rises into a full reading need confirmation

	MonotonicTolerance float64
	SpikeRatio         float64
	FullRatio          float64
	MaxRejectFraction  float64
	MinDensity         float64
	MinSamples         int

	ArmTimeout  time.Duration
	MaxDuration time.Duration // sampling time bound
	MaxSamples  int           // sampling sample-count bound
}

// DefaultConfig returns the tuned defaults
func DefaultConfig() Config {
	return Config{
		LogicalFrameRate:   30,
		SlowMotionFactor:   1,
		NearZero:           0.05,
		ResetHigh:          0.9,
		MaxJump:            0.5,
		MonotonicTolerance: 0.02,
		SpikeRatio:         0.15,
		FullRatio:          0.99,
		MaxRejectFraction:  0.3,
		MinDensity:         0.1,
		MinSamples:         3,
		ArmTimeout:         30 * time.Second,
		MaxDuration:        5 * time.Minute,
		MaxSamples:         100000,
	}
}

func (c Config) fitOptions(slow float64) FitOptions {
	return FitOptions{
		LogicalFrameRate:   c.LogicalFrameRate,
		SlowMotionFactor:   slow,
		MonotonicTolerance: c.MonotonicTolerance,
		SpikeRatio:         c.SpikeRatio,
		FullRatio:          c.FullRatio,
		MaxRejectFraction:  c.MaxRejectFraction,
		MinDensity:         c.MinDensity,
		MinSamples:         c.MinSamples,
	}
}

// Request starts a session
type Request struct {
	Name             string        `json:"name"`
	SlowMotionFactor float64       `json:"slowMotionFactor,omitempty"` // 0 uses the configured factor
	Resolution       cv.Resolution `json:"resolution,omitempty"`       // zero takes the resolution of the anchor frame
}

// Result is the outcome of a finished session
type Result struct {
	SessionID  string           `json:"sessionId"`
	Name       string           `json:"name"`
	State      State            `json:"state"`
	Profile    *profile.Profile `json:"profile,omitempty"`
	Reason     Reason           `json:"reason,omitempty"`
	Error      string           `json:"error,omitempty"`
	Samples    int              `json:"samples"`
	Rejected   int              `json:"rejected"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`

	err error
}

// Err returns the *Failure of a failed session
func (r Result) Err() error {
	return r.err
}

// Status is a point-in-time view of the engine
type Status struct {
	State     State     `json:"state"`
	SessionID string    `json:"sessionId,omitempty"`
	Name      string    `json:"name,omitempty"`
	Samples   int       `json:"samples"`
	Progress  float64   `json:"progress"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Last      *Result   `json:"last,omitempty"`
}

// Committer receives fitted profiles; profile.Store implements it
type Committer interface {
	CommitAndActivate(ctx context.Context, p *profile.Profile) error
}

// RunRecord is the history entry written for every finished session
type RunRecord struct {
	SessionID         string
	ProfileName       string
	Outcome           State
	Reason            Reason
	Error             string
	Samples           int
	Rejected          int
	CycleLengthFrames int
	Resolution        cv.Resolution
	StartedAt         time.Time
	FinishedAt        time.Time
}

// RunRecorder stores calibration history
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

type session struct {
	id        string
	req       Request
	slow      float64
	state     State
	startedAt time.Time // engine clock
	sampledAt time.Time // engine clock when sampling began

	anchor     time.Time
	resolution cv.Resolution
	samples    []cv.FrameSample
	received   int
	lastRatio  float64
	pending    *cv.FrameSample // full reading awaiting confirmation
	reset      *cv.FrameSample // near-empty reading awaiting confirmation
	spikes     int
	cycleEnd   time.Time

	cancelled  bool
	committing bool
	done       chan struct{}
	result     Result
}

// Engine runs one calibration session at a time. Samples are fed by the
// capture loop through Observe; the fitted profile reaches the store only
// when the session is READY.
type Engine struct {
	cfg      Config
	store    Committer
	recorder RunRecorder
	bus      events.EventBus
	log      *logging.Logger
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	session  *session
	last     *Result
	onFinish []func(Result)
}

// NewEngine creates an engine that commits into store
func NewEngine(cfg Config, store Committer) *Engine {
	return &Engine{
		cfg:   cfg,
		store: store,
		log:   logging.NewLogger("Calibration"),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// WithRecorder records every finished session
func (e *Engine) WithRecorder(r RunRecorder) *Engine {
	e.recorder = r
	return e
}

// WithEventBus publishes state transitions
func (e *Engine) WithEventBus(bus events.EventBus) *Engine {
	e.bus = bus
	return e
}

// WithClock replaces the time source used for timeouts
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// OnFinish registers fn to run after every finished session
func (e *Engine) OnFinish(fn func(Result)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFinish = append(e.onFinish, fn)
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Start arms a new session and returns its ID
func (e *Engine) Start(req Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return "", ErrSessionActive
	}
	if req.Name == "" {
		req.Name = "default"
	}
	slow := req.SlowMotionFactor
	if slow <= 0 {
		slow = e.cfg.SlowMotionFactor
	}

	s := &session{
		id:         e.newID(),
		req:        req,
		slow:       slow,
		state:      StateArmed,
		startedAt:  e.now(),
		resolution: req.Resolution,
		done:       make(chan struct{}),
	}
	e.session = s

	e.log.InfoWithContext("Calibration armed", map[string]interface{}{
		"session_id":         s.id,
		"name":               req.Name,
		"slow_motion_factor": slow,
	})
	e.publish(events.NewCalibrationStateEvent(s.id, StateIdle.String(), StateArmed.String()))
	return s.id, nil
}

// Active reports whether a session is running
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Status returns the current session state, or IDLE with the last result
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{State: StateIdle, Last: e.last}
	if s := e.session; s != nil {
		st.State = s.state
		st.SessionID = s.id
		st.Name = s.req.Name
		st.Samples = len(s.samples)
		st.Progress = s.lastRatio
		st.StartedAt = s.startedAt
	}
	return st
}

// Observe feeds one sample into the active session
func (e *Engine) Observe(sample cv.FrameSample, res cv.Resolution) {
	e.mu.Lock()
	s := e.session
	if s == nil || s.committing || s.state == StateFitting {
		e.mu.Unlock()
		return
	}

	if err := e.checkBoundsLocked(s); err != nil {
		result := e.failLocked(s, err)
		e.mu.Unlock()
		e.report(result)
		return
	}

	switch s.state {
	case StateArmed:
		if sample.Valid && sample.FillRatio <= e.cfg.NearZero {
			s.state = StateSampling
			s.sampledAt = e.now()
			s.anchor = sample.CapturedAt
			s.samples = append(s.samples, sample)
			s.lastRatio = sample.FillRatio
			if s.resolution == (cv.Resolution{}) {
				s.resolution = res
			}
			e.mu.Unlock()

			e.log.InfoWithContext("Cycle start anchored", map[string]interface{}{
				"session_id": s.id,
				"ratio":      sample.FillRatio,
			})
			e.publish(events.NewCalibrationStateEvent(s.id, StateArmed.String(), StateSampling.String()))
			return
		}

	case StateSampling:
		s.received++
		if sample.Valid && !sample.CapturedAt.Before(s.anchor) && e.sampleLocked(s, sample) {
			s.state = StateFitting
			e.mu.Unlock()

			e.publish(events.NewCalibrationStateEvent(s.id, StateSampling.String(), StateFitting.String()))
			e.fit(s)
			return
		}
		if s.received%30 == 0 {
			e.publish(events.NewCalibrationProgressEvent(s.id, s.lastRatio, len(s.samples)))
		}
	}
	e.mu.Unlock()
}

// sampleLocked records a valid sample and reports whether the cycle ended
func (e *Engine) sampleLocked(s *session, sample cv.FrameSample) bool {
	r := sample.FillRatio
	prev := s.lastRatio

	if p := s.pending; p != nil {
		s.pending = nil
		switch {
		case r >= e.cfg.FullRatio:
			s.samples = append(s.samples, *p)
			s.cycleEnd = p.CapturedAt
			return true
		case r <= e.cfg.NearZero:
			// Full then reset confirms the full reading
			s.samples = append(s.samples, *p)
			s.cycleEnd = p.CapturedAt
			return true
		default:
			s.spikes++
		}
	}

	if p := s.reset; p != nil {
		s.reset = nil
		if r < prev-e.cfg.MonotonicTolerance {
			s.cycleEnd = p.CapturedAt
			return true
		}
		// The bar kept its level, so the drop was a misread
		s.spikes++
	}

	switch {
	case r >= e.cfg.FullRatio && prev >= e.cfg.FullRatio-e.cfg.MaxJump:
		s.samples = append(s.samples, sample)
		s.cycleEnd = sample.CapturedAt
		return true
	case r >= e.cfg.FullRatio:
		s.pending = &sample
		return false
	case prev >= e.cfg.ResetHigh && r <= e.cfg.NearZero:
		s.reset = &sample
		return false
	}

	s.samples = append(s.samples, sample)
	s.lastRatio = r
	return false
}

// Tick enforces timeouts when no samples arrive
func (e *Engine) Tick() {
	e.mu.Lock()
	s := e.session
	if s == nil || s.committing || s.state == StateFitting {
		e.mu.Unlock()
		return
	}
	err := e.checkBoundsLocked(s)
	if err == nil {
		e.mu.Unlock()
		return
	}
	result := e.failLocked(s, err)
	e.mu.Unlock()
	e.report(result)
}

func (e *Engine) checkBoundsLocked(s *session) error {
	now := e.now()
	switch s.state {
	case StateArmed:
		if e.cfg.ArmTimeout > 0 && now.Sub(s.startedAt) > e.cfg.ArmTimeout {
			return fmt.Errorf("%w (%v)", ErrCalibrationTimeout, e.cfg.ArmTimeout)
		}
	case StateSampling:
		if e.cfg.MaxDuration > 0 && now.Sub(s.sampledAt) > e.cfg.MaxDuration {
			return fmt.Errorf("%w: still sampling after %v", ErrCycleNotObserved, e.cfg.MaxDuration)
		}
		if e.cfg.MaxSamples > 0 && s.received >= e.cfg.MaxSamples {
			return fmt.Errorf("%w: %d samples without a full bar", ErrCycleNotObserved, s.received)
		}
	}
	return nil
}

// Cancel aborts the active session
func (e *Engine) Cancel() error {
	e.mu.Lock()
	s := e.session
	if s == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	if s.committing {
		e.mu.Unlock()
		return ErrCommitting
	}
	if s.state == StateFitting {
		// fit() notices on its way out
		s.cancelled = true
		e.mu.Unlock()
		return nil
	}
	result := e.failLocked(s, ErrCancelled)
	e.mu.Unlock()
	e.report(result)
	return nil
}

// Wait blocks until the session with id finishes
func (e *Engine) Wait(ctx context.Context, id string) (Result, error) {
	e.mu.Lock()
	s := e.session
	if s == nil || s.id != id {
		last := e.last
		e.mu.Unlock()
		if last != nil && last.SessionID == id {
			return *last, nil
		}
		return Result{}, ErrNoSession
	}
	done := s.done
	e.mu.Unlock()

	select {
	case <-done:
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// fit runs outside the lock so the capture loop is only held for the fit
// itself and the store commit
func (e *Engine) fit(s *session) {
	res, err := Fit(s.anchor, s.samples, s.cycleEnd, e.cfg.fitOptions(s.slow))

	e.mu.Lock()
	if s.cancelled {
		err = ErrCancelled
	}
	if err != nil {
		s.spikes += res.Rejected
		result := e.failLocked(s, err)
		e.mu.Unlock()
		e.report(result)
		return
	}
	s.committing = true
	e.mu.Unlock()

	p := &profile.Profile{
		Name:              s.req.Name,
		Resolution:        s.resolution,
		CycleLengthFrames: res.CycleLengthFrames,
		Breakpoints:       res.Breakpoints,
		LogicalFrameRate:  e.cfg.LogicalFrameRate,
		SlowMotionFactor:  s.slow,
		CreatedAt:         time.Now().UTC().Truncate(time.Second),
	}

	if err := e.store.CommitAndActivate(context.Background(), p); err != nil {
		e.mu.Lock()
		result := e.failLocked(s, fmt.Errorf("%w: %v", ErrCommitFailed, err))
		e.mu.Unlock()
		e.report(result)
		return
	}

	e.mu.Lock()
	s.state = StateReady
	s.result = Result{
		SessionID:  s.id,
		Name:       p.Name,
		State:      StateReady,
		Profile:    p,
		Samples:    len(s.samples),
		Rejected:   res.Rejected + s.spikes,
		StartedAt:  s.startedAt,
		FinishedAt: e.now(),
	}
	result := e.endLocked(s)
	e.mu.Unlock()
	e.report(result)
}

// failLocked ends s with err
func (e *Engine) failLocked(s *session, err error) Result {
	var failure *Failure
	if !errors.As(err, &failure) {
		failure = &Failure{Reason: reasonFor(err), Err: err}
	}
	s.state = StateFailed
	s.result = Result{
		SessionID:  s.id,
		Name:       s.req.Name,
		State:      StateFailed,
		Reason:     failure.Reason,
		Error:      failure.Error(),
		Samples:    len(s.samples),
		Rejected:   s.spikes,
		StartedAt:  s.startedAt,
		FinishedAt: e.now(),
		err:        failure,
	}
	return e.endLocked(s)
}

// endLocked records the terminal result and returns the engine to IDLE
func (e *Engine) endLocked(s *session) Result {
	result := s.result
	e.last = &result
	e.session = nil
	close(s.done)
	return result
}

// report runs the side effects of a finished session outside the lock
func (e *Engine) report(result Result) {
	ctx := map[string]interface{}{
		"session_id": result.SessionID,
		"name":       result.Name,
		"samples":    result.Samples,
		"rejected":   result.Rejected,
	}

	record := RunRecord{
		SessionID:   result.SessionID,
		ProfileName: result.Name,
		Outcome:     result.State,
		Reason:      result.Reason,
		Error:       result.Error,
		Samples:     result.Samples,
		Rejected:    result.Rejected,
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
	}

	if result.State == StateReady {
		ctx["cycle_length"] = result.Profile.CycleLengthFrames
		ctx["breakpoints"] = len(result.Profile.Breakpoints)
		e.log.InfoWithContext("Calibration ready", ctx)
		e.publish(events.NewCalibrationStateEvent(result.SessionID, StateFitting.String(), StateReady.String()))
		e.publish(events.NewCalibrationCompletedEvent(result.SessionID, result.Name, result.Profile.CycleLengthFrames))

		record.CycleLengthFrames = result.Profile.CycleLengthFrames
		record.Resolution = result.Profile.Resolution
	} else {
		ctx["reason"] = string(result.Reason)
		e.log.WarnWithContext("Calibration failed", ctx)
		e.publish(events.NewCalibrationFailedEvent(result.SessionID, string(result.Reason), result.err))
	}
	e.publish(events.NewCalibrationStateEvent(result.SessionID, result.State.String(), StateIdle.String()))

	if e.recorder != nil {
		if err := e.recorder.RecordRun(context.Background(), record); err != nil {
			e.log.Error("Failed to record calibration run", err)
		}
	}

	e.mu.Lock()
	hooks := append(([]func(Result))(nil), e.onFinish...)
	e.mu.Unlock()
	for _, fn := range hooks {
		fn(result)
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.TryPublish(ev)
	}
}
