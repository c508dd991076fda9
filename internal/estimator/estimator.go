package estimator

import (
	"math"
	"sync"
	"time"

	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/profile"
)

// Reasons passed to Hooks.RunningChanged when the estimator stops
const (
	StopStale          = "stale"
	StopInvalid        = "invalid_readings"
	StopProfileChanged = "profile_changed"
	StopNoProfile      = "no_profile"
	StopReset          = "reset"
)

// Config tunes the estimator
type Config struct {
	DefaultFrameRate      float64       // used when the profile carries none
	StaleAfter            time.Duration // no valid reading for this long stops the clock
	InvalidStreak         int           // consecutive invalid readings that stop the clock
	MisreadTolerance      float64       // frames a reading may trail the prediction
	MaxConsecutiveRejects int           // rejected readings before resynchronising
	WrapLow               float64       // fraction of the cycle a new-cycle reading stays under
	WrapHigh              float64       // fraction of the cycle the prediction must have passed
}

// DefaultConfig returns the tuned defaults
func DefaultConfig() Config {
	return Config{
		DefaultFrameRate:      30,
		StaleAfter:            time.Second,
		InvalidStreak:         3,
		MisreadTolerance:      2,
		MaxConsecutiveRejects: 3,
		WrapLow:               0.1,
		WrapHigh:              0.9,
	}
}

// Hooks are called outside the estimator lock, in order
type Hooks struct {
	RunningChanged  func(running bool, reason string)
	Wraparound      func(cycles, totalFrames int)
	MisreadRejected func(reading, predicted float64)
	Resynced        func(frame float64)
}

// Snapshot is the published estimator state. Fields are append-only.
type Snapshot struct {
	IsRunning          bool    `json:"isRunning"`
	CurrentFrame       *int    `json:"currentFrame"`
	TotalFramesInCycle int     `json:"totalFramesInCycle"`
	TotalElapsedFrames int     `json:"totalElapsedFrames"`
	ActiveProfile      *string `json:"activeProfile"`
	Timecode           string  `json:"timecode"`
	LapFrames          *int    `json:"lapFrames"`
	Cycles             int     `json:"cycles"`
}

// Estimator is a frame clock anchored by bar readings and extrapolated
// between them. All methods are safe for concurrent use.
type Estimator struct {
	cfg   Config
	hooks Hooks

	mu      sync.Mutex
	profile *profile.Profile
	fps     float64

	running       bool
	anchorTime    time.Time
	anchorFrame   float64
	lastOut       int
	lastValidAt   time.Time
	invalidStreak int
	rejectStreak  int

	cycles int
	offset int // total = offset + cycles*N + current
	held   int // last published total; never decreases until Reset

	lastRatio float64
	lastSeen  time.Time

	lapRunning bool
	lapStart   int
	lapFrames  *int

	snap    Snapshot
	pending []func()
}

// New creates an estimator with no profile
func New(cfg Config) *Estimator {
	e := &Estimator{cfg: cfg, fps: cfg.DefaultFrameRate}
	e.snap = e.snapshotLocked()
	return e
}

// SetHooks replaces the callbacks
func (e *Estimator) SetHooks(h Hooks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = h
}

// SetProfile switches the active profile. The elapsed total carries over;
// the clock waits for a fresh reading before running again.
func (e *Estimator) SetProfile(p *profile.Profile) {
	e.mu.Lock()
	if p == e.profile {
		e.mu.Unlock()
		return
	}
	e.profile = p
	e.fps = e.cfg.DefaultFrameRate
	if p != nil && p.LogicalFrameRate > 0 {
		e.fps = p.LogicalFrameRate
	}
	reason := StopProfileChanged
	if p == nil {
		reason = StopNoProfile
	}
	e.stopLocked(reason)
	e.snap = e.snapshotLocked()
	e.unlockAndFlush()
}

// Profile returns the profile in use
func (e *Estimator) Profile() *profile.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile
}

// Reset zeroes the elapsed total, cycle count and lap
func (e *Estimator) Reset() {
	e.mu.Lock()
	e.stopLocked(StopReset)
	e.cycles = 0
	e.offset = 0
	e.held = 0
	e.lapRunning = false
	e.lapStart = 0
	e.lapFrames = nil
	e.snap = e.snapshotLocked()
	e.unlockAndFlush()
}

// ToggleLap starts a lap, or stops the running one and returns its length
func (e *Estimator) ToggleLap() (running bool, frames int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lapRunning {
		n := e.held - e.lapStart
		e.lapRunning = false
		e.lapFrames = &n
		e.snap = e.snapshotLocked()
		return false, n
	}
	e.lapRunning = true
	e.lapStart = e.held
	zero := 0
	e.lapFrames = &zero
	e.snap = e.snapshotLocked()
	return true, 0
}

// Observe folds one reading into the clock
func (e *Estimator) Observe(s cv.FrameSample) {
	e.mu.Lock()
	if e.profile == nil {
		e.mu.Unlock()
		return
	}

	if !s.Valid {
		e.invalidStreak++
		if e.running && e.invalidStreak >= e.cfg.InvalidStreak {
			e.stopLocked(StopInvalid)
			e.snap = e.snapshotLocked()
		}
		e.unlockAndFlush()
		return
	}

	// Out of order readings carry no new information
	if e.running && s.CapturedAt.Before(e.anchorTime) {
		e.mu.Unlock()
		return
	}

	e.invalidStreak = 0
	e.lastRatio = s.FillRatio
	e.lastSeen = s.CapturedAt
	frame := e.profile.FrameAt(s.FillRatio)

	if !e.running {
		e.startLocked(s.CapturedAt, frame)
		e.snap = e.snapshotLocked()
		e.unlockAndFlush()
		return
	}

	n := float64(e.profile.CycleLengthFrames)
	predicted := e.predictLocked(s.CapturedAt)

	switch {
	case frame <= e.cfg.WrapLow*n && predicted >= e.cfg.WrapHigh*n:
		e.wrapLocked(s.CapturedAt, frame)

	case frame < math.Min(predicted, n-1)-e.cfg.MisreadTolerance:
		e.rejectStreak++
		if e.rejectStreak <= e.cfg.MaxConsecutiveRejects {
			h := e.hooks.MisreadRejected
			e.queue(func() {
				if h != nil {
					h(frame, predicted)
				}
			})
			e.unlockAndFlush()
			return
		}
		// The readings agree with each other, so the prediction is wrong
		e.rejectStreak = 0
		e.anchorTime, e.anchorFrame = s.CapturedAt, frame
		e.lastOut = e.clampLocked(frame)
		e.offset = e.held - e.cycles*e.profile.CycleLengthFrames - e.lastOut
		h := e.hooks.Resynced
		e.queue(func() {
			if h != nil {
				h(frame)
			}
		})

	default:
		e.rejectStreak = 0
		e.anchorTime, e.anchorFrame = s.CapturedAt, frame
	}

	e.lastValidAt = s.CapturedAt
	e.snap = e.snapshotLocked()
	e.unlockAndFlush()
}

// Tick extrapolates the clock to now and returns the snapshot to publish
func (e *Estimator) Tick(now time.Time) Snapshot {
	e.mu.Lock()
	if e.running {
		if now.Sub(e.lastValidAt) > e.cfg.StaleAfter {
			e.stopLocked(StopStale)
		} else {
			e.advanceLocked(now)
		}
	}
	e.snap = e.snapshotLocked()
	snap := e.snap
	e.unlockAndFlush()
	return snap
}

// Snapshot returns the most recent snapshot without advancing the clock
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// LastReading returns the last valid fill ratio and when it was captured
func (e *Estimator) LastReading() (float64, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRatio, e.lastSeen
}

func (e *Estimator) startLocked(t time.Time, frame float64) {
	e.running = true
	e.anchorTime, e.anchorFrame = t, frame
	e.lastValidAt = t
	e.rejectStreak = 0
	e.cycles = 0
	e.lastOut = e.clampLocked(frame)
	// The total resumes from where it stopped
	e.offset = e.held - e.lastOut

	h := e.hooks.RunningChanged
	e.queue(func() {
		if h != nil {
			h(true, "")
		}
	})
}

func (e *Estimator) stopLocked(reason string) {
	if !e.running {
		return
	}
	e.running = false
	e.invalidStreak = 0
	e.rejectStreak = 0

	h := e.hooks.RunningChanged
	e.queue(func() {
		if h != nil {
			h(false, reason)
		}
	})
}

func (e *Estimator) wrapLocked(t time.Time, frame float64) {
	e.cycles++
	e.rejectStreak = 0
	e.anchorTime, e.anchorFrame = t, frame
	e.lastOut = e.clampLocked(frame)

	total := e.totalLocked()
	cycles := e.cycles
	h := e.hooks.Wraparound
	e.queue(func() {
		if h != nil {
			h(cycles, total)
		}
	})
}

// predictLocked is the unclamped frame at t
func (e *Estimator) predictLocked(t time.Time) float64 {
	return e.anchorFrame + t.Sub(e.anchorTime).Seconds()*e.fps
}

func (e *Estimator) clampLocked(frame float64) int {
	f := int(math.Round(frame))
	last := e.profile.CycleLengthFrames - 1
	if f < 0 {
		return 0
	}
	if f > last {
		return last
	}
	return f
}

func (e *Estimator) advanceLocked(now time.Time) {
	cur := e.clampLocked(e.predictLocked(now))
	if cur < e.lastOut {
		cur = e.lastOut
	}
	e.lastOut = cur
}

func (e *Estimator) totalLocked() int {
	total := e.offset + e.cycles*e.profile.CycleLengthFrames + e.lastOut
	if total < e.held {
		total = e.held
	}
	e.held = total
	return total
}

func (e *Estimator) snapshotLocked() Snapshot {
	snap := Snapshot{
		TotalElapsedFrames: e.held,
		Cycles:             e.cycles,
	}
	if e.profile != nil {
		name := e.profile.Name
		snap.ActiveProfile = &name
	}
	if e.running {
		cur := e.lastOut
		snap.IsRunning = true
		snap.CurrentFrame = &cur
		snap.TotalFramesInCycle = e.profile.CycleLengthFrames
		snap.TotalElapsedFrames = e.totalLocked()
	}
	snap.Timecode = Timecode(snap.TotalElapsedFrames, e.fps)

	if e.lapFrames != nil {
		n := *e.lapFrames
		if e.lapRunning {
			n = snap.TotalElapsedFrames - e.lapStart
		}
		snap.LapFrames = &n
	}
	return snap
}

func (e *Estimator) queue(fn func()) {
	e.pending = append(e.pending, fn)
}

// unlockAndFlush releases the lock, then runs queued hooks
func (e *Estimator) unlockAndFlush() {
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}
