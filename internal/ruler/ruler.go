package ruler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jordanella.com/cost-ruler/internal/calibration"
	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/estimator"
	"jordanella.com/cost-ruler/internal/events"
	"jordanella.com/cost-ruler/internal/logging"
	"jordanella.com/cost-ruler/internal/metrics"
	"jordanella.com/cost-ruler/internal/monitor"
	"jordanella.com/cost-ruler/internal/profile"
	"jordanella.com/cost-ruler/internal/publish"
)

const (
	defaultPublishInterval = 16 * time.Millisecond
	defaultErrorBackoff    = 250 * time.Millisecond
)

// FrameSource delivers captured frames; cv.Service implements it
type FrameSource interface {
	Next(ctx context.Context) (cv.Frame, error)
}

// Options wires a Ruler. Source, Store, Estimator and Engine are required.
type Options struct {
	Source    FrameSource
	Reader    *cv.Reader
	Store     *profile.Store
	Estimator *estimator.Estimator
	Engine    *calibration.Engine
	Publisher publish.Publisher
	Bus       events.EventBus
	Metrics   *metrics.Metrics
	Health    *monitor.HealthChecker
	Dumper    *cv.Dumper

	PublishInterval time.Duration
	ErrorBackoff    time.Duration

	// PersistActive is called with the name of each newly active profile,
	// or "" when no profile is active
	PersistActive func(name string) error

	Now func() time.Time
}

// Ruler runs the capture-and-read loop and the publish loop, and exposes
// the commands the API and CLI drive
type Ruler struct {
	source    FrameSource
	reader    *cv.Reader
	store     *profile.Store
	est       *estimator.Estimator
	engine    *calibration.Engine
	publisher publish.Publisher
	bus       events.EventBus
	metrics   *metrics.Metrics
	health    *monitor.HealthChecker
	dumper    *cv.Dumper
	persist   func(string) error
	now       func() time.Time
	logger    *logging.Logger

	publishInterval time.Duration
	errorBackoff    time.Duration

	mu          sync.Mutex
	resolution  cv.Resolution
	unsupported map[cv.Resolution]bool
	failStreak  int
	frames      uint64
}

// New wires the components together. The estimator follows the store's
// active profile from here on.
func New(opts Options) (*Ruler, error) {
	if opts.Source == nil || opts.Store == nil || opts.Estimator == nil || opts.Engine == nil {
		return nil, errors.New("ruler: source, store, estimator and engine are required")
	}

	r := &Ruler{
		source:          opts.Source,
		reader:          opts.Reader,
		store:           opts.Store,
		est:             opts.Estimator,
		engine:          opts.Engine,
		publisher:       opts.Publisher,
		bus:             opts.Bus,
		metrics:         opts.Metrics,
		health:          opts.Health,
		dumper:          opts.Dumper,
		persist:         opts.PersistActive,
		now:             opts.Now,
		logger:          logging.NewLogger("ruler"),
		publishInterval: opts.PublishInterval,
		errorBackoff:    opts.ErrorBackoff,
		unsupported:     make(map[cv.Resolution]bool),
	}
	if r.reader == nil {
		r.reader = cv.NewReader()
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.publisher == nil {
		r.publisher = publish.NewFanout()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.publishInterval <= 0 {
		r.publishInterval = defaultPublishInterval
	}
	if r.errorBackoff <= 0 {
		r.errorBackoff = defaultErrorBackoff
	}

	r.est.SetHooks(estimator.Hooks{
		RunningChanged: r.onRunningChanged,
		Wraparound:     r.onWraparound,
		MisreadRejected: func(reading, predicted float64) {
			r.metrics.IncMisreads()
			r.logger.DebugWithContext("Rejected misread", map[string]interface{}{
				"reading":   reading,
				"predicted": predicted,
			})
		},
		Resynced: func(frame float64) {
			r.logger.InfoWithContext("Resynchronised to readings", map[string]interface{}{
				"frame": frame,
			})
		},
	})
	r.engine.OnFinish(func(res calibration.Result) {
		r.metrics.IncCalibrations(res.State.String())
	})
	r.store.OnActivate(r.onActivate)
	r.est.SetProfile(r.store.Active())

	return r, nil
}

// Run blocks until ctx is cancelled
func (r *Ruler) Run(ctx context.Context) error {
	if r.health != nil {
		r.health.Start(ctx)
		defer r.health.Stop()
	}

	r.logger.Info("Ruler started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.captureLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.publishLoop(ctx)
	}()
	wg.Wait()

	r.logger.Info("Ruler stopped")
	return ctx.Err()
}

func (r *Ruler) captureLoop(ctx context.Context) {
	for ctx.Err() == nil {
		started := r.now()
		frame, err := r.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.captureFailed(started, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.errorBackoff):
			}
			continue
		}

		r.metrics.ObserveCapture(r.now().Sub(started))
		if r.health != nil {
			r.health.RecordActivity()
		}
		r.ProcessFrame(frame)
	}
}

func (r *Ruler) captureFailed(at time.Time, err error) {
	r.mu.Lock()
	r.failStreak++
	streak := r.failStreak
	r.mu.Unlock()

	r.metrics.IncCaptureErrors()
	if streak == 1 {
		r.logger.Warn(fmt.Sprintf("Capture failed: %v", err))
	} else {
		r.logger.DebugWithContext("Capture still failing", map[string]interface{}{
			"streak": streak,
			"error":  err.Error(),
		})
	}
	r.publish(events.NewCaptureErrorEvent(err))

	r.observe(cv.InvalidSample(at, cv.ReasonCaptureError), cv.Resolution{})
}

// ProcessFrame reads one captured frame and feeds the sample to the
// calibration engine and the estimator
func (r *Ruler) ProcessFrame(frame cv.Frame) cv.FrameSample {
	res := frame.Resolution()

	r.mu.Lock()
	if r.failStreak > 0 {
		r.logger.InfoWithContext("Capture recovered", map[string]interface{}{
			"failures": r.failStreak,
		})
		r.failStreak = 0
	}
	r.frames++
	r.resolution = res
	r.mu.Unlock()

	region, err := cv.Locate(res.Width, res.Height)
	if err != nil {
		r.unsupportedResolution(res, err)
		sample := cv.InvalidSample(frame.CapturedAt, cv.ReasonOutOfBounds)
		r.observe(sample, res)
		return sample
	}

	sample := r.reader.Read(frame, region)
	r.observe(sample, res)

	if r.dumper != nil {
		if _, err := r.dumper.Dump(frame, region, sample); err != nil {
			r.logger.Error("Failed to dump debug image", err)
		}
	}
	return sample
}

func (r *Ruler) observe(sample cv.FrameSample, res cv.Resolution) {
	r.metrics.ObserveSample(sample.Valid, string(sample.Reason))
	if r.logger.IsDebug() {
		r.logger.DebugWithContext("Sample", map[string]interface{}{
			"valid":  sample.Valid,
			"ratio":  sample.FillRatio,
			"reason": string(sample.Reason),
		})
	}
	r.engine.Observe(sample, res)
	r.est.Observe(sample)
}

func (r *Ruler) unsupportedResolution(res cv.Resolution, err error) {
	r.mu.Lock()
	seen := r.unsupported[res]
	r.unsupported[res] = true
	r.mu.Unlock()
	if seen {
		return
	}

	r.logger.Error("Cannot place the cost bar", err)
	r.publish(events.NewUnsupportedResolutionEvent(res.Width, res.Height))
}

func (r *Ruler) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(r.publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(r.now())
		}
	}
}

// Tick advances the estimator and the calibration bounds, then publishes
// the snapshot
func (r *Ruler) Tick(now time.Time) estimator.Snapshot {
	snap := r.est.Tick(now)
	r.engine.Tick()
	r.publisher.Publish(snap)
	return snap
}

func (r *Ruler) onRunningChanged(running bool, reason string) {
	r.metrics.SetRunning(running)
	ctx := map[string]interface{}{"running": running}
	if reason != "" {
		ctx["reason"] = reason
	}
	r.logger.InfoWithContext("Frame clock changed", ctx)
	r.publish(events.NewRunningChangedEvent(running, reason))
}

func (r *Ruler) onWraparound(cycles, total int) {
	r.metrics.IncWraparounds()
	r.logger.InfoWithContext("Cycle wrapped", map[string]interface{}{
		"cycles": cycles,
		"total":  total,
	})
	r.publish(events.NewWraparoundEvent(cycles, total))
}

func (r *Ruler) onActivate(p *profile.Profile) {
	r.est.SetProfile(p)

	name := ""
	if p != nil {
		name = p.Name
		r.logger.InfoWithContext("Profile activated", map[string]interface{}{
			"profile": p.Key(),
		})
	} else {
		r.logger.Info("No active profile")
	}

	r.publish(events.NewProfileEvent(events.EventTypeProfileActivated, name, nil))
	if r.persist != nil {
		if err := r.persist(name); err != nil {
			r.logger.Error("Failed to persist active profile", err)
		}
	}
}
