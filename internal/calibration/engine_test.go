package calibration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/events"
	"jordanella.com/cost-ruler/internal/profile"
)

var hd = cv.Resolution{Width: 1920, Height: 1080}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type switchRepo struct {
	mu    sync.Mutex
	saved map[string]*profile.Profile
	fail  bool
}

func (r *switchRepo) List(ctx context.Context) ([]*profile.Profile, error) {
	return nil, nil
}

func (r *switchRepo) Save(ctx context.Context, p *profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("read-only filesystem")
	}
	r.saved[p.Name] = p
	return nil
}

func (r *switchRepo) Delete(ctx context.Context, name string) error {
	return nil
}

type recorder struct {
	mu   sync.Mutex
	runs []RunRecord
}

func (r *recorder) RecordRun(ctx context.Context, run RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *profile.Store, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LogicalFrameRate = 10
	clock := &fakeClock{now: t0}
	store := profile.NewStore(nil)
	return NewEngine(cfg, store).WithClock(clock.Now), store, clock
}

func feed(e *Engine, samples ...cv.FrameSample) {
	for _, s := range samples {
		e.Observe(s, hd)
	}
}

func TestEngineCalibratesCycle(t *testing.T) {
	e, store, _ := newTestEngine(t)
	rec := &recorder{}
	e.WithRecorder(rec)

	var finished []Result
	e.OnFinish(func(r Result) { finished = append(finished, r) })

	id, err := e.Start(Request{Name: "reduced"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, StateArmed, e.Status().State)

	// Mid-cycle readings are ignored until the bar empties
	feed(e, at(-2, 0.5), cv.InvalidSample(t0.Add(-time.Second), cv.ReasonNotBar))
	assert.Equal(t, StateArmed, e.Status().State)

	feed(e, at(0, 0))
	assert.Equal(t, StateSampling, e.Status().State)

	feed(e, at(1, 0.33), at(2, 0.66), at(3, 1))

	st := e.Status()
	assert.Equal(t, StateIdle, st.State)
	require.NotNil(t, st.Last)
	assert.Equal(t, StateReady, st.Last.State)
	assert.Equal(t, id, st.Last.SessionID)

	active := store.Active()
	require.NotNil(t, active)
	assert.Equal(t, "reduced", active.Name)
	assert.Equal(t, 30, active.CycleLengthFrames)
	assert.Equal(t, hd, active.Resolution)
	assert.Equal(t, profile.Breakpoint{Ratio: 1, Frame: 29}, active.Breakpoints[len(active.Breakpoints)-1])

	res, err := e.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Same(t, active, res.Profile)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, StateReady, rec.runs[0].Outcome)
	assert.Equal(t, 30, rec.runs[0].CycleLengthFrames)
	require.Len(t, finished, 1)
}

func TestEngineDefaultName(t *testing.T) {
	e, store, _ := newTestEngine(t)
	_, err := e.Start(Request{})
	require.NoError(t, err)
	feed(e, at(0, 0), at(1, 0.33), at(2, 0.66), at(3, 1))

	require.NotNil(t, store.Active())
	assert.Equal(t, "default", store.Active().Name)
}

func TestEngineSessionActive(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Start(Request{Name: "a"})
	require.NoError(t, err)

	_, err = e.Start(Request{Name: "b"})
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.True(t, e.Active())
}

func TestEngineArmTimeout(t *testing.T) {
	e, store, clock := newTestEngine(t)
	id, err := e.Start(Request{Name: "late"})
	require.NoError(t, err)

	clock.Advance(29 * time.Second)
	e.Tick()
	assert.Equal(t, StateArmed, e.Status().State)

	clock.Advance(2 * time.Second)
	e.Tick()

	res, err := e.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.ErrorIs(t, res.Err(), ErrCalibrationTimeout)
	assert.Nil(t, store.Active())
	assert.False(t, e.Active())
}

func TestEngineMaxDuration(t *testing.T) {
	e, _, clock := newTestEngine(t)
	e.cfg.MaxDuration = 10 * time.Second

	_, err := e.Start(Request{Name: "stuck"})
	require.NoError(t, err)
	feed(e, at(0, 0), at(1, 0.2))

	clock.Advance(11 * time.Second)
	feed(e, at(12, 0.4))

	last := e.Status().Last
	require.NotNil(t, last)
	assert.Equal(t, ReasonCycleNotObserved, last.Reason)
}

func TestEngineMaxSamples(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.cfg.MaxSamples = 5

	_, err := e.Start(Request{Name: "stuck"})
	require.NoError(t, err)
	feed(e, at(0, 0))
	for i := 1; i <= 6; i++ {
		feed(e, at(float64(i)*0.1, 0.1))
	}

	last := e.Status().Last
	require.NotNil(t, last)
	assert.Equal(t, ReasonCycleNotObserved, last.Reason)
}

func TestEngineCancel(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.ErrorIs(t, e.Cancel(), ErrNoSession)

	id, err := e.Start(Request{Name: "x"})
	require.NoError(t, err)
	feed(e, at(0, 0), at(1, 0.3))

	require.NoError(t, e.Cancel())
	res, err := e.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.ErrorIs(t, e.Cancel(), ErrNoSession)

	// A cancelled engine accepts a new session
	_, err = e.Start(Request{Name: "y"})
	assert.NoError(t, err)
}

func TestEngineCommitFailureKeepsPriorProfile(t *testing.T) {
	repo := &switchRepo{saved: make(map[string]*profile.Profile)}
	store := profile.NewStore(repo)
	prior := profile.Linear("prior", hd, 60)
	require.NoError(t, store.CommitAndActivate(context.Background(), prior))
	repo.fail = true

	cfg := DefaultConfig()
	cfg.LogicalFrameRate = 10
	e := NewEngine(cfg, store)

	_, err := e.Start(Request{Name: "new"})
	require.NoError(t, err)
	feed(e, at(0, 0), at(1, 0.33), at(2, 0.66), at(3, 1))

	last := e.Status().Last
	require.NotNil(t, last)
	assert.Equal(t, ReasonCommitFailed, last.Reason)
	assert.ErrorIs(t, last.Err(), ErrCommitFailed)
	assert.Same(t, prior, store.Active())
}

func TestEngineResetEdgeEndsCycle(t *testing.T) {
	e, store, _ := newTestEngine(t)
	_, err := e.Start(Request{Name: "reset"})
	require.NoError(t, err)

	// The full bar is never captured; the drop back to empty closes the cycle
	feed(e, at(0, 0), at(1, 0.3), at(2, 0.6), at(2.9, 0.95), at(3, 0.01))
	assert.Equal(t, StateSampling, e.Status().State)

	// A second empty reading confirms the reset at the first one
	feed(e, at(3.1, 0.02))

	require.NotNil(t, store.Active())
	assert.Equal(t, 30, store.Active().CycleLengthFrames)
}

func TestEngineLowSpikeNearFullIsRejected(t *testing.T) {
	e, store, _ := newTestEngine(t)
	_, err := e.Start(Request{Name: "dip"})
	require.NoError(t, err)

	feed(e, at(0, 0), at(1, 0.33), at(2, 0.66), at(2.8, 0.92), at(2.85, 0.01))
	assert.Equal(t, StateSampling, e.Status().State)

	feed(e, at(2.9, 0.96), at(3, 1))
	last := e.Status().Last
	require.NotNil(t, last)
	assert.Equal(t, StateReady, last.State)
	assert.GreaterOrEqual(t, last.Rejected, 1)
	assert.Equal(t, 30, store.Active().CycleLengthFrames)
}

func TestEngineFullSpikeNeedsConfirmation(t *testing.T) {
	e, store, _ := newTestEngine(t)
	_, err := e.Start(Request{Name: "spiky"})
	require.NoError(t, err)

	feed(e, at(0, 0), at(1, 0.33), at(1.2, 1), at(1.5, 0.45))
	assert.Equal(t, StateSampling, e.Status().State)

	feed(e, at(2, 0.66), at(3, 1))
	last := e.Status().Last
	require.NotNil(t, last)
	assert.Equal(t, StateReady, last.State)
	assert.Equal(t, 1, last.Rejected)
	assert.Equal(t, 30, store.Active().CycleLengthFrames)
}

func TestEngineNonMonotonicFails(t *testing.T) {
	e, store, _ := newTestEngine(t)
	_, err := e.Start(Request{Name: "noisy"})
	require.NoError(t, err)

	feed(e,
		at(0, 0), at(0.5, 0.1), at(1, 0.2), at(1.5, 0.3), at(2, 0.4), at(2.5, 0.5),
		at(2.6, 0.06), at(2.7, 0.06), at(2.8, 0.06), at(2.9, 0.06),
		at(3, 0.99), at(3.1, 1))

	last := e.Status().Last
	require.NotNil(t, last)
	assert.Equal(t, ReasonNonMonotonicData, last.Reason)
	assert.Nil(t, store.Active())
}

func TestEnginePublishesTransitions(t *testing.T) {
	bus := events.NewEventBus(64)
	defer bus.Stop()

	var mu sync.Mutex
	var states []string
	bus.Subscribe(events.EventTypeCalibrationStateChanged, func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, ev.Data["to"].(string))
	})

	e, _, _ := newTestEngine(t)
	e.WithEventBus(bus)
	_, err := e.Start(Request{Name: "bus"})
	require.NoError(t, err)
	feed(e, at(0, 0), at(1, 0.33), at(2, 0.66), at(3, 1))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 5
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"armed", "sampling", "fitting", "ready", "idle"}, states)
}

func TestEngineWaitUnknownSession(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoSession)

	id, err := e.Start(Request{Name: "w"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = e.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
