package estimator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/profile"
)

var (
	t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hd = cv.Resolution{Width: 1920, Height: 1080}
)

// One cycle is 30 frames, one second at the default rate
func linear30() *profile.Profile {
	return profile.Linear("linear", hd, 30)
}

func ts(seconds float64) time.Time {
	return t0.Add(time.Duration(seconds * float64(time.Second)))
}

func frameSample(seconds, frame float64) cv.FrameSample {
	return cv.FrameSample{CapturedAt: ts(seconds), FillRatio: frame / 29, Valid: true}
}

func ratioSample(seconds, ratio float64) cv.FrameSample {
	return cv.FrameSample{CapturedAt: ts(seconds), FillRatio: ratio, Valid: true}
}

func running(t *testing.T, e *Estimator) {
	t.Helper()
	e.SetProfile(linear30())
	e.Observe(frameSample(0, 0))
	require.True(t, e.Tick(ts(0)).IsRunning)
}

func TestNoProfile(t *testing.T) {
	e := New(DefaultConfig())
	e.Observe(frameSample(0, 10))

	snap := e.Tick(ts(0.1))
	assert.False(t, snap.IsRunning)
	assert.Nil(t, snap.CurrentFrame)
	assert.Nil(t, snap.ActiveProfile)
	assert.Equal(t, 0, snap.TotalFramesInCycle)
}

func TestExtrapolatesBetweenReadings(t *testing.T) {
	e := New(DefaultConfig())
	running(t, e)

	snap := e.Tick(ts(0.2))
	require.NotNil(t, snap.CurrentFrame)
	assert.Equal(t, 6, *snap.CurrentFrame)
	assert.Equal(t, 30, snap.TotalFramesInCycle)
	assert.Equal(t, 6, snap.TotalElapsedFrames)
	require.NotNil(t, snap.ActiveProfile)
	assert.Equal(t, "linear", *snap.ActiveProfile)

	// Clamped at the last frame while waiting for the wrap reading
	snap = e.Tick(ts(0.99))
	assert.Equal(t, 29, *snap.CurrentFrame)
}

func TestMonotonicOutput(t *testing.T) {
	e := New(DefaultConfig())
	running(t, e)

	jitter := []float64{1, -1, 0.5, -1.5, 0, 1}
	last := -1
	for i := 1; i <= 90; i++ {
		now := float64(i) * 0.01
		if i%15 == 0 {
			// Readings lag and jitter around the true frame
			e.Observe(frameSample(now, now*30+jitter[(i/15)%len(jitter)]))
		}
		snap := e.Tick(ts(now))
		require.True(t, snap.IsRunning, "tick %d", i)
		require.GreaterOrEqual(t, *snap.CurrentFrame, last, "tick %d", i)
		last = *snap.CurrentFrame
	}
}

func TestWraparound(t *testing.T) {
	e := New(DefaultConfig())
	var wraps []int
	e.SetHooks(Hooks{Wraparound: func(cycles, total int) { wraps = append(wraps, cycles) }})
	running(t, e)

	for i := 1; i <= 9; i++ {
		now := float64(i) * 0.1
		e.Observe(frameSample(now, now*30))
		e.Tick(ts(now))
	}
	e.Observe(ratioSample(0.95, 0.98))
	before := e.Tick(ts(0.95))
	assert.Equal(t, 28, *before.CurrentFrame)
	assert.Equal(t, 0, before.Cycles)

	e.Observe(ratioSample(1.0, 0.02))
	after := e.Tick(ts(1.0))

	assert.Equal(t, []int{1}, wraps)
	assert.Equal(t, 1, after.Cycles)
	require.NotNil(t, after.CurrentFrame)
	assert.LessOrEqual(t, *after.CurrentFrame, 2)
	// One cycle later at the same phase the total is 30 frames further on
	assert.InDelta(t, 30+*after.CurrentFrame, after.TotalElapsedFrames, 1)
	assert.GreaterOrEqual(t, after.TotalElapsedFrames, before.TotalElapsedFrames)

	e.Observe(ratioSample(1.1, 0.1))
	e.Tick(ts(1.1))
	assert.Len(t, wraps, 1)
}

func TestStaleness(t *testing.T) {
	e := New(DefaultConfig())
	var stops []string
	e.SetHooks(Hooks{RunningChanged: func(r bool, reason string) {
		if !r {
			stops = append(stops, reason)
		}
	}})
	running(t, e)

	held := e.Tick(ts(0.5)).TotalElapsedFrames
	assert.Equal(t, 15, held)

	snap := e.Tick(ts(1.2))
	assert.False(t, snap.IsRunning)
	assert.Nil(t, snap.CurrentFrame)
	assert.Equal(t, 0, snap.TotalFramesInCycle)
	assert.Equal(t, held, snap.TotalElapsedFrames)
	assert.Equal(t, []string{StopStale}, stops)

	// Resumes from the held total
	e.Observe(frameSample(2, 10))
	snap = e.Tick(ts(2.1))
	assert.True(t, snap.IsRunning)
	assert.Equal(t, held+3, snap.TotalElapsedFrames)
}

func TestInvalidStreakStops(t *testing.T) {
	e := New(DefaultConfig())
	running(t, e)

	e.Observe(cv.InvalidSample(ts(0.1), cv.ReasonSaturated))
	e.Observe(cv.InvalidSample(ts(0.2), cv.ReasonSaturated))
	assert.True(t, e.Tick(ts(0.2)).IsRunning)

	e.Observe(cv.InvalidSample(ts(0.3), cv.ReasonSaturated))
	snap := e.Tick(ts(0.3))
	assert.False(t, snap.IsRunning)
	assert.Nil(t, snap.CurrentFrame)

	// A valid reading in between resets the streak
	e.Observe(frameSample(0.4, 12))
	e.Observe(cv.InvalidSample(ts(0.5), cv.ReasonLowContrast))
	e.Observe(frameSample(0.6, 18))
	e.Observe(cv.InvalidSample(ts(0.7), cv.ReasonLowContrast))
	e.Observe(cv.InvalidSample(ts(0.8), cv.ReasonLowContrast))
	assert.True(t, e.Tick(ts(0.8)).IsRunning)
}

func TestMisreadRejectionAndResync(t *testing.T) {
	e := New(DefaultConfig())
	var rejected int
	var resynced []float64
	e.SetHooks(Hooks{
		MisreadRejected: func(reading, predicted float64) { rejected++ },
		Resynced:        func(frame float64) { resynced = append(resynced, frame) },
	})
	running(t, e)

	e.Observe(frameSample(0.5, 15))
	e.Observe(frameSample(0.6, 5))
	snap := e.Tick(ts(0.6))
	assert.Equal(t, 18, *snap.CurrentFrame)
	assert.Equal(t, 1, rejected)

	e.Observe(frameSample(0.61, 5))
	e.Observe(frameSample(0.62, 5))
	assert.Equal(t, 3, rejected)
	assert.Empty(t, resynced)
	held := e.Tick(ts(0.62)).TotalElapsedFrames

	// The fourth agreeing reading wins
	e.Observe(frameSample(0.63, 5))
	require.Len(t, resynced, 1)
	snap = e.Tick(ts(0.63))
	assert.Equal(t, 5, *snap.CurrentFrame)
	assert.Equal(t, held, snap.TotalElapsedFrames)
}

func TestReadingWithinToleranceIsAccepted(t *testing.T) {
	e := New(DefaultConfig())
	var rejected int
	e.SetHooks(Hooks{MisreadRejected: func(float64, float64) { rejected++ }})
	running(t, e)

	e.Tick(ts(0.5))
	e.Observe(frameSample(0.5, 14))
	snap := e.Tick(ts(0.5))
	assert.Zero(t, rejected)
	// Held, not stepped back
	assert.Equal(t, 15, *snap.CurrentFrame)
}

func TestSetProfileCarriesTotal(t *testing.T) {
	e := New(DefaultConfig())
	running(t, e)
	held := e.Tick(ts(0.5)).TotalElapsedFrames

	other := profile.Linear("other", hd, 60)
	e.SetProfile(other)
	snap := e.Snapshot()
	assert.False(t, snap.IsRunning)
	assert.Equal(t, "other", *snap.ActiveProfile)
	assert.Equal(t, held, snap.TotalElapsedFrames)

	e.Observe(cv.FrameSample{CapturedAt: ts(0.6), FillRatio: 30.0 / 59, Valid: true})
	snap = e.Tick(ts(0.7))
	assert.True(t, snap.IsRunning)
	assert.Equal(t, 60, snap.TotalFramesInCycle)
	assert.Equal(t, held+3, snap.TotalElapsedFrames)

	e.SetProfile(nil)
	snap = e.Snapshot()
	assert.Nil(t, snap.ActiveProfile)
	assert.Equal(t, held+3, snap.TotalElapsedFrames)
}

func TestReset(t *testing.T) {
	e := New(DefaultConfig())
	running(t, e)
	e.Tick(ts(0.5))
	e.ToggleLap()

	e.Reset()
	snap := e.Snapshot()
	assert.False(t, snap.IsRunning)
	assert.Zero(t, snap.TotalElapsedFrames)
	assert.Zero(t, snap.Cycles)
	assert.Nil(t, snap.LapFrames)
	assert.Equal(t, "00:00:00", snap.Timecode)
}

func TestLap(t *testing.T) {
	e := New(DefaultConfig())
	running(t, e)
	assert.Nil(t, e.Snapshot().LapFrames)

	e.Tick(ts(0.2))
	started, _ := e.ToggleLap()
	assert.True(t, started)

	snap := e.Tick(ts(0.5))
	require.NotNil(t, snap.LapFrames)
	assert.Equal(t, 9, *snap.LapFrames)

	started, frames := e.ToggleLap()
	assert.False(t, started)
	assert.Equal(t, 9, frames)

	snap = e.Tick(ts(0.8))
	assert.Equal(t, 9, *snap.LapFrames)
}

func TestSnapshotSchema(t *testing.T) {
	e := New(DefaultConfig())
	data, err := json.Marshal(e.Snapshot())
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"isRunning", "currentFrame", "totalFramesInCycle", "totalElapsedFrames", "activeProfile"} {
		assert.Contains(t, fields, key)
	}
	assert.Nil(t, fields["currentFrame"])
	assert.Nil(t, fields["activeProfile"])
	assert.Equal(t, false, fields["isRunning"])
}

func TestTimecode(t *testing.T) {
	assert.Equal(t, "00:00:00", Timecode(0, 30))
	assert.Equal(t, "00:01:05", Timecode(35, 30))
	assert.Equal(t, "01:01:05", Timecode(61*30+5, 30))
	assert.Equal(t, "00:01:59", Timecode(119, 60))
	assert.Equal(t, "00:00:00", Timecode(-5, 30))
}
