package ruler

import (
	"context"
	"fmt"

	"jordanella.com/cost-ruler/internal/calibration"
	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/estimator"
	"jordanella.com/cost-ruler/internal/events"
	"jordanella.com/cost-ruler/internal/monitor"
	"jordanella.com/cost-ruler/internal/profile"
)

// Status is the combined view served by the API
type Status struct {
	Estimator   estimator.Snapshot `json:"estimator"`
	Calibration calibration.Status `json:"calibration"`
	Resolution  cv.Resolution      `json:"resolution"`
	Unsupported bool               `json:"unsupported"`
	Frames      uint64             `json:"frames"`
	Health      monitor.Health     `json:"health"`
}

// State returns the latest estimator snapshot
func (r *Ruler) State() estimator.Snapshot {
	return r.est.Snapshot()
}

// Status returns the estimator, calibration and capture state together
func (r *Ruler) Status() Status {
	r.mu.Lock()
	res := r.resolution
	unsupported := r.unsupported[res]
	frames := r.frames
	r.mu.Unlock()

	return Status{
		Estimator:   r.est.Snapshot(),
		Calibration: r.engine.Status(),
		Resolution:  res,
		Unsupported: unsupported,
		Frames:      frames,
		Health:      r.Health(),
	}
}

// Resolution returns the size of the last captured frame
func (r *Ruler) Resolution() cv.Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolution
}

// Health reports capture health. Without a checker the source is assumed
// healthy.
func (r *Ruler) Health() monitor.Health {
	if r.health == nil {
		return monitor.Health{Healthy: true}
	}
	return r.health.Status()
}

// Profiles lists stored profiles by name
func (r *Ruler) Profiles() []*profile.Profile {
	return r.store.List()
}

// Profile returns one stored profile
func (r *Ruler) Profile(name string) (*profile.Profile, error) {
	return r.store.Get(name)
}

// ActiveProfile returns the active profile or nil
func (r *Ruler) ActiveProfile() *profile.Profile {
	return r.store.Active()
}

// ActivateProfile makes the named profile drive the estimator
func (r *Ruler) ActivateProfile(name string) (*profile.Profile, error) {
	return r.store.Activate(name)
}

// ImportProfile stores p, replacing any profile with the same name
func (r *Ruler) ImportProfile(ctx context.Context, p *profile.Profile, activate bool) error {
	var err error
	if activate {
		err = r.store.CommitAndActivate(ctx, p)
	} else {
		err = r.store.Commit(ctx, p)
	}
	if err != nil {
		return err
	}

	r.logger.InfoWithContext("Profile saved", map[string]interface{}{"profile": p.Key()})
	r.publish(events.NewProfileEvent(events.EventTypeProfileSaved, p.Name, nil))
	return nil
}

// RenameProfile renames a stored profile
func (r *Ruler) RenameProfile(ctx context.Context, oldName, newName string) (*profile.Profile, error) {
	p, err := r.store.Rename(ctx, oldName, newName)
	if err != nil {
		return nil, err
	}

	r.logger.InfoWithContext("Profile renamed", map[string]interface{}{
		"from": oldName,
		"to":   newName,
	})
	r.publish(events.NewProfileEvent(events.EventTypeProfileRenamed, newName, map[string]interface{}{
		"from": oldName,
	}))
	return p, nil
}

// DeleteProfile removes a stored profile
func (r *Ruler) DeleteProfile(ctx context.Context, name string) error {
	if err := r.store.Delete(ctx, name); err != nil {
		return err
	}

	r.logger.InfoWithContext("Profile deleted", map[string]interface{}{"profile": name})
	r.publish(events.NewProfileEvent(events.EventTypeProfileDeleted, name, nil))
	return nil
}

// StartCalibration arms a calibration session. A request without a
// resolution calibrates at the size of the frames being captured.
func (r *Ruler) StartCalibration(req calibration.Request) (string, error) {
	if req.Resolution == (cv.Resolution{}) {
		req.Resolution = r.Resolution()
	}
	if req.Resolution == (cv.Resolution{}) {
		return "", fmt.Errorf("no frame captured yet: %w", cv.ErrUnsupportedResolution)
	}
	if _, err := cv.Locate(req.Resolution.Width, req.Resolution.Height); err != nil {
		return "", err
	}
	return r.engine.Start(req)
}

// CancelCalibration aborts the running session
func (r *Ruler) CancelCalibration() error {
	return r.engine.Cancel()
}

// CalibrationStatus reports the running or last finished session
func (r *Ruler) CalibrationStatus() calibration.Status {
	return r.engine.Status()
}

// WaitCalibration blocks until session id finishes
func (r *Ruler) WaitCalibration(ctx context.Context, id string) (calibration.Result, error) {
	return r.engine.Wait(ctx, id)
}

// ResetEstimator zeroes the frame clock, its totals and the lap timer
func (r *Ruler) ResetEstimator() estimator.Snapshot {
	r.est.Reset()
	r.logger.Info("Estimator reset")
	r.publish(events.NewEstimatorResetEvent())
	return r.est.Snapshot()
}

// ToggleLap starts or stops the lap timer
func (r *Ruler) ToggleLap() (running bool, frames int) {
	running, frames = r.est.ToggleLap()
	r.logger.InfoWithContext("Lap toggled", map[string]interface{}{
		"running": running,
		"frames":  frames,
	})
	r.publish(events.NewLapToggledEvent(running, frames))
	return running, frames
}

func (r *Ruler) publish(ev events.Event) {
	if r.bus != nil {
		r.bus.TryPublish(ev)
	}
}
