package main

import (
	"context"
	"fmt"
	"time"

	"jordanella.com/cost-ruler/internal/adb"
	"jordanella.com/cost-ruler/internal/calibration"
	"jordanella.com/cost-ruler/internal/config"
	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/database"
	"jordanella.com/cost-ruler/internal/emulator"
	"jordanella.com/cost-ruler/internal/estimator"
	"jordanella.com/cost-ruler/internal/events"
	"jordanella.com/cost-ruler/internal/logging"
	"jordanella.com/cost-ruler/internal/metrics"
	"jordanella.com/cost-ruler/internal/monitor"
	"jordanella.com/cost-ruler/internal/profile"
	"jordanella.com/cost-ruler/internal/publish"
	"jordanella.com/cost-ruler/internal/ruler"
)

const eventBufferSize = 256

// profiles is the configured profile backend
type profiles struct {
	store    *profile.Store
	recorder calibration.RunRecorder // nil for the yaml backend
	dir      string                  // watched directory, yaml backend only
	close    func() error
}

func openProfiles(ctx context.Context, cfg *config.Config) (*profiles, error) {
	var p *profiles
	switch cfg.ProfileBackend {
	case config.BackendYAML:
		repo, err := profile.NewFileRepository(cfg.ProfileDir)
		if err != nil {
			return nil, err
		}
		p = &profiles{
			store: profile.NewStore(repo),
			dir:   repo.Dir(),
			close: func() error { return nil },
		}
	default:
		db, err := database.OpenAndMigrate(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		logDatabase(db)
		p = &profiles{
			store:    profile.NewStore(database.NewProfileRepository(db)),
			recorder: database.NewRunRepository(db),
			close:    db.Close,
		}
	}

	if err := p.store.Load(ctx); err != nil {
		p.close()
		return nil, err
	}
	if cfg.ActiveProfile != "" {
		if _, err := p.store.Activate(cfg.ActiveProfile); err != nil {
			logging.NewLogger("profiles").Warn(fmt.Sprintf("Configured profile %q is not available", cfg.ActiveProfile))
		}
	}
	return p, nil
}

func logDatabase(db *database.DB) {
	fields := map[string]interface{}{"path": db.Path()}
	if version, err := db.GetVersion(); err == nil {
		fields["schema"] = version
	}
	if stats, err := db.GetStats(); err == nil {
		for table, n := range stats {
			fields[table] = n
		}
	}
	logging.NewLogger("Database").DebugWithContext("Profile database ready", fields)
}

// source is an opened capture backend
type source struct {
	capturer  cv.Capturer
	device    monitor.DeviceInterface // nil without a device behind the capturer
	reconnect func() error
	close     func()
}

func openSource(cfg *config.Config) (*source, error) {
	switch cfg.CaptureMethod {
	case cv.CaptureMethodADB:
		ctrl, err := adb.ConnectADB(cfg.ADBPath, cfg.ADBSerial)
		if err != nil {
			return nil, err
		}
		return &source{
			capturer:  ctrl,
			device:    ctrl,
			reconnect: ctrl.Connect,
			close:     func() { ctrl.Disconnect() },
		}, nil

	case cv.CaptureMethodMuMu:
		mgr := emulator.NewManager(cfg.MuMuFolder, cfg.ADBPath)
		inst, err := mgr.Connect(cfg.MuMuInstance)
		if err != nil {
			return nil, err
		}
		return &source{
			capturer:  inst.ADB,
			device:    inst.ADB,
			reconnect: inst.ADB.Connect,
			close:     mgr.DisconnectAll,
		}, nil

	case cv.CaptureMethodWindow:
		wc, err := cv.NewWindowCaptureByTitle(cfg.WindowTitle)
		if err != nil {
			return nil, err
		}
		return &source{capturer: wc, close: func() {}}, nil

	case cv.CaptureMethodReplay:
		rc, err := cv.NewReplayCapturer(cfg.ReplayDir, cfg.ReplayInterval, true)
		if err != nil {
			return nil, err
		}
		return &source{capturer: rc, close: func() {}}, nil
	}
	return nil, fmt.Errorf("unsupported capture method %s", cfg.CaptureMethod)
}

// runtime is the fully wired ruler with everything it owns
type runtime struct {
	cfg      *config.Config
	bus      *events.DefaultEventBus
	eventLog *logging.EventLogger
	metrics  *metrics.Metrics
	hub      *publish.Hub
	profiles *profiles
	source   *source
	ruler    *ruler.Ruler
	logger   *logging.Logger
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{
		cfg:     cfg,
		bus:     events.NewEventBus(eventBufferSize),
		metrics: metrics.New(),
		hub:     publish.NewHub(),
		logger:  logging.NewLogger("ruler"),
	}
	rt.eventLog = logging.NewEventLogger(rt.bus)

	var err error
	if rt.profiles, err = openProfiles(ctx, cfg); err != nil {
		rt.Close()
		return nil, err
	}
	if rt.source, err = openSource(cfg); err != nil {
		rt.Close()
		return nil, err
	}

	var dumper *cv.Dumper
	if cfg.DebugImages {
		if dumper, err = cv.NewDumper(cfg.DumpDir()); err != nil {
			rt.Close()
			return nil, err
		}
		rt.logger.Info("Saving debug images to " + dumper.Dir())
	}

	health := monitor.NewHealthChecker(rt.source.device).
		WithUnhealthyCallback(rt.onUnhealthy)

	engine := calibration.NewEngine(cfg.CalibrationConfig(), rt.profiles.store).
		WithEventBus(rt.bus)
	if rt.profiles.recorder != nil {
		engine.WithRecorder(rt.profiles.recorder)
	}

	rt.hub.OnClientsChanged(rt.metrics.SetWSClients)
	rt.hub.OnDrop(rt.metrics.IncPublishDropped)
	busPub := publish.NewBusPublisher(rt.bus)
	busPub.OnDrop(rt.metrics.IncPublishDropped)

	rt.ruler, err = ruler.New(ruler.Options{
		Source:          cv.NewService(rt.source.capturer).WithLatencyCompensation(cfg.LatencyCompensation),
		Store:           rt.profiles.store,
		Estimator:       estimator.New(cfg.EstimatorConfig()),
		Engine:          engine,
		Publisher:       publish.NewFanout(rt.hub, busPub),
		Bus:             rt.bus,
		Metrics:         rt.metrics,
		Health:          health,
		Dumper:          dumper,
		PublishInterval: cfg.PublishInterval,
		PersistActive: func(name string) error {
			return config.SaveActiveProfile(configPath, name)
		},
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) onUnhealthy(reason string, err error) {
	rt.logger.ErrorWithContext("Capture source unhealthy", err, map[string]interface{}{
		"reason": reason,
	})
	if rt.source == nil || rt.source.reconnect == nil {
		return
	}
	if err := rt.source.reconnect(); err != nil {
		rt.logger.Error("Reconnect failed", err)
		return
	}
	rt.logger.Info("Reconnected to the capture device")
}

// watchProfiles reloads the yaml profile directory when it changes
func (rt *runtime) watchProfiles(ctx context.Context) error {
	if rt.profiles.dir == "" {
		return nil
	}
	store := rt.profiles.store
	return profile.Watch(ctx, rt.profiles.dir, 500*time.Millisecond, func() {
		if err := store.Load(ctx); err != nil {
			rt.logger.Error("Failed to reload profiles", err)
			return
		}
		rt.bus.TryPublish(events.NewProfileEvent(events.EventTypeProfilesReloaded, "", map[string]interface{}{
			"count": len(store.List()),
		}))
	})
}

// Close releases everything newRuntime opened
func (rt *runtime) Close() {
	if rt.hub != nil {
		rt.hub.Close()
	}
	if rt.source != nil {
		rt.source.close()
	}
	if rt.profiles != nil {
		if err := rt.profiles.close(); err != nil {
			rt.logger.Error("Failed to close profile store", err)
		}
	}
	if rt.eventLog != nil {
		rt.eventLog.Close()
	}
	rt.bus.Stop()
}
