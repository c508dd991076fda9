package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"jordanella.com/cost-ruler/internal/calibration"
	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/estimator"
)

// Profile storage backends
const (
	BackendSQLite = "sqlite"
	BackendYAML   = "yaml"
)

// Config is the [Ruler] section of Settings.ini
type Config struct {
	// Capture
	CaptureMethod       cv.CaptureMethod
	ADBPath             string
	ADBSerial           string // host:port or device serial; empty auto-detects
	MuMuFolder          string
	MuMuInstance        string // index or player name
	WindowTitle         string
	ReplayDir           string
	ReplayInterval      time.Duration
	LatencyCompensation time.Duration

	// Clock
	LogicalFrameRate       float64
	SlowMotionFactor       float64
	StaleAfter             time.Duration
	InvalidStreak          int
	MisreadToleranceFrames float64
	PublishInterval        time.Duration

	// Calibration
	ArmTimeout     time.Duration
	MaxCalibration time.Duration

	// API
	APIHost string
	APIPort int

	// Profiles
	ProfileBackend string
	ProfileDir     string
	DatabasePath   string
	ActiveProfile  string

	// Logging
	LogLevel    string
	LogDir      string
	DebugImages bool
}

// NewDefaultConfig creates a config with default values
func NewDefaultConfig() *Config {
	return &Config{
		CaptureMethod:          cv.CaptureMethodADB,
		MuMuFolder:             `C:\Program Files\Netease\MuMuPlayerGlobal-12.0`,
		MuMuInstance:           "0",
		ReplayInterval:         33 * time.Millisecond,
		LogicalFrameRate:       30,
		SlowMotionFactor:       1,
		StaleAfter:             time.Second,
		InvalidStreak:          3,
		MisreadToleranceFrames: 2,
		PublishInterval:        16 * time.Millisecond,
		ArmTimeout:             30 * time.Second,
		MaxCalibration:         5 * time.Minute,
		APIHost:                "localhost",
		APIPort:                2606,
		ProfileBackend:         BackendSQLite,
		ProfileDir:             "calibration",
		DatabasePath:           filepath.Join("data", "ruler.db"),
		LogLevel:               "INFO",
		LogDir:                 "logs",
	}
}

// Validate checks values that would make the ruler misbehave
func (c *Config) Validate() error {
	if c.LogicalFrameRate <= 0 {
		return fmt.Errorf("logicalFrameRate must be positive, got %v", c.LogicalFrameRate)
	}
	if c.SlowMotionFactor <= 0 {
		return fmt.Errorf("slowMotionFactor must be positive, got %v", c.SlowMotionFactor)
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("publishIntervalMs must be positive")
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("apiPort %d out of range", c.APIPort)
	}
	switch c.ProfileBackend {
	case BackendSQLite, BackendYAML:
	default:
		return fmt.Errorf("unknown profileBackend %q", c.ProfileBackend)
	}
	if c.CaptureMethod == cv.CaptureMethodReplay && c.ReplayDir == "" {
		return fmt.Errorf("captureMethod replay needs replayDir")
	}
	return nil
}

// APIAddr is the listen address of the HTTP API
func (c *Config) APIAddr() string {
	return net.JoinHostPort(c.APIHost, strconv.Itoa(c.APIPort))
}

// DumpDir is where debug images are written
func (c *Config) DumpDir() string {
	return filepath.Join(c.LogDir, "img_dumps")
}

// EstimatorConfig derives the runtime estimator settings
func (c *Config) EstimatorConfig() estimator.Config {
	ec := estimator.DefaultConfig()
	ec.DefaultFrameRate = c.LogicalFrameRate
	ec.StaleAfter = c.StaleAfter
	ec.InvalidStreak = c.InvalidStreak
	ec.MisreadTolerance = c.MisreadToleranceFrames
	return ec
}

// CalibrationConfig derives the calibration engine settings
func (c *Config) CalibrationConfig() calibration.Config {
	cc := calibration.DefaultConfig()
	cc.LogicalFrameRate = c.LogicalFrameRate
	cc.SlowMotionFactor = c.SlowMotionFactor
	cc.ArmTimeout = c.ArmTimeout
	cc.MaxDuration = c.MaxCalibration
	return cc
}
