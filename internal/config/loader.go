package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"jordanella.com/cost-ruler/internal/cv"
)

// Section holds every ruler key in Settings.ini
const Section = "Ruler"

// Load reads path and applies environment overrides. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	file, err := ini.LooseLoad(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	applyEnv(file.Section(Section))
	return parse(file.Section(Section))
}

// LoadFromINI loads configuration from an existing Settings.ini file
func LoadFromINI(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return parse(file.Section(Section))
}

func parse(section *ini.Section) (*Config, error) {
	d := NewDefaultConfig()
	config := &Config{}

	method, err := cv.ParseCaptureMethod(section.Key("captureMethod").MustString(d.CaptureMethod.String()))
	if err != nil {
		return nil, err
	}
	config.CaptureMethod = method

	// Capture
	config.ADBPath = section.Key("adbPath").MustString(d.ADBPath)
	config.ADBSerial = section.Key("adbSerial").MustString(d.ADBSerial)
	config.MuMuFolder = section.Key("mumuFolder").MustString(d.MuMuFolder)
	config.MuMuInstance = section.Key("mumuInstance").MustString(d.MuMuInstance)
	config.WindowTitle = section.Key("windowTitle").MustString(d.WindowTitle)
	config.ReplayDir = section.Key("replayDir").MustString(d.ReplayDir)
	config.ReplayInterval = millis(section, "replayIntervalMs", d.ReplayInterval)
	config.LatencyCompensation = millis(section, "latencyCompensationMs", d.LatencyCompensation)

	// Clock
	config.LogicalFrameRate = section.Key("logicalFrameRate").MustFloat64(d.LogicalFrameRate)
	config.SlowMotionFactor = section.Key("slowMotionFactor").MustFloat64(d.SlowMotionFactor)
	config.StaleAfter = millis(section, "staleAfterMs", d.StaleAfter)
	config.InvalidStreak = section.Key("invalidStreak").MustInt(d.InvalidStreak)
	config.MisreadToleranceFrames = section.Key("misreadToleranceFrames").MustFloat64(d.MisreadToleranceFrames)
	config.PublishInterval = millis(section, "publishIntervalMs", d.PublishInterval)

	// Calibration
	config.ArmTimeout = time.Duration(section.Key("armTimeoutSec").MustInt(int(d.ArmTimeout/time.Second))) * time.Second
	config.MaxCalibration = time.Duration(section.Key("maxCalibrationSec").MustInt(int(d.MaxCalibration/time.Second))) * time.Second

	// API
	config.APIHost = section.Key("apiHost").MustString(d.APIHost)
	config.APIPort = section.Key("apiPort").MustInt(d.APIPort)

	// Profiles
	config.ProfileBackend = strings.ToLower(section.Key("profileBackend").MustString(d.ProfileBackend))
	config.ProfileDir = section.Key("profileDir").MustString(d.ProfileDir)
	config.DatabasePath = section.Key("databasePath").MustString(d.DatabasePath)
	config.ActiveProfile = section.Key("activeProfile").MustString(d.ActiveProfile)

	// Logging
	config.LogLevel = section.Key("logLevel").MustString(d.LogLevel)
	config.LogDir = section.Key("logDir").MustString(d.LogDir)
	config.DebugImages = section.Key("debugImages").MustBool(d.DebugImages)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func millis(section *ini.Section, key string, def time.Duration) time.Duration {
	return time.Duration(section.Key(key).MustInt64(def.Milliseconds())) * time.Millisecond
}

// SaveToINI writes config into the [Ruler] section of path, keeping any
// other sections already in the file
func SaveToINI(config *Config, path string) error {
	cfg, err := loadOrEmpty(path)
	if err != nil {
		return err
	}
	section := cfg.Section(Section)

	// Capture
	section.Key("captureMethod").SetValue(config.CaptureMethod.String())
	section.Key("adbPath").SetValue(config.ADBPath)
	section.Key("adbSerial").SetValue(config.ADBSerial)
	section.Key("mumuFolder").SetValue(config.MuMuFolder)
	section.Key("mumuInstance").SetValue(config.MuMuInstance)
	section.Key("windowTitle").SetValue(config.WindowTitle)
	section.Key("replayDir").SetValue(config.ReplayDir)
	section.Key("replayIntervalMs").SetValue(fmt.Sprintf("%d", config.ReplayInterval.Milliseconds()))
	section.Key("latencyCompensationMs").SetValue(fmt.Sprintf("%d", config.LatencyCompensation.Milliseconds()))

	// Clock
	section.Key("logicalFrameRate").SetValue(fmt.Sprintf("%g", config.LogicalFrameRate))
	section.Key("slowMotionFactor").SetValue(fmt.Sprintf("%g", config.SlowMotionFactor))
	section.Key("staleAfterMs").SetValue(fmt.Sprintf("%d", config.StaleAfter.Milliseconds()))
	section.Key("invalidStreak").SetValue(fmt.Sprintf("%d", config.InvalidStreak))
	section.Key("misreadToleranceFrames").SetValue(fmt.Sprintf("%g", config.MisreadToleranceFrames))
	section.Key("publishIntervalMs").SetValue(fmt.Sprintf("%d", config.PublishInterval.Milliseconds()))

	// Calibration
	section.Key("armTimeoutSec").SetValue(fmt.Sprintf("%d", int(config.ArmTimeout/time.Second)))
	section.Key("maxCalibrationSec").SetValue(fmt.Sprintf("%d", int(config.MaxCalibration/time.Second)))

	// API
	section.Key("apiHost").SetValue(config.APIHost)
	section.Key("apiPort").SetValue(fmt.Sprintf("%d", config.APIPort))

	// Profiles
	section.Key("profileBackend").SetValue(config.ProfileBackend)
	section.Key("profileDir").SetValue(config.ProfileDir)
	section.Key("databasePath").SetValue(config.DatabasePath)
	section.Key("activeProfile").SetValue(config.ActiveProfile)

	// Logging
	section.Key("logLevel").SetValue(config.LogLevel)
	section.Key("logDir").SetValue(config.LogDir)
	section.Key("debugImages").SetValue(fmt.Sprintf("%t", config.DebugImages))

	return cfg.SaveTo(path)
}

// SaveActiveProfile records the active profile name, leaving every other
// key untouched
func SaveActiveProfile(path, name string) error {
	cfg, err := loadOrEmpty(path)
	if err != nil {
		return err
	}
	cfg.Section(Section).Key("activeProfile").SetValue(name)
	return cfg.SaveTo(path)
}

func loadOrEmpty(path string) (*ini.File, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ini.Empty(), nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return cfg, nil
}
