package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/cost-ruler/internal/cv"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "Settings.ini"))
	require.NoError(t, err)
	assert.Equal(t, NewDefaultConfig(), cfg)
	assert.Equal(t, "localhost:2606", cfg.APIAddr())
}

func TestLoadFromINI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Settings.ini")
	writeFile(t, path, `
[UserSettings]
Columns = 5

[Ruler]
captureMethod = replay
replayDir = frames
replayIntervalMs = 50
logicalFrameRate = 60
slowMotionFactor = 4
staleAfterMs = 1500
apiPort = 9000
profileBackend = YAML
activeProfile = reduced
debugImages = true
armTimeoutSec = 10
`)

	cfg, err := LoadFromINI(path)
	require.NoError(t, err)
	assert.Equal(t, cv.CaptureMethodReplay, cfg.CaptureMethod)
	assert.Equal(t, "frames", cfg.ReplayDir)
	assert.Equal(t, 50*time.Millisecond, cfg.ReplayInterval)
	assert.Equal(t, 60.0, cfg.LogicalFrameRate)
	assert.Equal(t, 4.0, cfg.SlowMotionFactor)
	assert.Equal(t, 1500*time.Millisecond, cfg.StaleAfter)
	assert.Equal(t, 9000, cfg.APIPort)
	assert.Equal(t, BackendYAML, cfg.ProfileBackend)
	assert.Equal(t, "reduced", cfg.ActiveProfile)
	assert.True(t, cfg.DebugImages)
	assert.Equal(t, 10*time.Second, cfg.ArmTimeout)

	// Untouched keys keep their defaults
	assert.Equal(t, 16*time.Millisecond, cfg.PublishInterval)
	assert.Equal(t, 3, cfg.InvalidStreak)

	ec := cfg.EstimatorConfig()
	assert.Equal(t, 60.0, ec.DefaultFrameRate)
	assert.Equal(t, 1500*time.Millisecond, ec.StaleAfter)
	cc := cfg.CalibrationConfig()
	assert.Equal(t, 4.0, cc.SlowMotionFactor)
	assert.Equal(t, 10*time.Second, cc.ArmTimeout)
}

func TestLoadFromINIMissing(t *testing.T) {
	_, err := LoadFromINI(filepath.Join(t.TempDir(), "nope.ini"))
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"capture method": "captureMethod = carrier-pigeon",
		"frame rate":     "logicalFrameRate = 0",
		"backend":        "profileBackend = csv",
		"replay dir":     "captureMethod = replay",
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "Settings.ini")
			writeFile(t, path, "[Ruler]\n"+line+"\n")
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Settings.ini")
	writeFile(t, path, "[Ruler]\napiPort = 9000\nlogLevel = INFO\n")

	envFile := filepath.Join(dir, ".env")
	writeFile(t, envFile, "RULER_LOG_LEVEL=DEBUG\n")
	t.Setenv("RULER_API_PORT", "7000")
	t.Setenv("RULER_LOG_LEVEL", "")
	os.Unsetenv("RULER_LOG_LEVEL")

	require.NoError(t, LoadEnv(envFile, filepath.Join(dir, "missing.env")))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.APIPort)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "RULER_API_PORT", EnvName("apiPort"))
	assert.Equal(t, "RULER_ADB_PATH", EnvName("adbPath"))
	assert.Equal(t, "RULER_REPLAY_INTERVAL_MS", EnvName("replayIntervalMs"))
	assert.Equal(t, "RULER_DEBUG_IMAGES", EnvName("debugImages"))
}

func TestSaveToINIRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Settings.ini")
	writeFile(t, path, "[UserSettings]\nColumns = 5\n")

	cfg := NewDefaultConfig()
	cfg.CaptureMethod = cv.CaptureMethodMuMu
	cfg.MuMuInstance = "2"
	cfg.SlowMotionFactor = 2.5
	cfg.ActiveProfile = "reduced"
	require.NoError(t, SaveToINI(cfg, path))

	loaded, err := LoadFromINI(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Columns")
}

func TestSaveActiveProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Settings.ini")
	writeFile(t, path, "[Ruler]\napiPort = 9000\n")

	require.NoError(t, SaveActiveProfile(path, "fast"))

	cfg, err := LoadFromINI(path)
	require.NoError(t, err)
	assert.Equal(t, "fast", cfg.ActiveProfile)
	assert.Equal(t, 9000, cfg.APIPort)
}
