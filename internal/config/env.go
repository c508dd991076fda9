package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"unicode"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// EnvPrefix starts every environment override, e.g. RULER_API_PORT
const EnvPrefix = "RULER_"

// keys lists every [Ruler] key an environment variable may override
var keys = []string{
	"captureMethod", "adbPath", "adbSerial", "mumuFolder", "mumuInstance",
	"windowTitle", "replayDir", "replayIntervalMs", "latencyCompensationMs",
	"logicalFrameRate", "slowMotionFactor", "staleAfterMs", "invalidStreak",
	"misreadToleranceFrames", "publishIntervalMs", "armTimeoutSec",
	"maxCalibrationSec", "apiHost", "apiPort", "profileBackend", "profileDir",
	"databasePath", "activeProfile", "logLevel", "logDir", "debugImages",
}

// LoadEnv reads .env style files into the environment. Missing files are
// skipped; variables already set win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// EnvName maps an ini key to its override variable: apiPort -> RULER_API_PORT
func EnvName(key string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 && !unicode.IsUpper(rune(key[i-1])) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func applyEnv(section *ini.Section) {
	for _, key := range keys {
		if v, ok := os.LookupEnv(EnvName(key)); ok && v != "" {
			section.Key(key).SetValue(v)
		}
	}
}
