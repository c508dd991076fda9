package adb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// FindADB attempts to locate the ADB executable
func FindADB(preferredPath string) (string, error) {
	// Try preferred path first: either the binary or an emulator folder
	if preferredPath != "" {
		candidates := []string{preferredPath}
		name := "adb"
		if runtime.GOOS == "windows" {
			name = "adb.exe"
		}
		candidates = append(candidates,
			filepath.Join(preferredPath, name),
			filepath.Join(preferredPath, "adb", name),
			filepath.Join(preferredPath, "shell", name),
		)
		for _, p := range candidates {
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
	}

	// Try common paths
	commonPaths := []string{
		// MuMu Player
		`C:\Program Files\Netease\MuMuPlayer-12.0\shell\adb.exe`,
		`C:\Program Files (x86)\Netease\MuMuPlayer-12.0\shell\adb.exe`,
		`C:\Program Files\Netease\MuMuPlayerGlobal-12.0\shell\adb.exe`,

		// Android SDK
		`C:\Android\sdk\platform-tools\adb.exe`,
		`${LOCALAPPDATA}\Android\Sdk\platform-tools\adb.exe`,

		// PATH
		"adb.exe",
	}

	if runtime.GOOS != "windows" {
		commonPaths = []string{
			"/usr/bin/adb",
			"/usr/local/bin/adb",
			"${HOME}/Android/Sdk/platform-tools/adb",
			"adb",
		}
	}

	for _, path := range commonPaths {
		expandedPath := os.ExpandEnv(path)

		if _, err := os.Stat(expandedPath); err == nil {
			return expandedPath, nil
		}

		// Try exec.LookPath for PATH entries
		if !strings.ContainsAny(path, `/\`) {
			if adbPath, err := exec.LookPath(path); err == nil {
				return adbPath, nil
			}
		}
	}

	return "", fmt.Errorf("adb not found, please specify adbPath in Settings.ini")
}

// Common MuMu ports, then the generic emulator port
var commonPorts = []string{
	"16384", // MuMu instance 0
	"16416", // MuMu instance 1
	"16448", // MuMu instance 2
	"5555",
}

// DetectPort returns the port of the first local TCP device adb knows
// about, trying the common emulator ports when none is attached
func DetectPort(adbPath string) (string, error) {
	return detectPort(context.Background(), adbPath, execRun)
}

func detectPort(ctx context.Context, adbPath string, run runFunc) (string, error) {
	output, err := run(ctx, adbPath, "devices")
	if err != nil {
		return "", err
	}
	if port, ok := parseDevices(string(output)); ok {
		return port, nil
	}

	for _, port := range commonPorts {
		out, err := run(ctx, adbPath, "connect", "127.0.0.1:"+port)
		if err == nil && strings.Contains(string(out), "connected to") {
			return port, nil
		}
	}

	return "", fmt.Errorf("could not detect emulator port")
}

// parseDevices picks the first online 127.0.0.1 device from `adb devices`
func parseDevices(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 2 || parts[1] != "device" {
			continue
		}
		if port, ok := strings.CutPrefix(parts[0], "127.0.0.1:"); ok {
			return port, true
		}
	}
	return "", false
}

// ConnectADB finds adb and connects to serial, or to the detected
// emulator port when serial is empty
func ConnectADB(adbPath, serial string) (*Controller, error) {
	path, err := FindADB(adbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find ADB: %w", err)
	}

	var ctrl *Controller
	if serial != "" {
		ctrl = NewSerialController(path, serial)
	} else {
		port, err := DetectPort(path)
		if err != nil {
			// Default to MuMu instance 0
			port = commonPorts[0]
		}
		ctrl = NewController(path, port)
	}

	if err := ctrl.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to device: %w", err)
	}

	return ctrl, nil
}
