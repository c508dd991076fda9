package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"jordanella.com/cost-ruler/internal/config"
	"jordanella.com/cost-ruler/internal/logging"
)

var (
	configPath string // Settings.ini location
	logLevel   string // overrides logLevel from the config
	debugImg   bool   // dump every read frame to <logDir>/img_dumps
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:           "ruler",
	Short:         "Frame-accurate ruler for the cost bar",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "Settings.ini", "Path to Settings.ini")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debugImg, "debug-img", false, "Save every read frame with the bar outlined")

	rootCmd.AddCommand(runCmd, calibrateCmd, profilesCmd, locateCmd, readCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// loadConfig reads .env and Settings.ini, then applies the global flags
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if debugImg {
		cfg.DebugImages = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging configures logrus. Long-running commands also log to a file.
func setupLogging(cfg *config.Config, toFile bool) (io.Closer, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	dir := ""
	if toFile {
		dir = cfg.LogDir
	}
	return logging.Setup(level, dir)
}
