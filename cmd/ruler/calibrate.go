package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jordanella.com/cost-ruler/internal/calibration"
	"jordanella.com/cost-ruler/internal/cv"
)

var (
	calibrationName string  // profile name to write
	slowMotion      float64 // wall-clock stretch of the recorded footage
)

// calibrateCmd records one regeneration cycle and stores it as a profile
var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate a profile from one full cost-bar cycle",
	Long: `Captures frames until the bar is seen empty, follows it through one full
cycle, fits the fill-to-frame mapping and activates the resulting profile.
Start from an empty bar, or let it drain first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logFile, err := setupLogging(cfg, true)
		if err != nil {
			return err
		}
		defer logFile.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		rt, err := newRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			rt.ruler.Run(ctx)
		}()
		defer func() {
			cancel()
			<-done
		}()

		res, err := waitForFrame(ctx, rt.ruler.Resolution, cfg.ArmTimeout)
		if err != nil {
			return err
		}
		fmt.Printf("Capturing at %s; waiting for an empty bar\n", res)

		id, err := rt.ruler.StartCalibration(calibration.Request{
			Name:             calibrationName,
			SlowMotionFactor: slowMotion,
			Resolution:       res,
		})
		if err != nil {
			return err
		}

		result, err := rt.ruler.WaitCalibration(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				rt.ruler.CancelCalibration()
			}
			return err
		}
		if result.State != calibration.StateReady {
			return result.Err()
		}

		p := result.Profile
		fmt.Printf("Saved %s: %d frames per cycle from %d samples (%d rejected)\n",
			p.Key(), p.CycleLengthFrames, result.Samples, result.Rejected)
		return nil
	},
}

func init() {
	calibrateCmd.Flags().StringVar(&calibrationName, "name", "default", "Profile name")
	calibrateCmd.Flags().Float64Var(&slowMotion, "slow-motion", 0, "Slow-motion factor of the footage (0 uses the config)")
}

// waitForFrame blocks until the capture loop has seen a frame
func waitForFrame(ctx context.Context, resolution func() cv.Resolution, timeout time.Duration) (cv.Resolution, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		if res := resolution(); res != (cv.Resolution{}) {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return cv.Resolution{}, ctx.Err()
		case <-deadline:
			return cv.Resolution{}, fmt.Errorf("no frame captured within %s", timeout)
		case <-ticker.C:
		}
	}
}
