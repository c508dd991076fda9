package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jordanella.com/cost-ruler/internal/config"
	"jordanella.com/cost-ruler/internal/cv"
)

// locateCmd prints the bar region for a screen size
var locateCmd = &cobra.Command{
	Use:   "locate <WxH>",
	Short: "Print the cost bar region for a resolution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := cv.ParseResolution(args[0])
		if err != nil {
			return err
		}
		region, err := cv.Locate(res.Width, res.Height)
		if err != nil {
			return err
		}
		fmt.Printf("%s: x %d-%d, y %d-%d (%d px)\n", res, region.X1, region.X2, region.Y1, region.Y2, region.Width())
		return nil
	},
}

var readOut string // annotated copy of the screenshot

// readCmd reads the bar from a saved screenshot
var readCmd = &cobra.Command{
	Use:   "read <png>",
	Short: "Read the cost bar fill from a screenshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := cv.LoadPNG(args[0])
		if err != nil {
			return err
		}
		frame := cv.Frame{Image: img}
		res := frame.Resolution()
		region, err := cv.Locate(res.Width, res.Height)
		if err != nil {
			return err
		}

		sample := cv.NewReader().Read(frame, region)
		if sample.Valid {
			fmt.Printf("%s: fill %.4f\n", res, sample.FillRatio)
		} else {
			fmt.Printf("%s: not readable (%s)\n", res, sample.Reason)
		}

		if readOut != "" {
			dumper, err := cv.NewDumper(readOut)
			if err != nil {
				return err
			}
			path, err := dumper.Dump(frame, region, sample)
			if err != nil {
				return err
			}
			fmt.Printf("Annotated copy: %s\n", path)
		}
		return nil
	},
}

// configCmd groups config helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Settings.ini helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default [Ruler] section to Settings.ini",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// An existing file keeps its values and gains the missing keys
		cfg := config.NewDefaultConfig()
		if _, err := os.Stat(configPath); err == nil {
			if cfg, err = config.LoadFromINI(configPath); err != nil {
				return err
			}
		}
		if err := config.SaveToINI(cfg, configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}

func init() {
	readCmd.Flags().StringVar(&readOut, "out", "", "Directory for an annotated copy")
	configCmd.AddCommand(configInitCmd)
}
