package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jordanella.com/cost-ruler/internal/api"
	"jordanella.com/cost-ruler/internal/logging"
)

// runCmd captures, estimates and serves the frame clock until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ruler and serve its state on the local API",
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

		log := logging.NewLogger("main")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		router := api.NewRouter(api.NewHandler(rt.ruler), rt.hub, rt.metrics)
		srv := api.NewServer(cfg.APIAddr(), router)

		log.InfoWithContext("Ruler starting", map[string]interface{}{
			"capture":  cfg.CaptureMethod.String(),
			"api":      cfg.APIAddr(),
			"profiles": cfg.ProfileBackend,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := rt.ruler.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			return srv.Serve(gctx)
		})
		g.Go(func() error {
			return rt.watchProfiles(gctx)
		})

		err = g.Wait()
		log.Info("Ruler stopped")
		return err
	},
}
