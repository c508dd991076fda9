package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"jordanella.com/cost-ruler/internal/calibration"
	"jordanella.com/cost-ruler/internal/config"
	"jordanella.com/cost-ruler/internal/profile"
)

var (
	importActivate bool   // activate the imported profile
	importName     string // store the imported profile under another name
	runsLimit      int    // number of calibration runs to list
)

// profilesCmd manages stored profiles without starting capture
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage calibration profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Args:  cobra.NoArgs,
	RunE: withProfiles(func(ctx context.Context, p *profiles, args []string) error {
		active := p.store.Active()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACTIVE\tNAME\tRESOLUTION\tFRAMES\tCREATED")
		for _, pr := range p.store.List() {
			mark := ""
			if active != nil && active.Name == pr.Name {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", mark, pr.Name, pr.Resolution,
				pr.CycleLengthFrames, pr.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	}),
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a profile as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: withProfiles(func(ctx context.Context, p *profiles, args []string) error {
		pr, err := p.store.Get(args[0])
		if err != nil {
			return err
		}
		data, err := profile.Marshal(pr)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}),
}

var profilesActivateCmd = &cobra.Command{
	Use:   "activate <name>",
	Short: "Make a profile the active one",
	Args:  cobra.ExactArgs(1),
	RunE: withProfiles(func(ctx context.Context, p *profiles, args []string) error {
		_, err := p.store.Activate(args[0])
		return err
	}),
}

var profilesRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a profile",
	Args:  cobra.ExactArgs(2),
	RunE: withProfiles(func(ctx context.Context, p *profiles, args []string) error {
		_, err := p.store.Rename(ctx, args[0], args[1])
		return err
	}),
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: withProfiles(func(ctx context.Context, p *profiles, args []string) error {
		return p.store.Delete(ctx, args[0])
	}),
}

var profilesExportCmd = &cobra.Command{
	Use:   "export <name> <file>",
	Short: "Write a profile to a YAML file",
	Args:  cobra.ExactArgs(2),
	RunE: withProfiles(func(ctx context.Context, p *profiles, args []string) error {
		pr, err := p.store.Get(args[0])
		if err != nil {
			return err
		}
		return profile.WriteFile(args[1], pr)
	}),
}

var profilesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a profile read from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: withProfiles(func(ctx context.Context, p *profiles, args []string) error {
		pr, err := profile.ReadFile(args[0])
		if err != nil {
			return err
		}
		if importName != "" {
			pr = pr.WithName(importName)
		}
		if importActivate {
			err = p.store.CommitAndActivate(ctx, pr)
		} else {
			err = p.store.Commit(ctx, pr)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Imported %s\n", pr.Key())
		return nil
	}),
}

type runLister interface {
	RecentRuns(ctx context.Context, limit int) ([]calibration.RunRecord, error)
}

var profilesRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent calibration runs",
	Args:  cobra.NoArgs,
	RunE: withProfiles(func(ctx context.Context, p *profiles, args []string) error {
		lister, ok := p.recorder.(runLister)
		if !ok {
			return fmt.Errorf("calibration history needs the %s profile backend", config.BackendSQLite)
		}
		runs, err := lister.RecentRuns(ctx, runsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FINISHED\tPROFILE\tOUTCOME\tREASON\tFRAMES\tSAMPLES\tREJECTED")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
				run.FinishedAt.Local().Format(time.DateTime), run.ProfileName, run.Outcome,
				run.Reason, run.CycleLengthFrames, run.Samples, run.Rejected)
		}
		return w.Flush()
	}),
}

func init() {
	profilesImportCmd.Flags().BoolVar(&importActivate, "activate", false, "Activate the imported profile")
	profilesImportCmd.Flags().StringVar(&importName, "name", "", "Store under this name instead")
	profilesRunsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to list")

	profilesCmd.AddCommand(profilesListCmd, profilesShowCmd, profilesActivateCmd, profilesRenameCmd,
		profilesDeleteCmd, profilesExportCmd, profilesImportCmd, profilesRunsCmd)
}

// withProfiles opens the configured profile backend around fn. Changes to
// the active profile are written back to Settings.ini.
func withProfiles(fn func(ctx context.Context, p *profiles, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		closer, err := setupLogging(cfg, false)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		p, err := openProfiles(ctx, cfg)
		if err != nil {
			return err
		}
		defer p.close()

		p.store.OnActivate(func(pr *profile.Profile) {
			name := ""
			if pr != nil {
				name = pr.Name
			}
			if err := config.SaveActiveProfile(configPath, name); err != nil {
				fmt.Fprintf(os.Stderr, "failed to save active profile: %v\n", err)
			}
		})
		return fn(ctx, p, args)
	}
}
