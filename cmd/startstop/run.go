package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"autostartstop/internal/app"
	"autostartstop/internal/schedule"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		trigger string
		now     bool
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Perform one reconciliation pass and print the report",
		Example: `  startstop run --trigger-time 2024-01-01T12:00:00Z
  startstop run --now --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if now == (trigger != "") {
				return errors.New("exactly one of --trigger-time or --now is required")
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logs, log := logger(cfg, true)
			defer logs.Close()

			if now {
				v, err := app.Validator(cfg)
				if err != nil {
					return err
				}
				trigger, err = cadenceBoundary(cfg.Daemon.Cadence, time.Now().In(v.Location()))
				if err != nil {
					return err
				}
			}

			var opts []app.Option
			if dryRun {
				opts = append(opts, app.WithDryRun())
			}
			rep, err := app.RunOnce(cmd.Context(), cfg, trigger, log, opts...)
			if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger-time", "", "scheduled event time, e.g. 2024-01-01T12:00:00Z")
	cmd.Flags().BoolVar(&now, "now", false, "use the most recent daemon cadence tick as trigger time")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "decide but do not request any state change")
	return cmd
}

// cadenceBoundary is the latest cadence tick at or before now, formatted as
// an event time.
func cadenceBoundary(cadence string, now time.Time) (string, error) {
	expr, err := schedule.ParseExpr(cadence)
	if err != nil {
		return "", err
	}
	t, err := expr.Prev(now)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(time.RFC3339), nil
}
