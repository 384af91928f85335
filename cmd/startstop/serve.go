package main

import (
	"github.com/spf13/cobra"

	"autostartstop/internal/app"
	"autostartstop/internal/config"
	logx "autostartstop/pkg/logx"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run as a daemon: reconcile on the cadence and accept HTTP invocations",
		Long: `serve reconciles the fleet on daemon.cadence and, unless daemon.listen is
"off", exposes POST /invoke, GET /healthz and GET /runs/last. The config file
is watched and reloaded; daemon settings take effect on restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(g.config, g.envFile)
			cfg, err := mgr.Load()
			if err != nil {
				return err
			}
			logs, log := logger(cfg, false)
			defer logs.Close()

			log.Info("starting", logx.String("config", mgr.Path()), logx.String("inventory", cfg.Inventory.Driver), logx.Bool("dry_run", cfg.DryRun))
			err = app.Serve(cmd.Context(), mgr, logs, log)
			if err != nil {
				log.Error("serve stopped", logx.Err(err))
			}
			return err
		},
	}
}
