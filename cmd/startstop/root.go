package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"autostartstop/internal/app"
	"autostartstop/internal/config"
	logx "autostartstop/pkg/logx"
)

type globalFlags struct {
	config  string
	envFile string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "startstop",
		Short: "Start and stop EC2 instances on cron schedules read from their tags",
		Long: `startstop inspects every instance carrying the start/stop schedule tags,
validates the schedules and requests a power-state change when the trigger
time calls for one. It runs once per invocation or as a daemon with its own
cadence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "config file (YAML or JSON); environment only when empty")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", "", "env file layered under the process environment (default ./.env if present)")

	root.AddCommand(
		newRunCmd(g),
		newServeCmd(g),
		newCheckCmd(g),
		newFleetCmd(g),
	)
	return root
}

func (g *globalFlags) load() (*config.Config, error) {
	return config.Load(g.config, g.envFile)
}

// logger starts the logging service. Console output goes to stderr when
// stdout carries command output.
func logger(cfg *config.Config, stderr bool) (*logx.Service, logx.Logger) {
	lc := app.LogConfig(cfg)
	lc.Stderr = stderr
	return logx.New(lc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
