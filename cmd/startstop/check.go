package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"autostartstop/internal/app"
	"autostartstop/internal/reconcile"
	"autostartstop/internal/runner"
	"autostartstop/internal/schedule"
)

type checkResult struct {
	Valid   bool   `json:"valid"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode,omitempty"`

	At       time.Time `json:"at"`
	Timezone string    `json:"timezone"`

	PrevStart *time.Time `json:"prev_start,omitempty"`
	NextStart *time.Time `json:"next_start,omitempty"`
	PrevStop  *time.Time `json:"prev_stop,omitempty"`
	NextStop  *time.Time `json:"next_stop,omitempty"`
	Uptime    string     `json:"uptime,omitempty"`
	Downtime  string     `json:"downtime,omitempty"`

	Decision *decisionView `json:"decision,omitempty"`
}

type decisionView struct {
	State  string `json:"state"`
	Mode   string `json:"mode"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func newCheckCmd(g *globalFlags) *cobra.Command {
	var (
		in      schedule.Input
		enabled string
		at      string
		state   string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a start/stop schedule against the configured policy",
		Example: `  startstop check --start "0 8 * * 1-5" --stop "0 20 * * 1-5"
  startstop check --start "0 8 * * *" --state stopped --at 2024-01-01T08:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			v, err := app.Validator(cfg)
			if err != nil {
				return err
			}
			loc := v.Location()

			now := time.Now().In(loc)
			if at != "" {
				if now, err = runner.ParseTriggerTime(at, loc); err != nil {
					return err
				}
			}
			in.Enabled = schedule.ParseEnabled(enabled, cmd.Flags().Changed("enabled"))

			res := checkResult{At: now, Timezone: loc.String(), Enabled: in.Enabled}
			s, err := v.Validate(in, now)
			if err != nil {
				res.Kind, res.Error = schedule.KindOf(err).String(), err.Error()
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return fmt.Errorf("schedule rejected: %s", res.Kind)
			}
			res.Valid = true
			if s.Enabled {
				res.Mode = s.Mode.String()
				res.PrevStart, res.NextStart = timePtr(s.PrevStart), timePtr(s.NextStart)
				res.PrevStop, res.NextStop = timePtr(s.PrevStop), timePtr(s.NextStop)
				if s.Mode == schedule.ModeBoth {
					res.Uptime, res.Downtime = s.Uptime.String(), s.Downtime.String()
				}
			}
			if state != "" {
				ps := reconcile.ParsePowerState(state)
				d := decisionView{State: string(ps), Mode: string(reconcile.ModeDisabled), Action: reconcile.NoAction.String()}
				if s.Enabled {
					dec := reconcile.Reconcile("cli", s, ps, now)
					d.Mode, d.Action, d.Reason = string(dec.Mode), dec.Action.String(), dec.Reason
				}
				res.Decision = &d
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.StartExpr, "start", "", "start cron expression")
	f.StringVar(&in.StopExpr, "stop", "", "stop cron expression")
	f.StringVar(&in.Environment, "environment", "", "environment tag value")
	f.StringVar(&enabled, "enabled", "", "enable tag value (absent means enabled)")
	f.StringVar(&at, "at", "", "evaluate at this time instead of now; also used as trigger time")
	f.StringVar(&state, "state", "", "current power state; prints the resulting decision")
	return cmd
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
