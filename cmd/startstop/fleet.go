package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"autostartstop/internal/app"
	"autostartstop/internal/inventory"
	"autostartstop/internal/reconcile"
	logx "autostartstop/pkg/logx"
)

// fleetStore is the writable side of the sqlite inventory.
type fleetStore interface {
	inventory.Provider
	Put(ctx context.Context, in inventory.Instance) error
}

func newFleetCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Manage the local sqlite inventory",
	}
	cmd.AddCommand(newFleetPutCmd(g), newFleetListCmd(g))
	return cmd
}

func openFleet(cmd *cobra.Command, g *globalFlags) (fleetStore, *logx.Service, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Inventory.Driver != "sqlite" {
		return nil, nil, fmt.Errorf("fleet commands need inventory.driver=sqlite (have %q)", cfg.Inventory.Driver)
	}
	logs, log := logger(cfg, true)
	p, err := app.OpenInventory(cmd.Context(), cfg, log)
	if err != nil {
		_ = logs.Close()
		return nil, nil, err
	}
	st, ok := p.(fleetStore)
	if !ok {
		_ = p.Close()
		_ = logs.Close()
		return nil, nil, errors.New("inventory is not writable")
	}
	return st, logs, nil
}

func newFleetPutCmd(g *globalFlags) *cobra.Command {
	var (
		state string
		tags  []string
	)
	cmd := &cobra.Command{
		Use:     "put INSTANCE_ID",
		Short:   "Insert or replace an instance with its state and tags",
		Example: `  startstop fleet put i-0abc --state stopped --tag Name=web --tag "start-stop:start=0 8 * * 1-5" --tag "start-stop:stop=0 20 * * 1-5"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseTags(tags)
			if err != nil {
				return err
			}
			ps := reconcile.ParsePowerState(state)
			if ps == reconcile.StateUnknown {
				return fmt.Errorf("unknown state %q", state)
			}

			st, logs, err := openFleet(cmd, g)
			if err != nil {
				return err
			}
			defer logs.Close()
			defer st.Close()

			in := inventory.Instance{ID: args[0], State: ps, Tags: parsed}
			if err := st.Put(cmd.Context(), in); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), in)
		},
	}
	cmd.Flags().StringVar(&state, "state", string(reconcile.StateStopped), "power state")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag as key=value; repeatable")
	return cmd
}

func newFleetListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the instances the scheduler manages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, logs, err := openFleet(cmd, g)
			if err != nil {
				return err
			}
			defer logs.Close()
			defer st.Close()

			out, err := st.ListManagedInstances(cmd.Context())
			if err != nil {
				return err
			}
			inventory.SortByID(out)
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// parseTags splits key=value pairs on the first '='. Values may be empty.
func parseTags(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("tag %q: want key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}
