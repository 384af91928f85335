package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autostartstop/internal/config"
	"autostartstop/internal/daemon"
	"autostartstop/internal/inventory"
	"autostartstop/internal/inventory/ec2"
	"autostartstop/internal/inventory/file"
	"autostartstop/internal/inventory/sqlite"
	"autostartstop/internal/runner"
	"autostartstop/internal/schedule"
	logx "autostartstop/pkg/logx"
)

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = schedule.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapPolicy(cfg *config.Config) (schedule.Policy, error) {
	loc, err := mapLocation(cfg)
	if err != nil {
		return schedule.Policy{}, err
	}
	up, err := config.ParseDurationOrDefault("min_uptime", cfg.MinUptime, schedule.DefaultMinUptime)
	if err != nil {
		return schedule.Policy{}, err
	}
	down, err := config.ParseDurationOrDefault("min_downtime", cfg.MinDowntime, up)
	if err != nil {
		return schedule.Policy{}, err
	}
	return schedule.Policy{
		Location:              loc,
		MinUptime:             up,
		MinDowntime:           down,
		MinuteStep:            cfg.MinuteStep,
		ProtectedEnvironments: cfg.ProtectedEnvironments,
	}, nil
}

func mapTagKeys(cfg *config.Config) schedule.TagKeys {
	return schedule.TagKeys{
		Enable:      cfg.Tags.Enable,
		Start:       cfg.Tags.Start,
		Stop:        cfg.Tags.Stop,
		Environment: cfg.Tags.Environment,
		Name:        cfg.Tags.Name,
	}
}

func mapRunnerConfig(cfg *config.Config) runner.Config {
	return runner.Config{
		Keys:          mapTagKeys(cfg),
		Workers:       cfg.Workers,
		ActionsPerSec: cfg.ActionsPerSec,
		DryRun:        cfg.DryRun,
	}
}

// LogConfig maps the logging section onto logx.
func LogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDaemonOptions(cfg *config.Config) (daemon.Options, error) {
	loc, err := mapLocation(cfg)
	if err != nil {
		return daemon.Options{}, err
	}
	timeout, err := config.ParseDuration("daemon.invocation_timeout", cfg.Daemon.InvocationTimeout)
	if err != nil {
		return daemon.Options{}, err
	}
	opts := daemon.Options{
		Cadence:           cfg.Daemon.Cadence,
		Location:          loc,
		Profiler:          cfg.Daemon.Profiler,
		InvocationTimeout: timeout,
		Notify:            true,
	}
	if cfg.Daemon.HTTPEnabled() {
		opts.Listen = cfg.Daemon.Listen
	}
	return opts, nil
}

// OpenInventory opens the configured inventory driver.
func OpenInventory(ctx context.Context, cfg *config.Config, log logx.Logger) (inventory.Provider, error) {
	keys := mapTagKeys(cfg)
	ic := cfg.Inventory
	path := strings.TrimSpace(ic.Path)
	switch strings.ToLower(strings.TrimSpace(ic.Driver)) {
	case "", "ec2":
		return ec2.New(ctx, ic.Region, keys, log)
	case "sqlite", "sqlite3":
		if path == "" {
			return nil, fmt.Errorf("inventory.path is required when inventory.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("inventory.busy_timeout", ic.BusyTimeout, time.Second)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(sqlite.Config{Path: path, BusyTimeout: busy, Keys: keys}, log)
	case "file":
		if path == "" {
			return nil, fmt.Errorf("inventory.path is required when inventory.driver=file")
		}
		return file.Open(path, keys, log)
	default:
		return nil, fmt.Errorf("unknown inventory.driver: %s", ic.Driver)
	}
}

// Validator builds the schedule validator described by cfg.
func Validator(cfg *config.Config) (*schedule.Validator, error) {
	p, err := mapPolicy(cfg)
	if err != nil {
		return nil, err
	}
	return schedule.NewValidator(p), nil
}

// TagKeys returns the configured tag keys.
func TagKeys(cfg *config.Config) schedule.TagKeys { return mapTagKeys(cfg) }
