package config

import (
	"slices"
	"strings"

	logx "autostartstop/pkg/logx"
)

// SummarizeChange returns the changed config sections and log fields
// describing their new values.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	fields := make([]logx.Field, 0, 16)

	if oldCfg.Timezone != newCfg.Timezone ||
		oldCfg.MinUptime != newCfg.MinUptime ||
		oldCfg.MinDowntime != newCfg.MinDowntime ||
		oldCfg.MinuteStep != newCfg.MinuteStep ||
		!slices.Equal(oldCfg.ProtectedEnvironments, newCfg.ProtectedEnvironments) {
		changed = append(changed, "policy")
		fields = append(fields,
			logx.String("policy.timezone", newCfg.Timezone),
			logx.String("policy.min_uptime", newCfg.MinUptime),
			logx.String("policy.min_downtime", newCfg.MinDowntime),
			logx.Int("policy.minute_step", newCfg.MinuteStep),
			logx.String("policy.protected", strings.Join(newCfg.ProtectedEnvironments, ",")),
		)
	}

	if oldCfg.Tags != newCfg.Tags {
		changed = append(changed, "tags")
		fields = append(fields,
			logx.String("tags.start", newCfg.Tags.Start),
			logx.String("tags.stop", newCfg.Tags.Stop),
		)
	}

	if oldCfg.Inventory != newCfg.Inventory {
		changed = append(changed, "inventory")
		fields = append(fields,
			logx.String("inventory.driver", newCfg.Inventory.Driver),
			logx.Bool("inventory.path_set", strings.TrimSpace(newCfg.Inventory.Path) != ""),
		)
	}

	if oldCfg.Workers != newCfg.Workers ||
		oldCfg.ActionsPerSec != newCfg.ActionsPerSec ||
		oldCfg.DryRun != newCfg.DryRun {
		changed = append(changed, "runner")
		fields = append(fields,
			logx.Int("runner.workers", newCfg.Workers),
			logx.Int("runner.actions_per_sec", newCfg.ActionsPerSec),
			logx.Bool("runner.dry_run", newCfg.DryRun),
		)
	}

	if oldCfg.Daemon != newCfg.Daemon {
		changed = append(changed, "daemon")
		fields = append(fields,
			logx.String("daemon.cadence", newCfg.Daemon.Cadence),
			logx.String("daemon.listen", newCfg.Daemon.Listen),
		)
	}

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.ConsoleEnabled() != newCfg.Logging.ConsoleEnabled() ||
		oldCfg.Logging.File != newCfg.Logging.File {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.ConsoleEnabled()),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	return changed, fields
}

// Restart reports sections whose changes only take effect after a restart.
func Restart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s == "daemon" {
			out = append(out, s)
		}
	}
	return out
}
