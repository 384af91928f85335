package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "45m", "1h30m").
// Every scalar can be overridden from the environment with the STARTSTOP_
// prefix, e.g. STARTSTOP_MIN_UPTIME=90m or STARTSTOP_INVENTORY_DRIVER=sqlite.
//
// Defaults (when fields are omitted/zero):
//   - timezone: "America/New_York" (or $TIMEZONE)
//   - min_uptime: "60m"
//   - min_downtime: min_uptime
//   - minute_step: 10
//   - protected_environments: ["prod", "production"]
//   - inventory.driver: "ec2"
//   - workers: 4
//   - actions_per_sec: 5
//   - daemon.cadence: "*/10 * * * *"
//   - daemon.listen: "127.0.0.1:8080" ("off" disables the HTTP trigger)
//   - daemon.invocation_timeout: "5m"
//   - logging.level: "info", logging.console: true
type Config struct {
	Timezone    string `json:"timezone,omitempty" env:"TIMEZONE" validate:"timezone"`
	MinUptime   string `json:"min_uptime,omitempty" env:"MIN_UPTIME" validate:"duration"`
	MinDowntime string `json:"min_downtime,omitempty" env:"MIN_DOWNTIME" validate:"omitempty,duration"`
	MinuteStep  int    `json:"minute_step,omitempty" env:"MINUTE_STEP" validate:"gte=1,lte=60"`

	Tags                  TagsConfig `json:"tags,omitempty" envPrefix:"TAG_"`
	ProtectedEnvironments []string   `json:"protected_environments,omitempty" env:"PROTECTED_ENVIRONMENTS"`

	Inventory InventoryConfig `json:"inventory" envPrefix:"INVENTORY_"`

	Workers       int  `json:"workers,omitempty" env:"WORKERS" validate:"gte=1,lte=256"`
	ActionsPerSec int  `json:"actions_per_sec,omitempty" env:"ACTIONS_PER_SEC" validate:"gte=0"`
	DryRun        bool `json:"dry_run,omitempty" env:"DRY_RUN"`

	Daemon  DaemonConfig  `json:"daemon,omitempty" envPrefix:"DAEMON_"`
	Logging LoggingConfig `json:"logging,omitempty" envPrefix:"LOG_"`
}

// TagsConfig renames the instance tags schedules are read from.
// Empty keys fall back to the stock names.
type TagsConfig struct {
	Enable      string `json:"enable,omitempty" env:"ENABLE"`
	Start       string `json:"start,omitempty" env:"START"`
	Stop        string `json:"stop,omitempty" env:"STOP"`
	Environment string `json:"environment,omitempty" env:"ENVIRONMENT"`
	Name        string `json:"name,omitempty" env:"NAME"`
}

// InventoryConfig selects where the fleet is read from.
//
// Example:
//
//	"inventory": { "driver": "sqlite", "path": "./fleet.db" }
type InventoryConfig struct {
	Driver string `json:"driver,omitempty" env:"DRIVER" validate:"oneof=ec2 sqlite file"`
	// Path is the database (sqlite) or fleet file (file). Unused by ec2.
	Path string `json:"path,omitempty" env:"PATH" validate:"required_unless=Driver ec2"`
	// Region overrides the SDK's region resolution (ec2 only).
	Region      string `json:"region,omitempty" env:"REGION"`
	BusyTimeout string `json:"busy_timeout,omitempty" env:"BUSY_TIMEOUT" validate:"omitempty,duration"` // sqlite
}

// DaemonConfig controls the long-running serve mode.
type DaemonConfig struct {
	Cadence           string `json:"cadence,omitempty" env:"CADENCE" validate:"cadence"`
	Listen            string `json:"listen,omitempty" env:"LISTEN" validate:"eq=off|hostname_port"`
	InvocationTimeout string `json:"invocation_timeout,omitempty" env:"INVOCATION_TIMEOUT" validate:"duration"`
	// Profiler mounts net/http/pprof under /debug on the trigger listener.
	Profiler bool `json:"profiler,omitempty" env:"PROFILER"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty" env:"LEVEL" validate:"oneof=trace debug info warn warning error"`
	// Console is a pointer so an omitted key can default to true.
	Console *bool       `json:"console,omitempty" env:"CONSOLE"`
	File    LoggingFile `json:"file,omitempty" envPrefix:"FILE_"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Path    string `json:"path,omitempty" env:"PATH"`
}

// HTTPEnabled reports whether serve mode should expose the HTTP trigger.
func (d DaemonConfig) HTTPEnabled() bool { return d.Listen != "" && d.Listen != "off" }

// ConsoleEnabled resolves the console flag.
func (l LoggingConfig) ConsoleEnabled() bool { return l.Console == nil || *l.Console }
