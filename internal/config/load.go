// Package config loads the scheduler configuration.
//
// A config is assembled in layers: the file (strict JSON or YAML), then the
// process environment with a .env file underneath it, then defaults. The
// result is checked with go-playground/validator before it is returned.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"autostartstop/internal/schedule"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STARTSTOP_"

// DefaultEnvFile is read when no env file is named. It may be absent.
const DefaultEnvFile = ".env"

const (
	DefaultInventoryDriver   = "ec2"
	DefaultWorkers           = 4
	DefaultActionsPerSec     = 5
	DefaultCadence           = "*/10 * * * *"
	DefaultListen            = "127.0.0.1:8080"
	DefaultInvocationTimeout = "5m"
)

// Decode reads path strictly: unknown keys and trailing data are errors.
func Decode(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%s: invalid config: trailing data", path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Load assembles a validated config. An empty path skips the file layer.
// An empty envFile means DefaultEnvFile, which may be missing; a named
// envFile must exist. Variables already set in the process win over the
// env file.
func Load(path, envFile string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		c, err := Decode(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}

	vars, err := environment(envFile)
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: vars}); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	// TIMEZONE is what existing deployments set.
	if strings.TrimSpace(cfg.Timezone) == "" {
		cfg.Timezone = strings.TrimSpace(vars["TIMEZONE"])
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func environment(envFile string) (map[string]string, error) {
	name, optional := envFile, false
	if strings.TrimSpace(name) == "" {
		name, optional = DefaultEnvFile, true
	}
	vars, err := godotenv.Read(name)
	if err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("env file %s: %w", name, err)
		}
		vars = map[string]string{}
	}
	for k, v := range env.ToMap(os.Environ()) {
		vars[k] = v
	}
	return vars, nil
}

// ApplyDefaults fills zero fields. It is idempotent.
func ApplyDefaults(cfg *Config) {
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	if cfg.Timezone == "" {
		cfg.Timezone = schedule.DefaultTimezone
	}
	if strings.TrimSpace(cfg.MinUptime) == "" {
		cfg.MinUptime = schedule.DefaultMinUptime.String()
	}
	if strings.TrimSpace(cfg.MinDowntime) == "" {
		cfg.MinDowntime = cfg.MinUptime
	}
	if cfg.MinuteStep == 0 {
		cfg.MinuteStep = schedule.DefaultMinuteStep
	}
	if cfg.ProtectedEnvironments == nil {
		cfg.ProtectedEnvironments = append([]string(nil), schedule.DefaultProtectedEnvironments...)
	}

	cfg.Inventory.Driver = strings.ToLower(strings.TrimSpace(cfg.Inventory.Driver))
	if cfg.Inventory.Driver == "" {
		cfg.Inventory.Driver = DefaultInventoryDriver
	}

	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ActionsPerSec == 0 {
		cfg.ActionsPerSec = DefaultActionsPerSec
	}

	if strings.TrimSpace(cfg.Daemon.Cadence) == "" {
		cfg.Daemon.Cadence = DefaultCadence
	}
	cfg.Daemon.Listen = strings.TrimSpace(cfg.Daemon.Listen)
	if cfg.Daemon.Listen == "" {
		cfg.Daemon.Listen = DefaultListen
	}
	if strings.TrimSpace(cfg.Daemon.InvocationTimeout) == "" {
		cfg.Daemon.InvocationTimeout = DefaultInvocationTimeout
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// Report json key names, not Go field names.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			_, err := ParseDuration(fl.FieldName(), fl.Field().String())
			return err == nil && strings.TrimSpace(fl.Field().String()) != ""
		})
		_ = v.RegisterValidation("cadence", func(fl validator.FieldLevel) bool {
			_, err := schedule.ParseExpr(fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// Validate checks a defaulted config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("invalid config: nil")
	}
	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		// Namespace is "Config.inventory.path"; drop the root type name.
		_, key, _ := strings.Cut(fe.Namespace(), ".")
		msg := key + ": failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		if s, ok := fe.Value().(string); ok {
			msg += fmt.Sprintf(" (got %q)", s)
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
