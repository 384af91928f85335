// Package app wires configuration, inventory, runner and daemon together.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autostartstop/internal/config"
	"autostartstop/internal/daemon"
	"autostartstop/internal/inventory"
	"autostartstop/internal/runner"
	"autostartstop/internal/runtime/supervisor"
	"autostartstop/internal/schedule"
	logx "autostartstop/pkg/logx"
)

// Stack is a runner together with the inventory it owns.
type Stack struct {
	Runner    *runner.Runner
	Validator *schedule.Validator
	Inventory inventory.Provider
}

// Close releases the inventory.
func (s *Stack) Close() error {
	if s == nil || s.Inventory == nil {
		return nil
	}
	return s.Inventory.Close()
}

// Option adjusts how a Stack is built.
type Option func(*buildOpts)

type buildOpts struct {
	provider inventory.Provider
	runner   []runner.Option
	dryRun   bool
}

// WithInventory uses p instead of opening the configured driver.
func WithInventory(p inventory.Provider) Option { return func(o *buildOpts) { o.provider = p } }

// WithRunnerOptions passes options through to runner.New.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(o *buildOpts) { o.runner = append(o.runner, opts...) }
}

// WithDryRun forces dry-run regardless of configuration.
func WithDryRun() Option { return func(o *buildOpts) { o.dryRun = true } }

// Build assembles a Stack from cfg.
func Build(ctx context.Context, cfg *config.Config, log logx.Logger, opts ...Option) (*Stack, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	var bo buildOpts
	for _, o := range opts {
		o(&bo)
	}

	v, err := Validator(cfg)
	if err != nil {
		return nil, err
	}

	p := bo.provider
	if p == nil {
		p, err = OpenInventory(ctx, cfg, log.With(logx.String("comp", "inventory")))
		if err != nil {
			return nil, err
		}
	}

	rc := mapRunnerConfig(cfg)
	if bo.dryRun {
		rc.DryRun = true
	}
	r := runner.New(rc, v, p, p, log.With(logx.String("comp", "runner")), bo.runner...)
	return &Stack{Runner: r, Validator: v, Inventory: p}, nil
}

// Serve runs the daemon until ctx ends, rebuilding the runner whenever the
// config manager publishes a new config.
func Serve(ctx context.Context, cfgm *config.Manager, logs *logx.Service, log logx.Logger) error {
	cfg := cfgm.Get()
	if cfg == nil {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return err
		}
	}

	stack, err := Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	opts, err := mapDaemonOptions(cfg)
	if err != nil {
		_ = stack.Close()
		return err
	}
	d, err := daemon.New(opts, stack.Runner, log.With(logx.String("comp", "daemon")))
	if err != nil {
		_ = stack.Close()
		return err
	}

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	updates := cfgm.Subscribe(1)
	defer cfgm.Unsubscribe(updates)

	bg := supervisor.New(ctx, supervisor.WithLogger(log))
	bg.GoRestart("config-watch", cfgm.Watch, time.Second, 30*time.Second)
	defer func() { _ = bg.Stop(context.Background()) }()

	if err := d.Start(ctx); err != nil {
		_ = stack.Close()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			err := d.Stop(context.WithoutCancel(ctx))
			_ = stack.Close()
			return err
		case <-d.Done():
			// The daemon died on its own (e.g. listener failure).
			_ = d.Stop(context.WithoutCancel(ctx))
			_ = stack.Close()
			return d.Err()
		case next := <-updates:
			stack = reload(ctx, d, stack, cfg, next, logs, log)
			cfg = next
		}
	}
}

// reload applies next and returns the stack now in use.
func reload(ctx context.Context, d *daemon.Daemon, cur *Stack, prev, next *config.Config, logs *logx.Service, log logx.Logger) *Stack {
	if logs != nil {
		logs.Apply(LogConfig(next))
	}
	changed, _ := config.SummarizeChange(prev, next)
	if restart := config.Restart(changed); len(restart) > 0 {
		log.Warn("config sections need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	built, err := Build(ctx, next, log)
	if err != nil {
		log.Error("config reload: keeping previous runner", logx.Err(err))
		return cur
	}
	d.SetRunner(built.Runner)
	if err := cur.Close(); err != nil {
		log.Warn("close previous inventory", logx.Err(err))
	}
	log.Info("runner rebuilt", logx.String("changed", strings.Join(changed, ",")))
	return built
}

// RunOnce builds a stack, performs one pass and closes the stack.
func RunOnce(ctx context.Context, cfg *config.Config, raw string, log logx.Logger, opts ...Option) (runner.Report, error) {
	stack, err := Build(ctx, cfg, log, opts...)
	if err != nil {
		return runner.Report{}, err
	}
	defer stack.Close()
	rep, err := stack.Runner.Invoke(ctx, raw)
	if err != nil {
		return rep, fmt.Errorf("invocation: %w", err)
	}
	return rep, nil
}
