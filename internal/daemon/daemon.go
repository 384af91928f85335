// Package daemon keeps the scheduler running as a long-lived service.
//
// A cron cadence (every ten minutes by default) invokes the runner with the
// tick's scheduled time as trigger time, replacing an external event rule.
// An optional HTTP listener accepts the same invocation on demand and reports
// health. Invocations never overlap: a tick that fires while a pass is still
// running is skipped.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"autostartstop/internal/runner"
	"autostartstop/internal/runtime/supervisor"
	"autostartstop/internal/schedule"
	logx "autostartstop/pkg/logx"
)

// ErrBusy is returned when an invocation is requested while another runs.
var ErrBusy = errors.New("an invocation is already running")

type Options struct {
	Cadence  string
	Location *time.Location
	// Listen is the HTTP trigger address. Empty disables the listener.
	Listen   string
	Profiler bool
	// InvocationTimeout bounds one pass. Zero means no bound.
	InvocationTimeout time.Duration
	// Notify sends readiness and stopping notifications to systemd.
	Notify bool
}

// Run records one finished invocation.
type Run struct {
	Source string        `json:"source"`
	At     time.Time     `json:"at"`
	Report runner.Report `json:"report"`
	Error  string        `json:"error,omitempty"`
}

type Daemon struct {
	opts    Options
	cadence schedule.Expr
	log     logx.Logger
	now     func() time.Time

	runner atomic.Pointer[runner.Runner]
	busy   sync.Mutex
	last   atomic.Pointer[Run]

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	cron    *cron.Cron
	srv     *http.Server
	addr    string
	started time.Time
}

func New(opts Options, r *runner.Runner, log logx.Logger) (*Daemon, error) {
	if r == nil {
		return nil, errors.New("daemon: runner is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	expr, err := schedule.ParseExpr(opts.Cadence)
	if err != nil {
		return nil, fmt.Errorf("daemon: cadence %q: %w", opts.Cadence, err)
	}
	if opts.Location == nil {
		opts.Location = r.Location()
	}
	d := &Daemon{opts: opts, cadence: expr, log: log, now: time.Now}
	d.runner.Store(r)
	return d, nil
}

// SetRunner swaps the runner used by subsequent invocations. It waits for a
// running invocation, so the previous runner is idle once SetRunner returns.
func (d *Daemon) SetRunner(r *runner.Runner) {
	if r == nil {
		return
	}
	d.busy.Lock()
	d.runner.Store(r)
	d.busy.Unlock()
}

// Last returns the most recent invocation, or nil.
func (d *Daemon) Last() *Run { return d.last.Load() }

// Addr is the bound HTTP address, empty when the listener is disabled.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Done is closed when the daemon's goroutines have been cancelled.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return d.sup.Context().Done()
}

// Err returns the first fatal error, e.g. the HTTP listener failing.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sup == nil {
		return nil
	}
	return d.sup.Err()
}

// Start begins the cadence and, if configured, the HTTP listener.
// It returns once both are running. Start is not idempotent.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sup != nil {
		return errors.New("daemon: already started")
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(d.log), supervisor.WithCancelOnError(true))

	if d.opts.Listen != "" {
		ln, err := net.Listen("tcp", d.opts.Listen)
		if err != nil {
			_ = sup.Stop(context.Background())
			return fmt.Errorf("daemon: listen %s: %w", d.opts.Listen, err)
		}
		d.addr = ln.Addr().String()
		d.srv = &http.Server{
			Handler:           d.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return sup.Context() },
		}
		srv := d.srv
		sup.Go("http", func(ctx context.Context) error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	c := cron.New(
		cron.WithLocation(d.opts.Location),
		cron.WithLogger(cronLogger{d.log}),
		cron.WithChain(cron.Recover(cronLogger{d.log}), cron.SkipIfStillRunning(cronLogger{d.log})),
	)
	c.Schedule(d.cadence.Schedule(), cron.FuncJob(func() { d.tick(sup.Context()) }))
	c.Start()

	d.sup, d.cron, d.started = sup, c, d.now()
	next, _ := d.cadence.Next(d.now().In(d.opts.Location))
	d.log.Info("daemon started",
		logx.String("cadence", d.cadence.String()),
		logx.String("tz", d.opts.Location.String()),
		logx.String("listen", d.addr),
		logx.Time("next", next),
	)

	if d.opts.Notify {
		if ok, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
			d.log.Warn("systemd notify failed", logx.Err(err))
		} else if ok {
			d.log.Debug("systemd notified ready")
		}
	}
	return nil
}

// Stop halts the cadence, waits for a running invocation and shuts the
// listener down, bounded by ctx.
func (d *Daemon) Stop(ctx context.Context) error {
	start := d.now()
	d.mu.Lock()
	sup, c, srv := d.sup, d.cron, d.srv
	d.mu.Unlock()
	if sup == nil {
		return nil
	}
	d.log.Info("stop requested")
	if d.opts.Notify {
		_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if serr := sup.Stop(ctx); err == nil {
		err = serr
	}
	d.log.Info("daemon stopped", logx.Duration("took", d.now().Sub(start)))
	return err
}

func (d *Daemon) tick(ctx context.Context) {
	now := d.now().In(d.opts.Location)
	trigger, err := d.cadence.Prev(now)
	if err != nil {
		d.log.Error("cannot compute tick time", logx.Err(err))
		return
	}
	_, err = d.invoke(ctx, "cadence", func(ctx context.Context, r *runner.Runner) (runner.Report, error) {
		return r.Run(ctx, trigger)
	})
	if errors.Is(err, ErrBusy) {
		d.log.Warn("tick skipped; previous invocation still running", logx.Time("trigger", trigger))
		return
	}
	if err != nil {
		d.log.Error("scheduled invocation failed", logx.Time("trigger", trigger), logx.Err(err))
	}
}

// Invoke runs one pass for a raw trigger time, as the HTTP endpoint does.
func (d *Daemon) Invoke(ctx context.Context, raw string) (runner.Report, error) {
	return d.invoke(ctx, "http", func(ctx context.Context, r *runner.Runner) (runner.Report, error) {
		return r.Invoke(ctx, raw)
	})
}

func (d *Daemon) invoke(ctx context.Context, source string, fn func(context.Context, *runner.Runner) (runner.Report, error)) (runner.Report, error) {
	if !d.busy.TryLock() {
		return runner.Report{}, ErrBusy
	}
	defer d.busy.Unlock()

	if d.opts.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.InvocationTimeout)
		defer cancel()
	}
	rep, err := fn(ctx, d.runner.Load())
	if errors.Is(err, runner.ErrTriggerTime) {
		// Nothing ran; keep the previous record.
		return rep, err
	}
	run := &Run{Source: source, At: d.now(), Report: rep}
	if err != nil {
		run.Error = err.Error()
	}
	d.last.Store(run)
	return rep, err
}

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
