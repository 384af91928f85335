// Package runner performs one reconciliation pass over the managed fleet.
//
// An invocation parses the trigger time, lists managed instances, validates
// each instance's schedule, reconciles it against the observed power state and
// hands start/stop requests to the inventory. Instances are processed in
// parallel and independently: a bad tag set or a failed API call on one
// instance is logged and counted, never fatal to the pass.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"autostartstop/internal/inventory"
	"autostartstop/internal/reconcile"
	"autostartstop/internal/schedule"
	logx "autostartstop/pkg/logx"
)

// ErrTriggerTime aborts an invocation whose trigger time is missing or unreadable.
var ErrTriggerTime = errors.New("cannot read trigger event time")

type Config struct {
	Keys schedule.TagKeys
	// Workers bounds per-invocation parallelism. 0 means 4.
	Workers int
	// ActionsPerSec rate-limits start/stop requests. 0 disables limiting.
	ActionsPerSec int
	// DryRun computes and logs decisions without calling the actuator.
	DryRun bool
}

type Runner struct {
	cfg       Config
	validator *schedule.Validator
	lister    inventory.Lister
	actuator  inventory.Actuator
	limiter   *rate.Limiter
	log       logx.Logger
	now       func() time.Time
}

type Option func(*Runner)

// WithClock overrides the wall clock used as the validation reference time.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func New(cfg Config, v *schedule.Validator, lister inventory.Lister, actuator inventory.Actuator, log logx.Logger, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	r := &Runner{
		cfg:       cfg,
		validator: v,
		lister:    lister,
		actuator:  actuator,
		log:       log,
		now:       time.Now,
	}
	if cfg.ActionsPerSec > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.ActionsPerSec), cfg.ActionsPerSec)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Location is the zone trigger times and decisions are expressed in.
func (r *Runner) Location() *time.Location { return r.validator.Location() }

// Invoke parses raw as the trigger time and runs one pass.
func (r *Runner) Invoke(ctx context.Context, raw string) (Report, error) {
	trigger, err := ParseTriggerTime(raw, r.Location())
	if err != nil {
		return Report{}, err
	}
	return r.Run(ctx, trigger)
}

// Run performs one pass for trigger. It fails only if the inventory cannot be
// listed or ctx ends; per-instance problems are recorded in the Report.
func (r *Runner) Run(ctx context.Context, trigger time.Time) (Report, error) {
	start := r.now()
	trigger = trigger.In(r.Location())
	now := start.In(r.Location())
	r.log.Info("triggered execution", logx.Time("trigger", trigger), logx.Bool("dry_run", r.cfg.DryRun))

	instances, err := r.lister.ListManagedInstances(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list managed instances: %w", err)
	}
	inventory.SortByID(instances)

	rep := Report{Trigger: trigger, Now: now, Results: make([]Result, len(instances))}

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i := range instances {
		i := i
		g.Go(func() error {
			rep.Results[i] = r.process(ctx, instances[i], now, trigger)
			return nil
		})
	}
	_ = g.Wait()

	rep.tally()
	rep.Took = r.now().Sub(start)
	r.log.Info("execution finished",
		logx.Int("inspected", rep.Inspected),
		logx.Int("started", rep.Started),
		logx.Int("stopped", rep.Stopped),
		logx.Int("unchanged", rep.Unchanged),
		logx.Int("disabled", rep.Disabled),
		logx.Int("invalid", rep.Invalid),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	)
	return rep, ctx.Err()
}

func (r *Runner) process(ctx context.Context, in inventory.Instance, now, trigger time.Time) Result {
	name := schedule.NameOf(in.Tags, r.cfg.Keys)
	res := Result{InstanceID: in.ID, Name: name, State: in.State}
	log := r.log.With(logx.String("instance", in.ID), logx.String("name", name))

	if err := ctx.Err(); err != nil {
		res.Outcome, res.Error = OutcomeFailed, err.Error()
		return res
	}

	input, err := schedule.FromTags(in.Tags, r.cfg.Keys)
	if err == nil {
		res.Schedule, err = r.validator.Validate(input, now)
	}
	if err != nil {
		res.Outcome, res.Error = OutcomeInvalid, err.Error()
		log.Error("wrong params values", logx.String("kind", schedule.KindOf(err).String()), logx.Err(err))
		return res
	}

	if !res.Schedule.Enabled {
		res.Outcome, res.Mode = OutcomeDisabled, reconcile.ModeDisabled
		log.Info("inspected instance; auto start-stop disabled", logx.Bool("enabled", false))
		return res
	}

	d := reconcile.Reconcile(in.ID, res.Schedule, in.State, trigger)
	res.Mode, res.Action, res.Reason = d.Mode, d.Action, d.Reason

	fields := []logx.Field{
		logx.Bool("enabled", true),
		logx.String("mode", string(d.Mode)),
		logx.String("state", string(in.State)),
		logx.String("action", d.Action.String()),
		logx.String("reason", d.Reason),
	}
	switch {
	case d.Action == reconcile.NoAction:
		res.Outcome = OutcomeUnchanged
		log.Info("inspected instance; no action", fields...)
		return res
	case r.cfg.DryRun:
		res.Outcome = OutcomeDryRun
		log.Info("inspected instance; dry run, not acting", fields...)
		return res
	}

	if err := r.act(ctx, in.ID, d.Action); err != nil {
		res.Outcome, res.Error = OutcomeFailed, err.Error()
		log.Error("state change request failed", append(fields, logx.Err(err))...)
		return res
	}
	if d.Action == reconcile.StartRequested {
		res.Outcome = OutcomeStarted
		log.Info("starting instance", fields...)
	} else {
		res.Outcome = OutcomeStopped
		log.Info("stopping instance", fields...)
	}
	return res
}

func (r *Runner) act(ctx context.Context, id string, a reconcile.Action) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	switch a {
	case reconcile.StartRequested:
		return r.actuator.RequestStart(ctx, id)
	case reconcile.StopRequested:
		return r.actuator.RequestStop(ctx, id)
	default:
		return nil
	}
}

var triggerLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseTriggerTime reads an ISO-8601 timestamp. Timestamps without a zone
// are taken to be in loc. The result is expressed in loc.
func ParseTriggerTime(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, &schedule.Error{Kind: schedule.MalformedInput, Field: "time", Msg: "missing trigger time", Err: ErrTriggerTime}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range triggerLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, &schedule.Error{Kind: schedule.MalformedInput, Field: "time", Msg: fmt.Sprintf("unreadable trigger time %q", raw), Err: ErrTriggerTime}
}

// Report summarizes one invocation.
type Report struct {
	Trigger time.Time     `json:"trigger"`
	Now     time.Time     `json:"now"`
	Took    time.Duration `json:"took"`

	Inspected int `json:"inspected"`
	Started   int `json:"started"`
	Stopped   int `json:"stopped"`
	Unchanged int `json:"unchanged"`
	DryRun    int `json:"dry_run"`
	Disabled  int `json:"disabled"`
	Invalid   int `json:"invalid"`
	Failed    int `json:"failed"`

	Results []Result `json:"results"`
}

type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeStopped   Outcome = "stopped"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDryRun    Outcome = "dry_run"
	OutcomeDisabled  Outcome = "disabled"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeFailed    Outcome = "failed"
)

// Result is the per-instance outcome.
type Result struct {
	InstanceID string               `json:"instance_id"`
	Name       string               `json:"name"`
	State      reconcile.PowerState `json:"state"`
	Outcome    Outcome              `json:"outcome"`
	Mode       reconcile.Mode       `json:"mode,omitempty"`
	Action     reconcile.Action     `json:"-"`
	Reason     string               `json:"reason,omitempty"`
	Error      string               `json:"error,omitempty"`
	Schedule   schedule.Validated   `json:"-"`
}

func (rep *Report) tally() {
	for _, res := range rep.Results {
		rep.Inspected++
		switch res.Outcome {
		case OutcomeStarted:
			rep.Started++
		case OutcomeStopped:
			rep.Stopped++
		case OutcomeUnchanged:
			rep.Unchanged++
		case OutcomeDryRun:
			rep.DryRun++
		case OutcomeDisabled:
			rep.Disabled++
		case OutcomeInvalid:
			rep.Invalid++
		case OutcomeFailed:
			rep.Failed++
		}
	}
}
