package schedule

import (
	"strconv"
	"strings"
	"time"
)

// Defaults for Policy fields left zero.
const (
	DefaultTimezone   = "America/New_York"
	DefaultMinUptime  = 60 * time.Minute
	DefaultMinuteStep = 10
)

// DefaultProtectedEnvironments are environment classifiers never auto-managed.
var DefaultProtectedEnvironments = []string{"prod", "production"}

// Mode tells the reconciler which detection strategy a schedule supports.
type Mode int

const (
	// ModeNone is the mode of a disabled schedule.
	ModeNone Mode = iota
	// ModeStartOnly: only a start expression; trigger detection.
	ModeStartOnly
	// ModeStopOnly: only a stop expression; trigger detection.
	ModeStopOnly
	// ModeBoth: start and stop expressions; schedule detection.
	ModeBoth
)

func (m Mode) String() string {
	switch m {
	case ModeStartOnly:
		return "start_only"
	case ModeStopOnly:
		return "stop_only"
	case ModeBoth:
		return "both"
	default:
		return "none"
	}
}

// Validated is an accepted schedule. Timestamp fields are zero when the
// matching expression is absent or the schedule is disabled.
type Validated struct {
	Enabled bool
	Mode    Mode

	PrevStart time.Time
	NextStart time.Time
	PrevStop  time.Time
	NextStop  time.Time

	// Uptime and Downtime are the windows around now; set only in ModeBoth.
	Uptime   time.Duration
	Downtime time.Duration
}

func (v Validated) HasStart() bool { return v.Mode == ModeStartOnly || v.Mode == ModeBoth }
func (v Validated) HasStop() bool  { return v.Mode == ModeStopOnly || v.Mode == ModeBoth }

// Running reports whether the latest occurrence is a start. Only meaningful in
// ModeBoth. A tie between start and stop resolves to stopped.
func (v Validated) Running() bool {
	return v.PrevStop.Before(v.PrevStart)
}

// Policy parameterizes validation.
type Policy struct {
	// Location is the zone cron expressions are evaluated in. Nil means UTC.
	Location *time.Location
	// MinUptime and MinDowntime bound the scheduled windows. Zero MinUptime
	// means DefaultMinUptime; zero MinDowntime means MinUptime.
	MinUptime   time.Duration
	MinDowntime time.Duration
	// MinuteStep is the required minute granularity. Zero means DefaultMinuteStep.
	MinuteStep int
	// ProtectedEnvironments are compared case-insensitively.
	ProtectedEnvironments []string
}

// DefaultPolicy returns the stock policy evaluated in DefaultTimezone.
// It falls back to UTC when the zone database is unavailable.
func DefaultPolicy() Policy {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	return Policy{
		Location:              loc,
		MinUptime:             DefaultMinUptime,
		MinDowntime:           DefaultMinUptime,
		MinuteStep:            DefaultMinuteStep,
		ProtectedEnvironments: DefaultProtectedEnvironments,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Location == nil {
		p.Location = time.UTC
	}
	if p.MinUptime <= 0 {
		p.MinUptime = DefaultMinUptime
	}
	if p.MinDowntime <= 0 {
		p.MinDowntime = p.MinUptime
	}
	if p.MinuteStep <= 0 {
		p.MinuteStep = DefaultMinuteStep
	}
	if p.ProtectedEnvironments == nil {
		p.ProtectedEnvironments = DefaultProtectedEnvironments
	}
	return p
}

// Validator turns Inputs into Validated schedules. It holds no mutable state
// and is safe for concurrent use.
type Validator struct {
	policy    Policy
	protected map[string]struct{}
}

func NewValidator(p Policy) *Validator {
	p = p.withDefaults()
	protected := make(map[string]struct{}, len(p.ProtectedEnvironments))
	for _, env := range p.ProtectedEnvironments {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			protected[env] = struct{}{}
		}
	}
	return &Validator{policy: p, protected: protected}
}

func (v *Validator) Policy() Policy { return v.policy }

// Location is the zone used for all occurrence math.
func (v *Validator) Location() *time.Location { return v.policy.Location }

// Protected reports whether env is a protected environment classifier.
func (v *Validator) Protected(env string) bool {
	_, ok := v.protected[strings.ToLower(strings.TrimSpace(env))]
	return ok
}

// Validate checks in against the policy at reference time now.
//
// A disabled input short-circuits: it is returned as a disabled schedule without
// looking at its expressions.
func (v *Validator) Validate(in Input, now time.Time) (Validated, error) {
	if !in.Enabled {
		return Validated{}, nil
	}
	if v.Protected(in.Environment) {
		return Validated{}, newError(ProductionGuardTriggered, "environment",
			"production instances shouldn't be started / stopped automatically", nil)
	}

	startRaw := strings.TrimSpace(in.StartExpr)
	stopRaw := strings.TrimSpace(in.StopExpr)
	if startRaw == "" && stopRaw == "" {
		return Validated{}, newError(MalformedInput, "", "at least one of start or stop expression is required", nil)
	}

	out := Validated{Enabled: true}
	var start, stop Expr

	if startRaw != "" {
		e, occ, err := v.evaluate("start", startRaw, now)
		if err != nil {
			return Validated{}, err
		}
		start = e
		out.PrevStart, out.NextStart = occ.Prev, occ.Next
	}
	if stopRaw != "" {
		e, occ, err := v.evaluate("stop", stopRaw, now)
		if err != nil {
			return Validated{}, err
		}
		stop = e
		out.PrevStop, out.NextStop = occ.Prev, occ.Next
	}

	step := v.policy.MinuteStep
	if startRaw != "" && !start.MinuteAligned(step) {
		return Validated{}, granularityError("start", step)
	}
	if stopRaw != "" && !stop.MinuteAligned(step) {
		return Validated{}, granularityError("stop", step)
	}

	switch {
	case startRaw != "" && stopRaw != "":
		out.Mode = ModeBoth
	case startRaw != "":
		out.Mode = ModeStartOnly
		return out, nil
	default:
		out.Mode = ModeStopOnly
		return out, nil
	}

	if out.Running() {
		out.Uptime = out.NextStop.Sub(out.PrevStart)
		out.Downtime = out.PrevStart.Sub(out.PrevStop)
	} else {
		out.Uptime = out.PrevStop.Sub(out.PrevStart)
		out.Downtime = out.NextStart.Sub(out.PrevStop)
	}

	if out.Uptime < v.policy.MinUptime {
		return Validated{}, newError(WindowTooShort, "", "scheduled window too short",
			&WindowError{Window: "uptime", Duration: out.Uptime, Minimum: v.policy.MinUptime})
	}
	if out.Downtime < v.policy.MinDowntime {
		return Validated{}, newError(WindowTooShort, "", "scheduled window too short",
			&WindowError{Window: "downtime", Duration: out.Downtime, Minimum: v.policy.MinDowntime})
	}
	return out, nil
}

func (v *Validator) evaluate(field, raw string, now time.Time) (Expr, Occurrences, error) {
	e, err := ParseExpr(raw)
	if err != nil {
		return Expr{}, Occurrences{}, newError(InvalidCronExpression, field, "bad cron expression "+strconv.Quote(raw), err)
	}
	occ, err := e.occurrences(now, v.policy.Location)
	if err != nil {
		return Expr{}, Occurrences{}, newError(InvalidCronExpression, field, "bad cron expression "+strconv.Quote(raw), err)
	}
	return e, occ, nil
}

func granularityError(field string, step int) error {
	return newError(GranularityViolation, field, "schedule must be a multiple of "+strconv.Itoa(step)+" minutes", nil)
}
