// Package reconcile decides whether an instance should be started, stopped or
// left alone, given its validated schedule and observed power state.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"autostartstop/internal/schedule"
)

// PowerState is the observed state of an instance.
type PowerState string

const (
	StatePending      PowerState = "pending"
	StateRunning      PowerState = "running"
	StateStopping     PowerState = "stopping"
	StateStopped      PowerState = "stopped"
	StateShuttingDown PowerState = "shutting-down"
	StateTerminated   PowerState = "terminated"
	StateUnknown      PowerState = "unknown"
)

// ParsePowerState normalizes a provider state name. Unrecognized names map to
// StateUnknown, which is never acted on.
func ParsePowerState(s string) PowerState {
	switch ps := PowerState(strings.ToLower(strings.TrimSpace(s))); ps {
	case StatePending, StateRunning, StateStopping, StateStopped, StateShuttingDown, StateTerminated:
		return ps
	default:
		return StateUnknown
	}
}

// Action is the reconciliation outcome.
type Action int

const (
	NoAction Action = iota
	StartRequested
	StopRequested
)

func (a Action) String() string {
	switch a {
	case StartRequested:
		return "start"
	case StopRequested:
		return "stop"
	default:
		return "none"
	}
}

// Mode names the detection strategy used for a decision.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeSchedule Mode = "schedule"
	ModeTrigger  Mode = "trigger"
)

// Decision is the reconciler output for one instance.
type Decision struct {
	InstanceID string
	Mode       Mode
	Action     Action
	Reason     string
}

// Reconcile derives the action for instanceID.
//
// Schedules with both expressions use schedule detection: the desired state is
// whichever of start/stop occurred last (a tie means stopped). Single-expression
// schedules use trigger detection: the occurrence must equal trigger exactly.
// Only stopped instances are started and only running instances are stopped.
func Reconcile(instanceID string, s schedule.Validated, current PowerState, trigger time.Time) Decision {
	d := Decision{InstanceID: instanceID}

	switch s.Mode {
	case schedule.ModeBoth:
		d.Mode = ModeSchedule
		if s.Running() {
			d.Action, d.Reason = want(StateRunning, current,
				fmt.Sprintf("last start %s is after last stop %s", stamp(s.PrevStart), stamp(s.PrevStop)))
		} else {
			d.Action, d.Reason = want(StateStopped, current,
				fmt.Sprintf("last stop %s is not before last start %s", stamp(s.PrevStop), stamp(s.PrevStart)))
		}
	case schedule.ModeStartOnly:
		d.Mode = ModeTrigger
		if !s.PrevStart.Equal(trigger) {
			d.Reason = fmt.Sprintf("trigger %s does not match start %s", stamp(trigger), stamp(s.PrevStart))
			return d
		}
		d.Action, d.Reason = want(StateRunning, current, "start scheduled at trigger "+stamp(trigger))
	case schedule.ModeStopOnly:
		d.Mode = ModeTrigger
		if !s.PrevStop.Equal(trigger) {
			d.Reason = fmt.Sprintf("trigger %s does not match stop %s", stamp(trigger), stamp(s.PrevStop))
			return d
		}
		d.Action, d.Reason = want(StateStopped, current, "stop scheduled at trigger "+stamp(trigger))
	default:
		d.Mode = ModeDisabled
		d.Reason = "auto start-stop disabled"
	}
	return d
}

func want(desired, current PowerState, why string) (Action, string) {
	switch {
	case desired == StateRunning && current == StateStopped:
		return StartRequested, why
	case desired == StateStopped && current == StateRunning:
		return StopRequested, why
	case desired == current:
		return NoAction, why + "; already " + string(current)
	default:
		return NoAction, why + "; instance is " + string(current) + ", not acting"
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
