package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// robfig/cron gives up searching after five years; mirror that for lookback.
const maxLookback = 5 * 366 * 24 * time.Hour

var (
	errNoNext = errors.New("no next occurrence within five years")
	errNoPrev = errors.New("no previous occurrence within five years")
)

// Expr is a parsed recurrence expression.
type Expr struct {
	raw  string
	spec *cron.SpecSchedule
}

// ParseExpr parses a 5- or 6-field cron expression (descriptors like @daily and a
// CRON_TZ= prefix are accepted). Interval descriptors (@every) are rejected since
// they have no fixed occurrences to look back on.
func ParseExpr(raw string) (Expr, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Expr{}, errors.New("empty expression")
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return Expr{}, err
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return Expr{}, fmt.Errorf("%q has no fixed occurrences", s)
	}
	return Expr{raw: s, spec: spec}, nil
}

func (e Expr) String() string { return e.raw }

// Schedule exposes the expression for a cron runner.
func (e Expr) Schedule() cron.Schedule { return e.spec }

// Next returns the first occurrence strictly after t.
func (e Expr) Next(t time.Time) (time.Time, error) {
	n := e.spec.Next(t)
	if n.IsZero() {
		return time.Time{}, errNoNext
	}
	return n, nil
}

// Prev returns the latest occurrence at or before t.
func (e Expr) Prev(t time.Time) (time.Time, error) {
	for window := time.Hour; ; window *= 2 {
		if window > maxLookback {
			window = maxLookback
		}
		var last time.Time
		cursor := t.Add(-window)
		for {
			n := e.spec.Next(cursor)
			if n.IsZero() || n.After(t) {
				break
			}
			last, cursor = n, n
		}
		if !last.IsZero() {
			return last, nil
		}
		if window == maxLookback {
			return time.Time{}, errNoPrev
		}
	}
}

// MinuteAligned reports whether every minute the expression can fire on is a
// multiple of step.
func (e Expr) MinuteAligned(step int) bool {
	if step <= 1 {
		return true
	}
	for m := 0; m < 60; m++ {
		if e.spec.Minute&(1<<uint(m)) != 0 && m%step != 0 {
			return false
		}
	}
	return true
}

// Occurrences holds the occurrences of one expression around a reference time.
type Occurrences struct {
	Prev time.Time
	Next time.Time
}

// occurrences computes prev (<= now) and next (> now) in loc, unless the
// expression carries its own CRON_TZ.
func (e Expr) occurrences(now time.Time, loc *time.Location) (Occurrences, error) {
	if loc != nil {
		now = now.In(loc)
	}
	prev, err := e.Prev(now)
	if err != nil {
		return Occurrences{}, err
	}
	next, err := e.Next(now)
	if err != nil {
		return Occurrences{}, err
	}
	return Occurrences{Prev: prev, Next: next}, nil
}
