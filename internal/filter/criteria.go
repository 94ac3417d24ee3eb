// Package filter implements the predicate engine that decides which metric
// records and agent snapshots are visible for a given set of dashboard
// criteria. Evaluation is a pure function of the snapshot, the criteria and
// the supplied clock; the clock only matters for named time ranges, which
// resolve at evaluation time so repeated evaluation yields a moving window.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
)

// Snapshot is the view of a record or reconciled agent state the engine
// evaluates against. Both domain.MetricRecord and the live view's agent
// snapshot satisfy it.
type Snapshot interface {
	MetricValue(name string) (float64, bool)
	TagValue(name string) (string, bool)
	ObservedAt() time.Time
}

// Op is a numeric comparison operator.
type Op string

const (
	OpLT Op = "lt"
	OpLE Op = "le"
	OpGT Op = "gt"
	OpGE Op = "ge"
	OpEQ Op = "eq"
)

// ParseOp accepts both symbolic and mnemonic operator spellings.
func ParseOp(s string) (Op, error) {
	switch s {
	case "lt", "<":
		return OpLT, nil
	case "le", "<=":
		return OpLE, nil
	case "gt", ">":
		return OpGT, nil
	case "ge", ">=":
		return OpGE, nil
	case "eq", "==", "=":
		return OpEQ, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// NumericPredicate compares a numeric field against a constant. A record
// missing the field fails closed unless IgnoreAbsent is set.
type NumericPredicate struct {
	Field        string
	Op           Op
	Value        float64
	IgnoreAbsent bool
}

func (p NumericPredicate) matches(s Snapshot) bool {
	v, ok := s.MetricValue(p.Field)
	if !ok {
		return p.IgnoreAbsent
	}
	switch p.Op {
	case OpLT:
		return v < p.Value
	case OpLE:
		return v <= p.Value
	case OpGT:
		return v > p.Value
	case OpGE:
		return v >= p.Value
	case OpEQ:
		return v == p.Value
	}
	return false
}

// CategoricalPredicate is a case-sensitive exact match on a tag value.
// Snapshots without the tag are excluded.
type CategoricalPredicate struct {
	Tag   string
	Value string
}

func (p CategoricalPredicate) matches(s Snapshot) bool {
	v, ok := s.TagValue(p.Tag)
	return ok && v == p.Value
}

// TimeWindow restricts observations to [start, end). Named ranges such as
// "6h" resolve to [now-d, now) at every evaluation.
type TimeWindow struct {
	Start *time.Time
	End   *time.Time
	Named string
}

// Bounds resolves the window's absolute bounds at the given instant. A zero
// bound means unbounded on that side.
func (w TimeWindow) Bounds(now time.Time) (time.Time, time.Time, error) {
	if w.Named != "" {
		d, err := ParseNamedRange(w.Named)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return now.Add(-d), now, nil
	}
	var start, end time.Time
	if w.Start != nil {
		start = *w.Start
	}
	if w.End != nil {
		end = *w.End
	}
	return start, end, nil
}

func (w TimeWindow) matches(s Snapshot, now time.Time) bool {
	start, end, err := w.Bounds(now)
	if err != nil {
		return false
	}
	ts := s.ObservedAt()
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && !ts.Before(end) {
		return false
	}
	return true
}

// ParseNamedRange resolves a named range to a duration. Hours, minutes and
// seconds use Go duration syntax; a trailing "d" or "w" is accepted for days
// and weeks ("24h", "7d", "2w").
func ParseNamedRange(name string) (time.Duration, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return 0, fmt.Errorf("empty time range")
	}
	if unit := trimmed[len(trimmed)-1]; unit == 'd' || unit == 'w' {
		n, err := strconv.Atoi(trimmed[:len(trimmed)-1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid time range %q", name)
		}
		d := time.Duration(n) * 24 * time.Hour
		if unit == 'w' {
			d *= 7
		}
		return d, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid time range %q", name)
	}
	return d, nil
}

// Criteria is a composable, ordered set of predicates. Predicate groups
// combine with logical AND; empty criteria match everything.
type Criteria struct {
	Numeric     []NumericPredicate
	Categorical []CategoricalPredicate
	Window      *TimeWindow
	Text        *TextQuery
}

// Empty reports whether no predicate group is set.
func (c Criteria) Empty() bool {
	return len(c.Numeric) == 0 && len(c.Categorical) == 0 && c.Window == nil && c.Text == nil
}

// Matches evaluates the criteria against a snapshot at the given instant.
func (c Criteria) Matches(s Snapshot, now time.Time) bool {
	for _, p := range c.Numeric {
		if !p.matches(s) {
			return false
		}
	}
	for _, p := range c.Categorical {
		if !p.matches(s) {
			return false
		}
	}
	if c.Window != nil && !c.Window.matches(s, now) {
		return false
	}
	if c.Text != nil && !c.Text.matches(s) {
		return false
	}
	return true
}

// validNumericField reports whether a predicate field is a standard metric
// field. Custom metric names are allowed through with a "custom." prefix
// stripped; bare unknown names are rejected at the boundary.
func validNumericField(name string) (string, bool) {
	for _, f := range domain.MetricFields {
		if f == name {
			return name, true
		}
	}
	if rest, ok := strings.CutPrefix(name, "custom."); ok && rest != "" {
		return rest, true
	}
	return "", false
}
