// Package liveview maintains the materialized per-agent current state for a
// dashboard session: a base query snapshot merged with streamed update
// events, re-evaluated against the session's filter criteria.
package liveview

import (
	"sort"
	"sync"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/filter"
)

// State is the visibility of an agent within a session.
type State string

const (
	StateAbsent  State = "absent"
	StateVisible State = "visible"
	StateHidden  State = "hidden"
)

// UpdateEvent is one incremental update from the delivery channel. Delivery
// is at-least-once and unordered across network hops; the reconciler's merge
// rule absorbs both.
type UpdateEvent struct {
	AgentID   string
	Name      string
	Timestamp time.Time
	Fields    map[string]float64
	Tags      map[string]string
}

// EventFromRecord converts a metric record into the equivalent update event.
func EventFromRecord(rec domain.MetricRecord) UpdateEvent {
	ev := UpdateEvent{
		AgentID:   rec.AgentID,
		Timestamp: rec.Timestamp,
		Fields:    make(map[string]float64),
	}
	for _, f := range domain.MetricFields {
		if v, ok := rec.MetricValue(f); ok {
			ev.Fields[f] = v
		}
	}
	for name, v := range rec.CustomMetrics {
		ev.Fields[name] = v
	}
	if len(rec.Tags) > 0 {
		ev.Tags = make(map[string]string, len(rec.Tags))
		for k, v := range rec.Tags {
			ev.Tags[k] = v
		}
	}
	return ev
}

type timedValue struct {
	value float64
	ts    time.Time
}

type timedTag struct {
	value string
	ts    time.Time
}

// AgentSnapshot is the reconciled current state of one agent. It implements
// filter.Snapshot so the same predicate engine decides visibility.
type AgentSnapshot struct {
	AgentID  string
	Name     string
	LastSeen time.Time
	fields   map[string]timedValue
	tags     map[string]timedTag
}

// MetricValue returns the latest reconciled value for a field.
func (s *AgentSnapshot) MetricValue(name string) (float64, bool) {
	v, ok := s.fields[name]
	if !ok {
		return 0, false
	}
	return v.value, true
}

// TagValue resolves tags plus the agent_id and name pseudo-tags.
func (s *AgentSnapshot) TagValue(name string) (string, bool) {
	switch name {
	case "agent_id":
		return s.AgentID, s.AgentID != ""
	case "name":
		if s.Name != "" {
			return s.Name, true
		}
	}
	v, ok := s.tags[name]
	if !ok {
		return "", false
	}
	return v.value, true
}

// ObservedAt reports the newest event timestamp merged into the snapshot.
func (s *AgentSnapshot) ObservedAt() time.Time {
	return s.LastSeen
}

// Fields returns a copy of the current field values.
func (s *AgentSnapshot) Fields() map[string]float64 {
	out := make(map[string]float64, len(s.fields))
	for name, v := range s.fields {
		out[name] = v.value
	}
	return out
}

// merge applies an event with field-level last-write-wins by timestamp. An
// update only overwrites a field when its timestamp is not older than the
// field's current timestamp; out-of-order events still advance nothing but
// are accepted without error.
func (s *AgentSnapshot) merge(ev UpdateEvent) {
	for name, value := range ev.Fields {
		cur, ok := s.fields[name]
		if !ok || !ev.Timestamp.Before(cur.ts) {
			s.fields[name] = timedValue{value: value, ts: ev.Timestamp}
		}
	}
	for name, value := range ev.Tags {
		cur, ok := s.tags[name]
		if !ok || !ev.Timestamp.Before(cur.ts) {
			s.tags[name] = timedTag{value: value, ts: ev.Timestamp}
		}
	}
	if ev.Name != "" && ev.Timestamp.After(s.LastSeen) {
		s.Name = ev.Name
	}
	if ev.Timestamp.After(s.LastSeen) {
		s.LastSeen = ev.Timestamp
	}
}

// View is the externally visible reconciled state of one agent.
type View struct {
	AgentID  string
	Name     string
	State    State
	LastSeen time.Time
	Fields   map[string]float64
	Alerts   []Alert
}

type agentEntry struct {
	snap  *AgentSnapshot
	state State
}

// Reconciler tracks reconciled agent state for a single dashboard session.
// It is single-consumer by design: events for the session must be applied in
// the order received from the delivery channel. The mutex only guards the
// accessors that a UI may call concurrently with event application.
type Reconciler struct {
	mu       sync.Mutex
	criteria filter.Criteria
	rules    RuleSet
	agents   map[string]*agentEntry
	now      func() time.Time
}

// NewReconciler creates a reconciler with the session's initial criteria and
// alert rules.
func NewReconciler(criteria filter.Criteria, rules RuleSet) *Reconciler {
	return &Reconciler{
		criteria: criteria,
		rules:    rules,
		agents:   make(map[string]*agentEntry),
		now:      time.Now,
	}
}

// Seed initializes the session from a base query result. Records are merged
// with the usual rule, so seeding after events have arrived cannot regress
// newer field values.
func (r *Reconciler) Seed(records []domain.MetricRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.applyLocked(EventFromRecord(rec))
	}
}

// Apply merges one update event and re-evaluates the agent's visibility. It
// returns the agent's state after the merge. Applying the same event twice
// is a no-op after the first application.
func (r *Reconciler) Apply(ev UpdateEvent) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(ev)
}

func (r *Reconciler) applyLocked(ev UpdateEvent) State {
	if ev.AgentID == "" {
		return StateAbsent
	}
	entry, ok := r.agents[ev.AgentID]
	if !ok {
		entry = &agentEntry{
			snap: &AgentSnapshot{
				AgentID: ev.AgentID,
				fields:  make(map[string]timedValue),
				tags:    make(map[string]timedTag),
			},
			state: StateAbsent,
		}
		r.agents[ev.AgentID] = entry
	}
	entry.snap.merge(ev)
	entry.state = r.evaluate(entry.snap)
	return entry.state
}

// SetCriteria replaces the active criteria and re-evaluates every known
// agent against them without waiting for new data. O(agents known).
func (r *Reconciler) SetCriteria(criteria filter.Criteria) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.criteria = criteria
	for _, entry := range r.agents {
		entry.state = r.evaluate(entry.snap)
	}
}

func (r *Reconciler) evaluate(snap *AgentSnapshot) State {
	if r.criteria.Matches(snap, r.now()) {
		return StateVisible
	}
	return StateHidden
}

// State reports an agent's current visibility.
func (r *Reconciler) State(agentID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[agentID]
	if !ok {
		return StateAbsent
	}
	return entry.state
}

// Snapshot returns the reconciled view of one agent, with alerts derived
// from the current snapshot. Alerts are never stored; they clear on their
// own once values fall back below threshold.
func (r *Reconciler) Snapshot(agentID string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[agentID]
	if !ok {
		return View{AgentID: agentID, State: StateAbsent}, false
	}
	return r.viewLocked(entry), true
}

// VisibleAgents lists the views of all agents whose latest state matches the
// active criteria, sorted by agent id.
func (r *Reconciler) VisibleAgents() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	views := make([]View, 0, len(r.agents))
	for _, entry := range r.agents {
		if entry.state != StateVisible {
			continue
		}
		views = append(views, r.viewLocked(entry))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].AgentID < views[j].AgentID })
	return views
}

func (r *Reconciler) viewLocked(entry *agentEntry) View {
	return View{
		AgentID:  entry.snap.AgentID,
		Name:     entry.snap.Name,
		State:    entry.state,
		LastSeen: entry.snap.LastSeen,
		Fields:   entry.snap.Fields(),
		Alerts:   r.rules.Evaluate(entry.snap.AgentID, entry.snap),
	}
}
