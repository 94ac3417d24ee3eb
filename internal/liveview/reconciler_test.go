package liveview

import (
	"reflect"
	"testing"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/filter"
)

func floatPtr(v float64) *float64 { return &v }

func latencyUnder(limit float64) filter.Criteria {
	return filter.Criteria{
		Numeric: []filter.NumericPredicate{{Field: domain.FieldLatencyMS, Op: filter.OpLT, Value: limit}},
	}
}

func event(agentID string, ts time.Time, fields map[string]float64) UpdateEvent {
	return UpdateEvent{AgentID: agentID, Timestamp: ts, Fields: fields}
}

func TestAbsentUntilFirstData(t *testing.T) {
	r := NewReconciler(filter.Criteria{}, RuleSet{})
	if got := r.State("a1"); got != StateAbsent {
		t.Fatalf("expected absent before any data, got %s", got)
	}
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	if got := r.Apply(event("a1", base, map[string]float64{domain.FieldLatencyMS: 50})); got != StateVisible {
		t.Fatalf("expected visible after first event under empty criteria, got %s", got)
	}
}

func TestVisibilityScenario(t *testing.T) {
	// Submit latency 80, then an update raising it to 2500; with
	// latency_ms < 500 the agent is visible only after the first.
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	r := NewReconciler(latencyUnder(500), RuleSet{})

	r.Seed([]domain.MetricRecord{{
		AgentID:         "a1",
		Timestamp:       base,
		LatencyMS:       floatPtr(80),
		CPUUsagePercent: floatPtr(30),
	}})
	if got := r.State("a1"); got != StateVisible {
		t.Fatalf("expected visible after 80ms submission, got %s", got)
	}

	state := r.Apply(event("a1", base.Add(time.Minute), map[string]float64{
		domain.FieldLatencyMS:       2500,
		domain.FieldCPUUsagePercent: 85,
	}))
	if state != StateHidden {
		t.Fatalf("expected hidden after 2500ms overwrite, got %s", state)
	}
}

func TestApplySameEventTwiceIsIdempotent(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	r := NewReconciler(filter.Criteria{}, RuleSet{})
	ev := event("a1", base, map[string]float64{domain.FieldLatencyMS: 120, "tokens": 5})

	r.Apply(ev)
	first, _ := r.Snapshot("a1")
	r.Apply(ev)
	second, _ := r.Snapshot("a1")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("duplicate delivery changed the snapshot: %+v vs %+v", first, second)
	}
}

func TestOutOfOrderEventDoesNotRegressNewerField(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	r := NewReconciler(filter.Criteria{}, RuleSet{})

	r.Apply(event("a1", base.Add(2*time.Minute), map[string]float64{domain.FieldLatencyMS: 200}))
	r.Apply(event("a1", base.Add(time.Minute), map[string]float64{domain.FieldLatencyMS: 999, domain.FieldCPUUsagePercent: 40}))

	view, ok := r.Snapshot("a1")
	if !ok {
		t.Fatalf("snapshot missing")
	}
	if view.Fields[domain.FieldLatencyMS] != 200 {
		t.Fatalf("older event regressed latency to %v", view.Fields[domain.FieldLatencyMS])
	}
	// A field the newer event never carried is still accepted from the
	// older one.
	if view.Fields[domain.FieldCPUUsagePercent] != 40 {
		t.Fatalf("older event's new field not merged: %v", view.Fields)
	}
	if !view.LastSeen.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("last seen should stay at the newest timestamp, got %s", view.LastSeen)
	}
}

func TestBurstConvergesToLastEvent(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	burst := NewReconciler(filter.Criteria{}, RuleSet{})
	direct := NewReconciler(filter.Criteria{}, RuleSet{})

	pre := event("a1", base, map[string]float64{domain.FieldLatencyMS: 10})
	burst.Apply(pre)
	direct.Apply(pre)

	var last UpdateEvent
	for i := 1; i <= 10; i++ {
		last = event("a1", base.Add(time.Duration(i)*time.Second), map[string]float64{
			domain.FieldLatencyMS: float64(100 * i),
		})
		burst.Apply(last)
	}
	direct.Apply(last)

	got, _ := burst.Snapshot("a1")
	want, _ := direct.Snapshot("a1")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("burst did not converge to the final event: %+v vs %+v", got, want)
	}
}

func TestCriteriaChangeRescansKnownAgents(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	r := NewReconciler(latencyUnder(500), RuleSet{})

	r.Apply(event("fast", base, map[string]float64{domain.FieldLatencyMS: 100}))
	r.Apply(event("slow", base, map[string]float64{domain.FieldLatencyMS: 900}))
	if r.State("fast") != StateVisible || r.State("slow") != StateHidden {
		t.Fatalf("unexpected initial states: fast=%s slow=%s", r.State("fast"), r.State("slow"))
	}

	// Loosen the filter: both become visible with no new data.
	r.SetCriteria(latencyUnder(1000))
	if r.State("slow") != StateVisible {
		t.Fatalf("criteria change did not re-evaluate slow agent")
	}

	// Tighten it: only fast survives.
	r.SetCriteria(latencyUnder(200))
	views := r.VisibleAgents()
	if len(views) != 1 || views[0].AgentID != "fast" {
		t.Fatalf("unexpected visible set after tightening: %+v", views)
	}
}

func TestAlertsDeriveAndClear(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	r := NewReconciler(filter.Criteria{}, DefaultRules())

	r.Apply(event("a1", base, map[string]float64{domain.FieldLatencyMS: 2000}))
	view, _ := r.Snapshot("a1")
	if len(view.Alerts) != 1 || view.Alerts[0].Severity != SeverityWarning {
		t.Fatalf("expected a latency warning, got %+v", view.Alerts)
	}

	r.Apply(event("a1", base.Add(time.Second), map[string]float64{domain.FieldLatencyMS: 3500}))
	view, _ = r.Snapshot("a1")
	if len(view.Alerts) != 1 || view.Alerts[0].Severity != SeverityCritical {
		t.Fatalf("expected escalation to critical, got %+v", view.Alerts)
	}

	// Alerts are a pure function of current state: they clear once the
	// value falls back under threshold.
	r.Apply(event("a1", base.Add(2*time.Second), map[string]float64{domain.FieldLatencyMS: 120}))
	view, _ = r.Snapshot("a1")
	if len(view.Alerts) != 0 {
		t.Fatalf("expected alerts to clear, got %+v", view.Alerts)
	}
}

func TestPerAgentRuleOverride(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	strict := 100.0
	rules := DefaultRules()
	rules.PerAgent = map[string][]Rule{
		"picky": {{Field: domain.FieldLatencyMS, Warning: &strict}},
	}
	r := NewReconciler(filter.Criteria{}, rules)

	r.Apply(event("picky", base, map[string]float64{domain.FieldLatencyMS: 150}))
	r.Apply(event("normal", base, map[string]float64{domain.FieldLatencyMS: 150}))

	picky, _ := r.Snapshot("picky")
	if len(picky.Alerts) != 1 || picky.Alerts[0].Threshold != strict {
		t.Fatalf("per-agent override not applied: %+v", picky.Alerts)
	}
	normal, _ := r.Snapshot("normal")
	if len(normal.Alerts) != 0 {
		t.Fatalf("global rules should not alert at 150ms: %+v", normal.Alerts)
	}
}

func TestSeedAfterEventsCannotRegress(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	r := NewReconciler(filter.Criteria{}, RuleSet{})

	r.Apply(event("a1", base.Add(time.Minute), map[string]float64{domain.FieldLatencyMS: 300}))
	r.Seed([]domain.MetricRecord{{AgentID: "a1", Timestamp: base, LatencyMS: floatPtr(80)}})

	view, _ := r.Snapshot("a1")
	if view.Fields[domain.FieldLatencyMS] != 300 {
		t.Fatalf("stale base snapshot regressed a newer field: %v", view.Fields)
	}
}
