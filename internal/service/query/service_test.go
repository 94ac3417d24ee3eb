package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/aggregate"
	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/filter"
	"github.com/ShanKonduru/sentinel-ai/internal/repository"
)

func floatPtr(v float64) *float64 { return &v }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestService(store *stubStore) *Service {
	return NewService(store, store, store, store, nil, Options{
		LivenessTimeout: 5 * time.Minute,
		ScanCap:         1000,
		ExportCap:       1000,
	})
}

func seedRecords(base time.Time) []domain.MetricRecord {
	return []domain.MetricRecord{
		{MetricID: "m1", AgentID: "a1", Timestamp: base, LatencyMS: floatPtr(80), CostPerRequest: floatPtr(0.25)},
		{MetricID: "m2", AgentID: "a1", Timestamp: base.Add(time.Minute), LatencyMS: floatPtr(600)},
		{MetricID: "m3", AgentID: "a2", Timestamp: base.Add(2 * time.Minute), LatencyMS: floatPtr(120), CustomMetrics: map[string]float64{"tokens": 42}},
		{MetricID: "m4", AgentID: "a2", Timestamp: base.Add(3 * time.Minute), CPUUsagePercent: floatPtr(90)},
	}
}

func TestQueryMetricsWithoutCriteriaPaginatesAtTheStore(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	store := newStubStore(seedRecords(base)...)
	svc := newTestService(store)
	svc.now = fixedClock(base.Add(time.Hour))

	page, err := svc.QueryMetrics(context.Background(), MetricsRequest{Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 4 {
		t.Fatalf("expected total 4, got %d", page.Total)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records in page, got %d", len(page.Records))
	}
	if page.Records[0].MetricID != "m4" {
		t.Fatalf("expected newest record first, got %s", page.Records[0].MetricID)
	}
}

func TestQueryMetricsFiltersThenPaginates(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	store := newStubStore(seedRecords(base)...)
	svc := newTestService(store)
	svc.now = fixedClock(base.Add(time.Hour))

	criteria := filter.Criteria{
		Numeric: []filter.NumericPredicate{{Field: domain.FieldLatencyMS, Op: filter.OpLT, Value: 500}},
	}
	page, err := svc.QueryMetrics(context.Background(), MetricsRequest{Criteria: criteria, Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// m1 and m3 are under 500ms; m2 is over and m4 has no latency at all.
	if page.Total != 2 {
		t.Fatalf("expected total 2 after filtering, got %d", page.Total)
	}
	if len(page.Records) != 1 || page.Records[0].MetricID != "m3" {
		t.Fatalf("expected page [m3], got %+v", page.Records)
	}

	second, err := svc.QueryMetrics(context.Background(), MetricsRequest{Criteria: criteria, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("query offset: %v", err)
	}
	if len(second.Records) != 1 || second.Records[0].MetricID != "m1" {
		t.Fatalf("expected page [m1], got %+v", second.Records)
	}
}

func TestQueryMetricsOffsetPastEndReportsTotal(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	store := newStubStore(seedRecords(base)...)
	svc := newTestService(store)
	svc.now = fixedClock(base.Add(time.Hour))

	criteria := filter.Criteria{
		Numeric: []filter.NumericPredicate{{Field: domain.FieldLatencyMS, Op: filter.OpLT, Value: 500}},
	}
	page, err := svc.QueryMetrics(context.Background(), MetricsRequest{Criteria: criteria, Offset: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 2 || len(page.Records) != 0 {
		t.Fatalf("expected empty page with total 2, got total %d and %d records", page.Total, len(page.Records))
	}
}

func TestQueryMetricsStoreFailureIsNotEmpty(t *testing.T) {
	store := newStubStore()
	store.failWith = repository.ErrUnavailable
	svc := newTestService(store)

	_, err := svc.QueryMetrics(context.Background(), MetricsRequest{})
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable to propagate, got %v", err)
	}
}

func TestListAgentsDerivesStatusFromRecency(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	store := newStubStore()
	store.agents["fresh"] = domain.Agent{AgentID: "fresh", Status: domain.StatusRunning, LastSeen: base}
	store.agents["stale"] = domain.Agent{AgentID: "stale", Status: domain.StatusRunning, LastSeen: base.Add(-time.Hour)}
	svc := newTestService(store)
	svc.now = fixedClock(base.Add(time.Minute))

	agents, total, err := svc.ListAgents(context.Background(), "", 0, 0)
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	byID := map[string]domain.Agent{}
	for _, a := range agents {
		byID[a.AgentID] = a
	}
	if byID["fresh"].Status != domain.StatusRunning {
		t.Fatalf("expected fresh agent running, got %s", byID["fresh"].Status)
	}
	if byID["stale"].Status != domain.StatusUnknown {
		t.Fatalf("expected stale agent unknown, got %s", byID["stale"].Status)
	}

	// The filter sees derived status: the stale agent still stores "running".
	agents, total, err = svc.ListAgents(context.Background(), "unknown", 0, 0)
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if total != 1 || len(agents) != 1 || agents[0].AgentID != "stale" {
		t.Fatalf("unexpected filtered result: total=%d agents=%+v", total, agents)
	}

	if _, _, err := svc.ListAgents(context.Background(), "bogus", 0, 0); err == nil {
		t.Fatal("expected validation error for unknown status filter")
	}
}

func TestAggregateMetricsGroupsByAgent(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	store := newStubStore(seedRecords(base)...)
	svc := newTestService(store)
	svc.now = fixedClock(base.Add(time.Hour))

	res, err := svc.AggregateMetrics(context.Background(), "", filter.Criteria{}, aggregate.GroupByAgent, 0)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if res.TotalMatched != 4 {
		t.Fatalf("expected 4 matched, got %d", res.TotalMatched)
	}
	if len(res.Groups) != 2 {
		t.Fatalf("expected 2 agent groups, got %d", len(res.Groups))
	}
}

func TestPresetRoundTrip(t *testing.T) {
	store := newStubStore()
	svc := newTestService(store)

	criteria := filter.Criteria{
		Numeric: []filter.NumericPredicate{{Field: domain.FieldLatencyMS, Op: filter.OpLT, Value: 500}},
		Window:  &filter.TimeWindow{Named: "6h"},
	}
	if _, err := svc.SavePreset(context.Background(), "u1", "slow-agents", criteria); err != nil {
		t.Fatalf("save preset: %v", err)
	}

	_, loaded, err := svc.GetPreset(context.Background(), "u1", "slow-agents")
	if err != nil {
		t.Fatalf("get preset: %v", err)
	}
	if len(loaded.Numeric) != 1 || loaded.Numeric[0].Value != 500 {
		t.Fatalf("criteria did not round-trip: %+v", loaded)
	}
	if loaded.Window.Named != "6h" {
		t.Fatalf("named window did not round-trip: %+v", loaded.Window)
	}

	presets, err := svc.ListPresets(context.Background(), "u1")
	if err != nil || len(presets) != 1 {
		t.Fatalf("expected 1 preset, got %d (err %v)", len(presets), err)
	}
	if err := svc.DeletePreset(context.Background(), "u1", "slow-agents"); err != nil {
		t.Fatalf("delete preset: %v", err)
	}
	if _, _, err := svc.GetPreset(context.Background(), "u1", "slow-agents"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSavePresetRequiresName(t *testing.T) {
	svc := newTestService(newStubStore())
	if _, err := svc.SavePreset(context.Background(), "u1", "  ", filter.Criteria{}); err == nil {
		t.Fatal("expected validation error for blank name")
	}
}

func TestExportCSVLayout(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	store := newStubStore(
		domain.MetricRecord{MetricID: "m1", AgentID: "a1", Timestamp: base.Add(time.Minute), LatencyMS: floatPtr(80)},
		domain.MetricRecord{MetricID: "m2", AgentID: "a1", Timestamp: base, LatencyMS: floatPtr(120), CustomMetrics: map[string]float64{"tokens": 7}},
	)
	svc := newTestService(store)
	svc.now = fixedClock(base.Add(time.Hour))

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), &buf, "", filter.Criteria{}, FormatCSV)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows exported, got %d", n)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	wantHeader := "timestamp,agent_id,latency_ms,throughput_req_per_min,cost_per_request,cpu_usage_percent,gpu_usage_percent,memory_usage_mb,custom_metrics"
	if lines[0] != wantHeader {
		t.Fatalf("unexpected header %q", lines[0])
	}
	// Rows come out oldest first even though the store returns newest
	// first.
	if !strings.Contains(lines[1], "tokens") {
		t.Fatalf("expected oldest record (with custom metrics) first, got %q", lines[1])
	}
}

func TestExportJSON(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	store := newStubStore(
		domain.MetricRecord{MetricID: "m1", AgentID: "a1", Timestamp: base, LatencyMS: floatPtr(80)},
	)
	svc := newTestService(store)
	svc.now = fixedClock(base.Add(time.Hour))

	var buf bytes.Buffer
	if _, err := svc.Export(context.Background(), &buf, "", filter.Criteria{}, FormatJSON); err != nil {
		t.Fatalf("export: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(out) != 1 || out[0]["agent_id"] != "a1" {
		t.Fatalf("unexpected export payload %+v", out)
	}
}

func TestExportRejectsOversizedResult(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	records := make([]domain.MetricRecord, 5)
	for i := range records {
		records[i] = domain.MetricRecord{
			MetricID:  string(rune('a' + i)),
			AgentID:   "a1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			LatencyMS: floatPtr(10),
		}
	}
	store := newStubStore(records...)
	svc := NewService(store, store, store, store, nil, Options{ExportCap: 3, ScanCap: 1000})
	svc.now = fixedClock(base.Add(time.Hour))

	var buf bytes.Buffer
	_, err := svc.Export(context.Background(), &buf, "", filter.Criteria{}, FormatCSV)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for oversized export, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("expected no partial output on rejection")
	}
}

func TestExportRejectsWindowLargerThanScanCap(t *testing.T) {
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	records := make([]domain.MetricRecord, 5)
	for i := range records {
		records[i] = domain.MetricRecord{
			MetricID:  string(rune('a' + i)),
			AgentID:   "a1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			LatencyMS: floatPtr(10),
		}
	}
	store := newStubStore(records...)
	// Equal caps are the production default; the store paginates the scan to
	// 3 rows so a silent export would come back short instead of failing.
	svc := NewService(store, store, store, store, nil, Options{ExportCap: 3, ScanCap: 3})
	svc.now = fixedClock(base.Add(time.Hour))

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), &buf, "", filter.Criteria{}, FormatCSV)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError when the window exceeds the scan cap, got %v (n=%d)", err, n)
	}
	if verr.Field != "export" {
		t.Fatalf("expected export field on the error, got %q", verr.Field)
	}
	if buf.Len() != 0 {
		t.Fatal("expected no partial output on rejection")
	}
}

// stubStore implements every repository interface in memory.
type stubStore struct {
	mu       sync.Mutex
	metrics  []domain.MetricRecord
	agents   map[string]domain.Agent
	presets  map[string]domain.FilterPreset
	rollups  []domain.MetricRollup
	failWith error
}

func newStubStore(records ...domain.MetricRecord) *stubStore {
	return &stubStore{
		metrics: records,
		agents:  make(map[string]domain.Agent),
		presets: make(map[string]domain.FilterPreset),
	}
}

func (s *stubStore) InsertMetric(_ context.Context, record *domain.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, *record)
	return nil
}

func (s *stubStore) ListMetrics(_ context.Context, q repository.MetricQuery) ([]domain.MetricRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, 0, s.failWith
	}
	matched := make([]domain.MetricRecord, 0)
	for _, rec := range s.metrics {
		if q.AgentID != "" && rec.AgentID != q.AgentID {
			continue
		}
		if q.Start != nil && rec.Timestamp.Before(*q.Start) {
			continue
		}
		if q.End != nil && !rec.Timestamp.Before(*q.End) {
			continue
		}
		matched = append(matched, rec)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	total := len(matched)
	offset := q.Offset
	if offset > total {
		offset = total
	}
	end := total
	if q.Limit > 0 && offset+q.Limit < end {
		end = offset + q.Limit
	}
	return matched[offset:end], total, nil
}

func (s *stubStore) UpsertAgentOnMetric(_ context.Context, agent *domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.AgentID] = *agent
	return nil
}

func (s *stubStore) GetAgent(_ context.Context, agentID string) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &agent, nil
}

func (s *stubStore) ListAgents(context.Context) ([]domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agents := make([]domain.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		agents = append(agents, agent)
	}
	return agents, nil
}

func presetKey(userID, name string) string { return userID + "/" + name }

func (s *stubStore) UpsertPreset(_ context.Context, preset *domain.FilterPreset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	preset.UpdatedAt = time.Now()
	s.presets[presetKey(preset.UserID, preset.Name)] = *preset
	return nil
}

func (s *stubStore) GetPreset(_ context.Context, userID, name string) (*domain.FilterPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	preset, ok := s.presets[presetKey(userID, name)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &preset, nil
}

func (s *stubStore) ListPresets(_ context.Context, userID string) ([]domain.FilterPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	presets := make([]domain.FilterPreset, 0)
	for _, preset := range s.presets {
		if preset.UserID == userID {
			presets = append(presets, preset)
		}
	}
	return presets, nil
}

func (s *stubStore) DeletePreset(_ context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := presetKey(userID, name)
	if _, ok := s.presets[key]; !ok {
		return repository.ErrNotFound
	}
	delete(s.presets, key)
	return nil
}

func (s *stubStore) UpsertRollups(_ context.Context, rollups []domain.MetricRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups = append(s.rollups, rollups...)
	return nil
}

func (s *stubStore) ListRollups(context.Context, string, time.Duration, int) ([]domain.MetricRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rollups := make([]domain.MetricRollup, len(s.rollups))
	copy(rollups, s.rollups)
	return rollups, nil
}
