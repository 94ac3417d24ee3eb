package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/filter"
	"github.com/ShanKonduru/sentinel-ai/internal/liveview"
)

const defaultSeedLimit = 500

// SessionOptions configures one live dashboard session.
type SessionOptions struct {
	// AgentID narrows both the base query and the stream subscription to one
	// agent; empty follows the whole fleet.
	AgentID string
	// Criteria is the session's active filter.
	Criteria filter.Criteria
	// RulesPath points at a YAML alert rule file; empty uses built-in
	// thresholds.
	RulesPath string
	// SeedLimit caps the number of records loaded by Seed.
	SeedLimit int
}

// Session couples the query client, the real-time stream and the view
// reconciler for one dashboard consumer. Stream events are applied to the
// reconciler in arrival order; accessors always observe converged state.
type Session struct {
	client *Client
	stream *Stream
	rec    *liveview.Reconciler
	opts   SessionOptions
}

// NewSession builds a session against the given API base URL.
func NewSession(base string, opts SessionOptions, logger *slog.Logger) (*Session, error) {
	cli, err := New(base)
	if err != nil {
		return nil, err
	}
	rules, err := liveview.LoadRules(opts.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load alert rules: %w", err)
	}
	if opts.SeedLimit <= 0 {
		opts.SeedLimit = defaultSeedLimit
	}
	rec := liveview.NewReconciler(opts.Criteria, rules)
	stream, err := NewStream(base, opts.AgentID, func(ev liveview.UpdateEvent) {
		rec.Apply(ev)
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Session{client: cli, stream: stream, rec: rec, opts: opts}, nil
}

// Client exposes the underlying query client for ad-hoc requests.
func (s *Session) Client() *Client {
	return s.client
}

// OnStateChange registers a connection transition callback. Must be called
// before Run.
func (s *Session) OnStateChange(fn StateHandler) {
	s.stream.OnStateChange(fn)
}

// Seed loads the base query result into the reconciler. Records already
// superseded by streamed events cannot regress the view.
func (s *Session) Seed(ctx context.Context) error {
	criteria, err := filter.MarshalCriteria(s.opts.Criteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	page, err := s.client.QueryMetrics(ctx, MetricQuery{
		AgentID: s.opts.AgentID,
		Filter:  criteria,
		Limit:   s.opts.SeedLimit,
	})
	if err != nil {
		return fmt.Errorf("base query: %w", err)
	}
	records := make([]domain.MetricRecord, 0, len(page.Metrics))
	for _, m := range page.Metrics {
		records = append(records, toDomainRecord(m))
	}
	s.rec.Seed(records)
	return nil
}

// Run consumes the stream until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	return s.stream.Run(ctx)
}

// SetCriteria swaps the active filter and re-evaluates every known agent.
func (s *Session) SetCriteria(criteria filter.Criteria) {
	s.opts.Criteria = criteria
	s.rec.SetCriteria(criteria)
}

// VisibleAgents returns the agents currently passing the filter.
func (s *Session) VisibleAgents() []liveview.View {
	return s.rec.VisibleAgents()
}

// Snapshot returns the reconciled view of one agent.
func (s *Session) Snapshot(agentID string) (liveview.View, bool) {
	return s.rec.Snapshot(agentID)
}

// State reports an agent's visibility state.
func (s *Session) State(agentID string) liveview.State {
	return s.rec.State(agentID)
}

func toDomainRecord(m Metric) domain.MetricRecord {
	rec := domain.MetricRecord{
		MetricID:            m.MetricID,
		AgentID:             m.AgentID,
		Timestamp:           m.Timestamp.UTC(),
		LatencyMS:           m.LatencyMS,
		ThroughputReqPerMin: m.ThroughputReqPerMin,
		CostPerRequest:      m.CostPerRequest,
		CPUUsagePercent:     m.CPUUsagePercent,
		GPUUsagePercent:     m.GPUUsagePercent,
		MemoryUsageMB:       m.MemoryUsageMB,
		CustomMetrics:       m.CustomMetrics,
		Tags:                m.Tags,
	}
	if !m.IngestedAt.IsZero() {
		rec.IngestedAt = m.IngestedAt.UTC()
	}
	return rec
}
