package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/aggregate"
	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/filter"
	"github.com/ShanKonduru/sentinel-ai/internal/repository"
)

const (
	defaultPageSize = 100
	defaultScanCap  = 50000
)

// Service answers dashboard reads: agent listings, filtered metric queries,
// aggregations, exports, and saved presets. It never mutates metric data.
type Service struct {
	metrics         repository.MetricRepository
	agents          repository.AgentRepository
	presets         repository.PresetRepository
	rollups         repository.RollupRepository
	livenessTimeout time.Duration
	scanCap         int
	exportCap       int
	logger          *slog.Logger
	now             func() time.Time
}

// Options tune the query service. Zero values fall back to defaults.
type Options struct {
	LivenessTimeout time.Duration
	ScanCap         int
	ExportCap       int
}

// NewService constructs a query Service.
func NewService(metrics repository.MetricRepository, agents repository.AgentRepository, presets repository.PresetRepository, rollups repository.RollupRepository, logger *slog.Logger, opts Options) *Service {
	if opts.LivenessTimeout <= 0 {
		opts.LivenessTimeout = 5 * time.Minute
	}
	if opts.ScanCap <= 0 {
		opts.ScanCap = defaultScanCap
	}
	if opts.ExportCap <= 0 {
		opts.ExportCap = defaultScanCap
	}
	if logger != nil {
		logger = logger.With("component", "query")
	}
	return &Service{
		metrics:         metrics,
		agents:          agents,
		presets:         presets,
		rollups:         rollups,
		livenessTimeout: opts.LivenessTimeout,
		scanCap:         opts.ScanCap,
		exportCap:       opts.ExportCap,
		logger:          logger,
		now:             time.Now,
	}
}

// MetricsRequest describes one filtered metric page.
type MetricsRequest struct {
	AgentID  string
	Criteria filter.Criteria
	Limit    int
	Offset   int
}

// MetricsPage is a page of records plus the total match count.
type MetricsPage struct {
	Records []domain.MetricRecord
	Total   int
}

// ListAgents returns one page of registered agents with their effective
// status derived from metric recency, plus the total count of agents passing
// the status filter. The filter applies to the derived status, not the stored
// one, so a stale "running" agent is found under status=unknown.
func (s *Service) ListAgents(ctx context.Context, statusFilter string, limit, offset int) ([]domain.Agent, int, error) {
	var want domain.Status
	if statusFilter = strings.TrimSpace(statusFilter); statusFilter != "" {
		parsed, err := domain.ParseStatus(statusFilter)
		if err != nil {
			return nil, 0, &domain.ValidationError{Field: "status", Constraint: "unknown agent status", Value: statusFilter}
		}
		want = parsed
	}
	agents, err := s.agents.ListAgents(ctx)
	if err != nil {
		return nil, 0, err
	}
	now := s.now().UTC()
	matched := agents[:0:0]
	for i := range agents {
		agents[i].Status = domain.DeriveStatus(agents[i].Status, agents[i].LastSeen, now, s.livenessTimeout)
		if want == "" || agents[i].Status == want {
			matched = append(matched, agents[i])
		}
	}
	total := len(matched)
	if offset > 0 {
		if offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[offset:]
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// GetAgent returns one agent with its derived status.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := s.agents.GetAgent(ctx, strings.TrimSpace(agentID))
	if err != nil {
		return nil, err
	}
	agent.Status = domain.DeriveStatus(agent.Status, agent.LastSeen, s.now().UTC(), s.livenessTimeout)
	return agent, nil
}

// AgentSummary computes per-agent statistics over the agent's stored records
// inside the optional window.
func (s *Service) AgentSummary(ctx context.Context, agentID string, window *filter.TimeWindow) (aggregate.AgentSummary, error) {
	agentID = strings.TrimSpace(agentID)
	if _, err := s.agents.GetAgent(ctx, agentID); err != nil {
		return aggregate.AgentSummary{}, err
	}
	records, _, err := s.scan(ctx, agentID, window)
	if err != nil {
		return aggregate.AgentSummary{}, err
	}
	return aggregate.Summary(records, agentID), nil
}

// QueryMetrics returns one page of records matching the criteria, newest
// first. When the criteria carry nothing the store paginates directly;
// otherwise the window-bounded candidate set is filtered in memory and the
// page is cut from the filtered sequence, so Total always counts matches.
func (s *Service) QueryMetrics(ctx context.Context, req MetricsRequest) (MetricsPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	if req.Criteria.Empty() {
		records, total, err := s.metrics.ListMetrics(ctx, repository.MetricQuery{
			AgentID: req.AgentID,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			return MetricsPage{}, err
		}
		return MetricsPage{Records: records, Total: total}, nil
	}

	now := s.now().UTC()
	matched, _, err := s.matchedRecords(ctx, req.AgentID, req.Criteria, now)
	if err != nil {
		return MetricsPage{}, err
	}
	total := len(matched)
	if offset >= total {
		return MetricsPage{Records: []domain.MetricRecord{}, Total: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return MetricsPage{Records: matched[offset:end], Total: total}, nil
}

// AggregateMetrics filters and groups records in one pass.
func (s *Service) AggregateMetrics(ctx context.Context, agentID string, criteria filter.Criteria, groupBy aggregate.GroupBy, bucketSize time.Duration) (aggregate.Result, error) {
	now := s.now().UTC()
	records, _, err := s.scan(ctx, agentID, criteria.Window)
	if err != nil {
		return aggregate.Result{}, err
	}
	return aggregate.Aggregate(records, criteria, groupBy, bucketSize, now)
}

// ListRollups exposes the pre-aggregated buckets for one agent.
func (s *Service) ListRollups(ctx context.Context, agentID string, bucketSpan time.Duration, limit int) ([]domain.MetricRollup, error) {
	return s.rollups.ListRollups(ctx, strings.TrimSpace(agentID), bucketSpan, limit)
}

// SavePreset stores named criteria for a user, overwriting any previous
// preset with the same name.
func (s *Service) SavePreset(ctx context.Context, userID, name string, criteria filter.Criteria) (*domain.FilterPreset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Constraint: "must not be empty"}
	}
	payload, err := filter.MarshalCriteria(criteria)
	if err != nil {
		return nil, err
	}
	preset := &domain.FilterPreset{UserID: userID, Name: name, Criteria: payload}
	if err := s.presets.UpsertPreset(ctx, preset); err != nil {
		return nil, err
	}
	return preset, nil
}

// GetPreset loads one preset and decodes its criteria.
func (s *Service) GetPreset(ctx context.Context, userID, name string) (*domain.FilterPreset, filter.Criteria, error) {
	preset, err := s.presets.GetPreset(ctx, userID, strings.TrimSpace(name))
	if err != nil {
		return nil, filter.Criteria{}, err
	}
	criteria, err := filter.ParseCriteria(preset.Criteria)
	if err != nil {
		// A stored preset that no longer parses is a data bug worth
		// surfacing, not hiding behind a 500.
		return nil, filter.Criteria{}, fmt.Errorf("stored preset %q is invalid: %w", name, err)
	}
	return preset, criteria, nil
}

// ListPresets enumerates a user's saved presets.
func (s *Service) ListPresets(ctx context.Context, userID string) ([]domain.FilterPreset, error) {
	return s.presets.ListPresets(ctx, userID)
}

// DeletePreset removes a preset by name.
func (s *Service) DeletePreset(ctx context.Context, userID, name string) error {
	return s.presets.DeletePreset(ctx, userID, strings.TrimSpace(name))
}

// matchedRecords fetches the candidate window and applies the criteria,
// preserving store order (newest first). The second return is the store's
// pre-pagination count of rows in the window, so callers can tell a complete
// scan from a capped one.
func (s *Service) matchedRecords(ctx context.Context, agentID string, criteria filter.Criteria, now time.Time) ([]domain.MetricRecord, int, error) {
	records, total, err := s.scan(ctx, agentID, criteria.Window)
	if err != nil {
		return nil, 0, err
	}
	matched := records[:0:0]
	for _, rec := range records {
		if criteria.Matches(rec, now) {
			matched = append(matched, rec)
		}
	}
	return matched, total, nil
}

// scan pulls up to scanCap records inside the window for in-memory
// evaluation, alongside the store's count of rows in the window. A nil
// window means unbounded.
func (s *Service) scan(ctx context.Context, agentID string, window *filter.TimeWindow) ([]domain.MetricRecord, int, error) {
	q := repository.MetricQuery{
		AgentID: strings.TrimSpace(agentID),
		Limit:   s.scanCap,
	}
	if window != nil {
		start, end, err := window.Bounds(s.now().UTC())
		if err != nil {
			return nil, 0, err
		}
		if !start.IsZero() {
			q.Start = &start
		}
		if !end.IsZero() {
			q.End = &end
		}
	}
	records, total, listErr := s.metrics.ListMetrics(ctx, q)
	if listErr != nil {
		return nil, 0, listErr
	}
	if total > s.scanCap && s.logger != nil {
		s.logger.Warn("metric scan hit cap, results may be partial", "cap", s.scanCap, "window_rows", total)
	}
	return records, total, nil
}

// IsNotFound reports whether err means the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
