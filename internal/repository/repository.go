package repository

import (
	"context"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
)

// MetricQuery bounds a metric listing. Nil time pointers leave that side of
// the window open; Limit <= 0 means the store's default page size.
type MetricQuery struct {
	AgentID string
	Start   *time.Time
	End     *time.Time
	Limit   int
	Offset  int
}

// MetricRepository persists raw metric records. Records are append-only:
// there is no update or delete.
type MetricRepository interface {
	InsertMetric(ctx context.Context, record *domain.MetricRecord) error
	// ListMetrics returns records newest first plus the total count of
	// records matching the query before Limit/Offset were applied.
	ListMetrics(ctx context.Context, q MetricQuery) ([]domain.MetricRecord, int, error)
}

// AgentRepository manages the agent registry.
type AgentRepository interface {
	// UpsertAgentOnMetric registers the agent on first contact and
	// advances last_seen monotonically on every subsequent metric.
	UpsertAgentOnMetric(ctx context.Context, agent *domain.Agent) error
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
}

// PresetRepository stores per-user saved filter criteria.
type PresetRepository interface {
	UpsertPreset(ctx context.Context, preset *domain.FilterPreset) error
	GetPreset(ctx context.Context, userID, name string) (*domain.FilterPreset, error)
	ListPresets(ctx context.Context, userID string) ([]domain.FilterPreset, error)
	DeletePreset(ctx context.Context, userID, name string) error
}

// RollupRepository persists pre-aggregated metric buckets.
type RollupRepository interface {
	UpsertRollups(ctx context.Context, rollups []domain.MetricRollup) error
	ListRollups(ctx context.Context, agentID string, bucketSpan time.Duration, limit int) ([]domain.MetricRollup, error)
}
