package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/repository"
	"github.com/ShanKonduru/sentinel-ai/internal/ws"
)

const (
	defaultBucketSpan    = time.Minute
	defaultFlushInterval = 30 * time.Second
)

// Service ingests metric records, maintains the agent registry, keeps
// aggregated rollups, and broadcasts updates to streaming subscribers.
type Service struct {
	metrics       repository.MetricRepository
	agents        repository.AgentRepository
	rollups       repository.RollupRepository
	hub           *ws.Hub
	aggregator    *rollupAggregator
	bucketSpan    time.Duration
	flushInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
	once          sync.Once
}

// NewService constructs an ingest Service with sane defaults.
func NewService(metrics repository.MetricRepository, agents repository.AgentRepository, rollups repository.RollupRepository, hub *ws.Hub, logger *slog.Logger, bucketSpan, flushInterval time.Duration) *Service {
	if bucketSpan <= 0 {
		bucketSpan = defaultBucketSpan
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	if flushInterval > bucketSpan {
		flushInterval = bucketSpan
	}
	if hub == nil {
		hub = ws.NewHub()
	}
	if logger != nil {
		logger = logger.With("component", "ingest")
	}
	now := time.Now
	return &Service{
		metrics:       metrics,
		agents:        agents,
		rollups:       rollups,
		hub:           hub,
		aggregator:    newRollupAggregator(bucketSpan, 0, now),
		bucketSpan:    bucketSpan,
		flushInterval: flushInterval,
		logger:        logger,
		now:           now,
	}
}

// Run starts the background rollup flusher. It blocks until the context is
// cancelled, then flushes whatever is still buffered.
func (s *Service) Run(ctx context.Context) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.logger != nil {
			s.logger.Info("ingest service started", "bucket_span", s.bucketSpan, "flush_interval", s.flushInterval)
		}
	})
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flushAll(context.Background())
			if s.logger != nil {
				s.logger.Info("ingest service stopped")
			}
			return
		case <-ticker.C:
			s.flushStale(ctx)
		}
	}
}

// Submit validates and persists one metric record. The agent is registered on
// first contact; a missing timestamp means "now". The stored record is
// returned so callers see the assigned identifier.
func (s *Service) Submit(ctx context.Context, record domain.MetricRecord) (domain.MetricRecord, error) {
	if s == nil {
		return domain.MetricRecord{}, errors.New("ingest service not initialised")
	}
	record.AgentID = strings.TrimSpace(record.AgentID)
	now := s.now().UTC()
	if err := record.Validate(now); err != nil {
		return domain.MetricRecord{}, err
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = now
	} else {
		record.Timestamp = record.Timestamp.UTC()
	}
	if record.MetricID == "" {
		record.MetricID = uuid.NewString()
	}
	if record.IngestedAt.IsZero() {
		record.IngestedAt = now
	}

	agent := domain.Agent{
		AgentID:  record.AgentID,
		Name:     defaultAgentName(record.AgentID),
		Status:   domain.StatusRunning,
		LastSeen: record.Timestamp,
	}
	if err := s.agents.UpsertAgentOnMetric(ctx, &agent); err != nil {
		return domain.MetricRecord{}, err
	}
	if err := s.metrics.InsertMetric(ctx, &record); err != nil {
		return domain.MetricRecord{}, err
	}
	s.aggregator.add(record)
	s.broadcast(record)
	return record, nil
}

// Hub exposes the SSE/WebSocket hub for streaming consumers.
func (s *Service) Hub() *ws.Hub {
	if s == nil {
		return nil
	}
	return s.hub
}

// BucketSpan reports the rollup bucket width in use.
func (s *Service) BucketSpan() time.Duration {
	return s.bucketSpan
}

func (s *Service) flushStale(ctx context.Context) {
	cutoff := s.now().Add(-s.bucketSpan)
	s.persistRollups(ctx, s.aggregator.flushBefore(cutoff))
}

func (s *Service) flushAll(ctx context.Context) {
	s.persistRollups(ctx, s.aggregator.flushAll())
}

func (s *Service) persistRollups(ctx context.Context, rollups []domain.MetricRollup) {
	if len(rollups) == 0 {
		return
	}
	if err := s.rollups.UpsertRollups(ctx, rollups); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to persist metric rollups", "error", err, "count", len(rollups))
		}
	}
}

func (s *Service) broadcast(record domain.MetricRecord) {
	if s.hub == nil {
		return
	}
	payload, err := MarshalMetricUpdate(record)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to marshal metric update", "error", err)
		}
		return
	}
	s.hub.Broadcast(record.AgentID, payload)
}

// defaultAgentName derives a readable name for an implicitly-registered
// agent.
func defaultAgentName(agentID string) string {
	short := agentID
	if len(short) > 8 {
		short = short[:8]
	}
	return "agent-" + short
}

// MarshalMetricUpdate encodes a stored record as the envelope pushed to
// SSE/WebSocket clients.
func MarshalMetricUpdate(record domain.MetricRecord) ([]byte, error) {
	data := map[string]any{
		"metric_id":   record.MetricID,
		"agent_id":    record.AgentID,
		"timestamp":   record.Timestamp.UTC().Format(time.RFC3339Nano),
		"ingested_at": record.IngestedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, field := range domain.MetricFields {
		if v, ok := record.MetricValue(field); ok {
			data[field] = v
		}
	}
	if len(record.CustomMetrics) > 0 {
		data["custom_metrics"] = record.CustomMetrics
	}
	if len(record.Tags) > 0 {
		data["tags"] = record.Tags
	}
	return json.Marshal(map[string]any{
		"type": "metric_update",
		"data": data,
	})
}
