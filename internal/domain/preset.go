package domain

import "time"

// FilterPreset is a named snapshot of serialized filter criteria owned by a
// dashboard user. Presets may be overwritten by name; they are not subject to
// the append-only rule that governs metrics.
type FilterPreset struct {
	UserID    string
	Name      string
	Criteria  []byte
	UpdatedAt time.Time
}

// MetricRollup stores aggregated statistics for one agent and time bucket.
// Rollups are maintained by the ingest service and flushed periodically; the
// raw records remain the source of truth.
type MetricRollup struct {
	AgentID      string
	BucketStart  time.Time
	BucketSpan   time.Duration
	Count        int64
	AvgLatencyMS *float64
	MaxLatencyMS *float64
	P95LatencyMS *float64
	AvgCPUPct    *float64
	AvgMemoryMB  *float64
	TotalCost    *float64
	UpdatedAt    time.Time
}
