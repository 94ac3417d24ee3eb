package aggregate

import (
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
)

// AgentSummary is a per-agent overview across a record set.
type AgentSummary struct {
	AgentID      string     `json:"agent_id"`
	Count        int64      `json:"count"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	AvgLatencyMS *float64   `json:"avg_latency_ms,omitempty"`
	MinLatencyMS *float64   `json:"min_latency_ms,omitempty"`
	MaxLatencyMS *float64   `json:"max_latency_ms,omitempty"`
	AvgCPUPct    *float64   `json:"avg_cpu_usage_percent,omitempty"`
	AvgGPUPct    *float64   `json:"avg_gpu_usage_percent,omitempty"`
	AvgMemoryMB  *float64   `json:"avg_memory_usage_mb,omitempty"`
	TotalCost    *float64   `json:"total_cost,omitempty"`
}

// Summary computes a single agent's overview over the provided records.
// Records belonging to other agents are skipped.
func Summary(records []domain.MetricRecord, agentID string) AgentSummary {
	s := AgentSummary{AgentID: agentID}
	var latency, cpu, gpu, mem accumulator
	var totalCost float64
	var hasCost bool

	for _, rec := range records {
		if rec.AgentID != agentID {
			continue
		}
		s.Count++
		ts := rec.Timestamp
		if s.FirstSeen.IsZero() || ts.Before(s.FirstSeen) {
			s.FirstSeen = ts
		}
		if ts.After(s.LastSeen) {
			s.LastSeen = ts
		}
		if rec.LatencyMS != nil {
			latency.add(*rec.LatencyMS)
		}
		if rec.CPUUsagePercent != nil {
			cpu.add(*rec.CPUUsagePercent)
		}
		if rec.GPUUsagePercent != nil {
			gpu.add(*rec.GPUUsagePercent)
		}
		if rec.MemoryUsageMB != nil {
			mem.add(*rec.MemoryUsageMB)
		}
		if rec.CostPerRequest != nil {
			totalCost += *rec.CostPerRequest
			hasCost = true
		}
	}

	if latency.count > 0 {
		st := latency.stats()
		s.AvgLatencyMS = &st.Mean
		s.MinLatencyMS = &st.Min
		s.MaxLatencyMS = &st.Max
	}
	if cpu.count > 0 {
		mean := cpu.stats().Mean
		s.AvgCPUPct = &mean
	}
	if gpu.count > 0 {
		mean := gpu.stats().Mean
		s.AvgGPUPct = &mean
	}
	if mem.count > 0 {
		mean := mem.stats().Mean
		s.AvgMemoryMB = &mean
	}
	if hasCost {
		s.TotalCost = &totalCost
	}
	return s
}
