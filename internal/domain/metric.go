package domain

import (
	"fmt"
	"strings"
	"time"
)

// Canonical numeric metric field names, in the order exports emit them.
const (
	FieldLatencyMS           = "latency_ms"
	FieldThroughputReqPerMin = "throughput_req_per_min"
	FieldCostPerRequest      = "cost_per_request"
	FieldCPUUsagePercent     = "cpu_usage_percent"
	FieldGPUUsagePercent     = "gpu_usage_percent"
	FieldMemoryUsageMB       = "memory_usage_mb"
)

// MetricFields lists the standard numeric fields in canonical order.
var MetricFields = []string{
	FieldLatencyMS,
	FieldThroughputReqPerMin,
	FieldCostPerRequest,
	FieldCPUUsagePercent,
	FieldGPUUsagePercent,
	FieldMemoryUsageMB,
}

// Clock skew tolerated before a submission timestamp counts as future-dated.
const maxTimestampSkew = 30 * time.Second

// MetricRecord is one immutable timestamped observation of an agent's
// performance. Standard fields are sparse; a nil pointer means the agent did
// not report that field.
type MetricRecord struct {
	MetricID            string
	AgentID             string
	Timestamp           time.Time
	LatencyMS           *float64
	ThroughputReqPerMin *float64
	CostPerRequest      *float64
	CPUUsagePercent     *float64
	GPUUsagePercent     *float64
	MemoryUsageMB       *float64
	CustomMetrics       map[string]float64
	Tags                map[string]string
	IngestedAt          time.Time
}

// MetricValue returns the named numeric field, standard or custom.
func (m MetricRecord) MetricValue(name string) (float64, bool) {
	var p *float64
	switch name {
	case FieldLatencyMS:
		p = m.LatencyMS
	case FieldThroughputReqPerMin:
		p = m.ThroughputReqPerMin
	case FieldCostPerRequest:
		p = m.CostPerRequest
	case FieldCPUUsagePercent:
		p = m.CPUUsagePercent
	case FieldGPUUsagePercent:
		p = m.GPUUsagePercent
	case FieldMemoryUsageMB:
		p = m.MemoryUsageMB
	default:
		v, ok := m.CustomMetrics[name]
		return v, ok
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// TagValue returns the named categorical attribute. agent_id is addressable
// as a pseudo-tag so text search can match on it.
func (m MetricRecord) TagValue(name string) (string, bool) {
	if name == "agent_id" {
		return m.AgentID, m.AgentID != ""
	}
	v, ok := m.Tags[name]
	return v, ok
}

// ObservedAt reports when the observation was taken.
func (m MetricRecord) ObservedAt() time.Time {
	return m.Timestamp
}

// HasMetrics reports whether at least one standard or custom metric is set.
func (m MetricRecord) HasMetrics() bool {
	for _, f := range MetricFields {
		if _, ok := m.MetricValue(f); ok {
			return true
		}
	}
	return len(m.CustomMetrics) > 0
}

// Validate checks a submitted record against the given ingestion time. It
// returns a *ValidationError describing the first violation found.
func (m MetricRecord) Validate(now time.Time) error {
	if strings.TrimSpace(m.AgentID) == "" {
		return &ValidationError{Field: "agent_id", Constraint: "must not be empty"}
	}
	if !m.HasMetrics() {
		return &ValidationError{Field: "metrics", Constraint: "at least one metric value must be provided"}
	}
	if !m.Timestamp.IsZero() && m.Timestamp.After(now.Add(maxTimestampSkew)) {
		return &ValidationError{Field: "timestamp", Constraint: "must not be in the future", Value: m.Timestamp.Format(time.RFC3339)}
	}
	if err := checkPositive(FieldLatencyMS, m.LatencyMS); err != nil {
		return err
	}
	if err := checkPositive(FieldThroughputReqPerMin, m.ThroughputReqPerMin); err != nil {
		return err
	}
	if err := checkPositive(FieldMemoryUsageMB, m.MemoryUsageMB); err != nil {
		return err
	}
	if err := checkPercent(FieldCPUUsagePercent, m.CPUUsagePercent); err != nil {
		return err
	}
	if err := checkPercent(FieldGPUUsagePercent, m.GPUUsagePercent); err != nil {
		return err
	}
	if m.CostPerRequest != nil && *m.CostPerRequest < 0 {
		return &ValidationError{Field: FieldCostPerRequest, Constraint: "must not be negative", Value: *m.CostPerRequest}
	}
	return nil
}

func checkPositive(field string, v *float64) error {
	if v != nil && *v <= 0 {
		return &ValidationError{Field: field, Constraint: "must be positive", Value: *v}
	}
	return nil
}

func checkPercent(field string, v *float64) error {
	if v != nil && (*v < 0 || *v > 100) {
		return &ValidationError{Field: field, Constraint: "must be between 0 and 100", Value: *v}
	}
	return nil
}

// ValidationError reports a rejected submission or malformed filter clause.
type ValidationError struct {
	Field      string
	Constraint string
	Value      any
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Constraint)
	}
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Constraint, e.Value)
}
