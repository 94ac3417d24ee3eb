package query

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/filter"
)

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ParseExportFormat validates a format string from the API boundary.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case FormatCSV, FormatJSON:
		return ExportFormat(s), nil
	case "":
		return FormatCSV, nil
	}
	return "", &domain.ValidationError{Field: "format", Constraint: "must be csv or json", Value: s}
}

// exportColumns is the fixed CSV column order. Custom metrics travel as one
// JSON column so the header never depends on the data.
var exportColumns = []string{
	"timestamp",
	"agent_id",
	domain.FieldLatencyMS,
	domain.FieldThroughputReqPerMin,
	domain.FieldCostPerRequest,
	domain.FieldCPUUsagePercent,
	domain.FieldGPUUsagePercent,
	domain.FieldMemoryUsageMB,
	"custom_metrics",
}

// Export streams the records matching the criteria to w in ascending
// timestamp order. Result sets larger than the export cap are rejected with
// a ValidationError so a dashboard can tell the user to narrow the range
// instead of receiving a truncated file.
func (s *Service) Export(ctx context.Context, w io.Writer, agentID string, criteria filter.Criteria, format ExportFormat) (int, error) {
	now := s.now().UTC()
	matched, windowTotal, err := s.matchedRecords(ctx, agentID, criteria, now)
	if err != nil {
		return 0, err
	}
	// A window with more rows than the scan cap would produce a file that is
	// missing rows no matter what the criteria match, so it is rejected
	// outright rather than truncated.
	if windowTotal > s.scanCap {
		return 0, &domain.ValidationError{
			Field:      "export",
			Constraint: fmt.Sprintf("window holds %d rows, more than the %d the export can scan, narrow the time range", windowTotal, s.scanCap),
			Value:      windowTotal,
		}
	}
	if len(matched) > s.exportCap {
		return 0, &domain.ValidationError{
			Field:      "export",
			Constraint: fmt.Sprintf("result exceeds %d rows, narrow the time range", s.exportCap),
			Value:      len(matched),
		}
	}
	// Stores return newest first; exports read oldest first.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	switch format {
	case FormatJSON:
		return len(matched), exportJSON(w, matched)
	default:
		return len(matched), exportCSV(w, matched)
	}
}

func exportCSV(w io.Writer, records []domain.MetricRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return err
	}
	row := make([]string, len(exportColumns))
	for _, rec := range records {
		row[0] = rec.Timestamp.UTC().Format(time.RFC3339Nano)
		row[1] = rec.AgentID
		for i, field := range domain.MetricFields {
			row[2+i] = formatMetric(rec, field)
		}
		custom := ""
		if len(rec.CustomMetrics) > 0 {
			data, err := json.Marshal(rec.CustomMetrics)
			if err != nil {
				return fmt.Errorf("encode custom metrics: %w", err)
			}
			custom = string(data)
		}
		row[len(row)-1] = custom
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatMetric(rec domain.MetricRecord, field string) string {
	v, ok := rec.MetricValue(field)
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type exportRecord struct {
	Timestamp           time.Time          `json:"timestamp"`
	AgentID             string             `json:"agent_id"`
	LatencyMS           *float64           `json:"latency_ms,omitempty"`
	ThroughputReqPerMin *float64           `json:"throughput_req_per_min,omitempty"`
	CostPerRequest      *float64           `json:"cost_per_request,omitempty"`
	CPUUsagePercent     *float64           `json:"cpu_usage_percent,omitempty"`
	GPUUsagePercent     *float64           `json:"gpu_usage_percent,omitempty"`
	MemoryUsageMB       *float64           `json:"memory_usage_mb,omitempty"`
	CustomMetrics       map[string]float64 `json:"custom_metrics,omitempty"`
	Tags                map[string]string  `json:"tags,omitempty"`
}

func exportJSON(w io.Writer, records []domain.MetricRecord) error {
	enc := json.NewEncoder(w)
	out := make([]exportRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, exportRecord{
			Timestamp:           rec.Timestamp.UTC(),
			AgentID:             rec.AgentID,
			LatencyMS:           rec.LatencyMS,
			ThroughputReqPerMin: rec.ThroughputReqPerMin,
			CostPerRequest:      rec.CostPerRequest,
			CPUUsagePercent:     rec.CPUUsagePercent,
			GPUUsagePercent:     rec.GPUUsagePercent,
			MemoryUsageMB:       rec.MemoryUsageMB,
			CustomMetrics:       rec.CustomMetrics,
			Tags:                rec.Tags,
		})
	}
	return enc.Encode(out)
}
