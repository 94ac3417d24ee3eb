package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

// ErrUnauthorized indicates the API rejected the agent token.
var ErrUnauthorized = errors.New("telemetry unauthorized")

// ErrInvalidArgument indicates the API rejected the metric with validation
// errors.
var ErrInvalidArgument = errors.New("telemetry invalid argument")

// ErrRateLimited indicates the agent exceeded its submission budget and
// should back off.
var ErrRateLimited = errors.New("telemetry rate limited")

// ErrUnavailable indicates the API or its metric store is temporarily down.
var ErrUnavailable = errors.New("telemetry unavailable")

// Emitter submits metric samples to the sentinel API from inside an agent
// process.
type Emitter struct {
	baseURL string
	agentID string
	token   string
	client  *http.Client
	now     func() time.Time
}

// Metric is one sample. Pointer fields are omitted from the submission when
// nil.
type Metric struct {
	Timestamp           time.Time
	LatencyMS           *float64
	ThroughputReqPerMin *float64
	CostPerRequest      *float64
	CPUUsagePercent     *float64
	GPUUsagePercent     *float64
	MemoryUsageMB       *float64
	CustomMetrics       map[string]float64
	Tags                map[string]string
}

// NewEmitter creates an emitter for one agent using the provided API base URL
// and shared agent token.
func NewEmitter(baseURL, agentID, agentToken string, client *http.Client) (*Emitter, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errors.New("telemetry base url required")
	}
	trimmed = strings.TrimRight(trimmed, "/")
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, errors.New("telemetry agent id required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Emitter{
		baseURL: trimmed,
		agentID: agentID,
		token:   strings.TrimSpace(agentToken),
		client:  client,
		now:     time.Now,
	}, nil
}

// Emit sends one metric sample to the ingestion endpoint.
func (e *Emitter) Emit(ctx context.Context, metric Metric) error {
	if e == nil {
		return errors.New("telemetry emitter not initialised")
	}
	body, err := json.Marshal(buildPayload(e.agentID, metric, e.now))
	if err != nil {
		return fmt.Errorf("marshal metric: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/metrics", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build metric request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("X-Agent-Token", e.token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	limited := io.LimitReader(resp.Body, maxErrorBodySize)
	buf, _ := io.ReadAll(limited)
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, summary)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", ErrUnavailable, summary)
	default:
		return fmt.Errorf("metric submission failed: %s", summary)
	}
}

func buildPayload(agentID string, metric Metric, nowFn func() time.Time) map[string]any {
	ts := metric.Timestamp
	if ts.IsZero() {
		ts = nowFn()
	}
	payload := map[string]any{
		"agent_id":  agentID,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	}
	setIfPresent := func(key string, v *float64) {
		if v != nil {
			payload[key] = *v
		}
	}
	setIfPresent("latency_ms", metric.LatencyMS)
	setIfPresent("throughput_req_per_min", metric.ThroughputReqPerMin)
	setIfPresent("cost_per_request", metric.CostPerRequest)
	setIfPresent("cpu_usage_percent", metric.CPUUsagePercent)
	setIfPresent("gpu_usage_percent", metric.GPUUsagePercent)
	setIfPresent("memory_usage_mb", metric.MemoryUsageMB)
	if len(metric.CustomMetrics) > 0 {
		payload["custom_metrics"] = metric.CustomMetrics
	}
	if len(metric.Tags) > 0 {
		payload["tags"] = metric.Tags
	}
	return payload
}
