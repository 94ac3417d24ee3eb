package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the sentinel API for dashboard frontends.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithUserID sets the user identity sent with preset operations.
func WithUserID(userID string) Option {
	return func(c *Client) {
		c.userID = strings.TrimSpace(userID)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:8080"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Agent reflects API agent payloads.
type Agent struct {
	AgentID     string            `json:"agent_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      string            `json:"status"`
	LastSeen    *time.Time        `json:"last_seen"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AgentPage is one page of agents with the total matching count.
type AgentPage struct {
	Agents []Agent `json:"agents"`
	Total  int     `json:"total"`
}

// ListAgents returns registered agents, optionally filtered by derived
// status.
func (c *Client) ListAgents(ctx context.Context, status string, limit, offset int) (AgentPage, error) {
	values := url.Values{}
	if strings.TrimSpace(status) != "" {
		values.Set("status", status)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		values.Set("offset", strconv.Itoa(offset))
	}
	path := "/agents"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var page AgentPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return AgentPage{}, err
	}
	return page, nil
}

// GetAgent fetches one agent by ID.
func (c *Client) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	var agent Agent
	path := "/agents/" + url.PathEscape(agentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &agent); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// Metric reflects API metric payloads. Absent fields stay nil.
type Metric struct {
	MetricID            string             `json:"metric_id"`
	AgentID             string             `json:"agent_id"`
	Timestamp           time.Time          `json:"timestamp"`
	LatencyMS           *float64           `json:"latency_ms"`
	ThroughputReqPerMin *float64           `json:"throughput_req_per_min"`
	CostPerRequest      *float64           `json:"cost_per_request"`
	CPUUsagePercent     *float64           `json:"cpu_usage_percent"`
	GPUUsagePercent     *float64           `json:"gpu_usage_percent"`
	MemoryUsageMB       *float64           `json:"memory_usage_mb"`
	CustomMetrics       map[string]float64 `json:"custom_metrics"`
	Tags                map[string]string  `json:"tags"`
	IngestedAt          time.Time          `json:"ingested_at"`
}

// MetricPage is one page of records with the total matching count.
type MetricPage struct {
	Metrics []Metric `json:"metrics"`
	Total   int      `json:"total"`
}

// MetricQuery carries the filter parameters for QueryMetrics.
type MetricQuery struct {
	AgentID string
	// Filter is a serialized criteria document, as produced by the preset
	// endpoints. Empty means no structured filter.
	Filter json.RawMessage
	// Query is a free-text filter expression.
	Query string
	// Range is a named window like "15m" or "24h"; exclusive with Start/End.
	Range  string
	Start  *time.Time
	End    *time.Time
	Limit  int
	Offset int
}

func (q MetricQuery) values() url.Values {
	values := url.Values{}
	if strings.TrimSpace(q.AgentID) != "" {
		values.Set("agent_id", q.AgentID)
	}
	if len(q.Filter) > 0 {
		values.Set("filter", string(q.Filter))
	}
	if strings.TrimSpace(q.Query) != "" {
		values.Set("q", q.Query)
	}
	if strings.TrimSpace(q.Range) != "" {
		values.Set("range", q.Range)
	}
	if q.Start != nil {
		values.Set("start_time", q.Start.UTC().Format(time.RFC3339Nano))
	}
	if q.End != nil {
		values.Set("end_time", q.End.UTC().Format(time.RFC3339Nano))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	return values
}

// QueryMetrics returns one page of stored metrics matching the query.
func (c *Client) QueryMetrics(ctx context.Context, q MetricQuery) (MetricPage, error) {
	path := "/metrics"
	if encoded := q.values().Encode(); encoded != "" {
		path += "?" + encoded
	}
	var page MetricPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return MetricPage{}, err
	}
	return page, nil
}

// Preset reflects API filter preset payloads.
type Preset struct {
	Name      string          `json:"name"`
	Criteria  json.RawMessage `json:"criteria"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SavePreset creates or replaces a named filter preset for the client's user.
func (c *Client) SavePreset(ctx context.Context, name string, criteria json.RawMessage) (Preset, error) {
	body := map[string]any{
		"name":     name,
		"criteria": criteria,
	}
	var preset Preset
	if err := c.do(ctx, http.MethodPost, "/presets", body, &preset); err != nil {
		return Preset{}, err
	}
	return preset, nil
}

// GetPreset fetches one preset by name.
func (c *Client) GetPreset(ctx context.Context, name string) (Preset, error) {
	var preset Preset
	path := "/presets/" + url.PathEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &preset); err != nil {
		return Preset{}, err
	}
	return preset, nil
}

// ListPresets returns the user's saved presets.
func (c *Client) ListPresets(ctx context.Context) ([]Preset, error) {
	var presets []Preset
	if err := c.do(ctx, http.MethodGet, "/presets", nil, &presets); err != nil {
		return nil, err
	}
	return presets, nil
}

// DeletePreset removes a preset by name.
func (c *Client) DeletePreset(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/presets/"+url.PathEscape(name), nil, nil)
}
