package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShanKonduru/sentinel-ai/internal/aggregate"
	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/filter"
	"github.com/ShanKonduru/sentinel-ai/internal/service/ingest"
	"github.com/ShanKonduru/sentinel-ai/internal/service/query"
	"github.com/ShanKonduru/sentinel-ai/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	ingest     *ingest.Service
	query      *query.Service
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	agentToken string
	dbHealth   func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	ingestTotal        *prometheus.CounterVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitIngest    = 600
	rateLimitRead      = 120
	rateLimitExport    = 10
	rateLimitStream    = 30
	sseHeartbeat       = 15 * time.Second
	healthCheckTimeout = 2 * time.Second
	defaultUserID      = "default"
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, ingestSvc *ingest.Service, querySvc *query.Service, limiter RateLimiter, agentToken string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		ingest: ingestSvc,
		query:  querySvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    limiter,
		agentToken: strings.TrimSpace(agentToken),
		dbHealth:   dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metricsz", promhttp.Handler())
	r.mux.HandleFunc("/metrics", r.audit(r.handleMetrics))
	r.mux.HandleFunc("/agents", r.audit(r.withRateLimit("/agents", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleAgents)))
	r.mux.HandleFunc("/agents/", r.audit(r.withRateLimit("/agents", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleAgentSubroutes)))
	r.mux.HandleFunc("/export", r.audit(r.withRateLimit("/export", rateLimitExport, rateWindowDefault, rateLimitKeyIP, r.handleExport)))
	r.mux.HandleFunc("/presets", r.audit(r.withRateLimit("/presets", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handlePresets)))
	r.mux.HandleFunc("/presets/", r.audit(r.withRateLimit("/presets", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handlePresetByName)))
	r.mux.HandleFunc("/ws/metrics", r.audit(r.withRateLimit("/ws/metrics", rateLimitStream, rateWindowRealtime, rateLimitKeyAgent, r.handleMetricsWS)))
	r.mux.HandleFunc("/sse/metrics", r.audit(r.withRateLimit("/sse/metrics", rateLimitStream, rateWindowRealtime, rateLimitKeyAgent, r.handleMetricsSSE)))
}

// metricPayload is the submission wire format. Pointers distinguish "absent"
// from zero; zero is a legal value for none of the standard fields anyway.
type metricPayload struct {
	AgentID             string             `json:"agent_id"`
	Timestamp           string             `json:"timestamp"`
	LatencyMS           *float64           `json:"latency_ms"`
	ThroughputReqPerMin *float64           `json:"throughput_req_per_min"`
	CostPerRequest      *float64           `json:"cost_per_request"`
	CPUUsagePercent     *float64           `json:"cpu_usage_percent"`
	GPUUsagePercent     *float64           `json:"gpu_usage_percent"`
	MemoryUsageMB       *float64           `json:"memory_usage_mb"`
	CustomMetrics       map[string]float64 `json:"custom_metrics"`
	Tags                map[string]string  `json:"tags"`
}

func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.withRateLimit("/metrics", rateLimitIngest, rateWindowDefault, rateLimitKeyIP, r.handleIngestMetric)(w, req)
	case http.MethodGet:
		r.withRateLimit("/metrics", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleQueryMetrics)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleIngestMetric(w http.ResponseWriter, req *http.Request) {
	if !r.verifyAgentToken(w, req) {
		return
	}
	var payload metricPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		r.recordIngest("rejected")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	record := domain.MetricRecord{
		AgentID:             payload.AgentID,
		LatencyMS:           payload.LatencyMS,
		ThroughputReqPerMin: payload.ThroughputReqPerMin,
		CostPerRequest:      payload.CostPerRequest,
		CPUUsagePercent:     payload.CPUUsagePercent,
		GPUUsagePercent:     payload.GPUUsagePercent,
		MemoryUsageMB:       payload.MemoryUsageMB,
		CustomMetrics:       payload.CustomMetrics,
		Tags:                payload.Tags,
	}
	if payload.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
		if err != nil {
			r.recordIngest("rejected")
			writeError(w, http.StatusBadRequest, "invalid timestamp format, want RFC3339")
			return
		}
		record.Timestamp = ts.UTC()
	}
	stored, err := r.ingest.Submit(req.Context(), record)
	if err != nil {
		r.recordIngest("rejected")
		writeServiceError(w, err)
		return
	}
	r.recordIngest("accepted")
	writeJSON(w, http.StatusCreated, map[string]any{
		"metric_id": stored.MetricID,
		"agent_id":  stored.AgentID,
		"timestamp": stored.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleQueryMetrics(w http.ResponseWriter, req *http.Request) {
	criteria, err := criteriaFromRequest(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	q := req.URL.Query()

	if groupByRaw := strings.TrimSpace(q.Get("aggregate")); groupByRaw != "" {
		groupBy, err := aggregate.ParseGroupBy(groupByRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var bucket time.Duration
		if raw := q.Get("bucket_seconds"); raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil || seconds <= 0 {
				writeError(w, http.StatusBadRequest, "bucket_seconds must be a positive integer")
				return
			}
			bucket = time.Duration(seconds) * time.Second
		}
		result, err := r.query.AggregateMetrics(req.Context(), q.Get("agent_id"), criteria, groupBy, bucket)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	page, err := r.query.QueryMetrics(req.Context(), query.MetricsRequest{
		AgentID:  q.Get("agent_id"),
		Criteria: criteria,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": metricsResponse(page.Records),
		"total":   page.Total,
	})
}

func (r *Router) handleAgents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	q := req.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	agents, total, err := r.query.ListAgents(req.Context(), q.Get("status"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(agents))
	for _, agent := range agents {
		out = append(out, agentResponse(agent))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": out,
		"total":  total,
	})
}

func (r *Router) handleAgentSubroutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/agents/")
	parts := strings.Split(trimmed, "/")
	agentID := parts[0]
	if agentID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		agent, err := r.query.GetAgent(req.Context(), agentID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agentResponse(*agent))
	case len(parts) == 2 && parts[1] == "summary":
		window, err := windowFromRequest(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		summary, err := r.query.AgentSummary(req.Context(), agentID, window)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case len(parts) == 2 && parts[1] == "rollups":
		span := time.Minute
		if raw := req.URL.Query().Get("bucket_seconds"); raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil || seconds <= 0 {
				writeError(w, http.StatusBadRequest, "bucket_seconds must be a positive integer")
				return
			}
			span = time.Duration(seconds) * time.Second
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		rollups, err := r.query.ListRollups(req.Context(), agentID, span, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rollups)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	criteria, err := criteriaFromRequest(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	format, err := query.ParseExportFormat(req.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Buffer through the row-cap check before touching the response so a
	// rejection still produces a clean JSON error.
	switch format {
	case query.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="metrics.json"`)
	default:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="metrics.csv"`)
	}
	n, err := r.query.Export(req.Context(), w, req.URL.Query().Get("agent_id"), criteria, format)
	if err != nil {
		w.Header().Del("Content-Disposition")
		writeServiceError(w, err)
		return
	}
	r.logger.Info("export completed", "rows", n, "format", string(format))
}

func (r *Router) handlePresets(w http.ResponseWriter, req *http.Request) {
	userID := requestUserID(req)
	switch req.Method {
	case http.MethodGet:
		presets, err := r.query.ListPresets(req.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(presets))
		for _, preset := range presets {
			out = append(out, presetResponse(preset))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var payload struct {
			Name     string          `json:"name"`
			Criteria json.RawMessage `json:"criteria"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		criteria, err := filter.ParseCriteria(payload.Criteria)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		preset, err := r.query.SavePreset(req.Context(), userID, payload.Name, criteria)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, presetResponse(*preset))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePresetByName(w http.ResponseWriter, req *http.Request) {
	name := strings.TrimPrefix(req.URL.Path, "/presets/")
	if name == "" || strings.Contains(name, "/") {
		r.notFound(w)
		return
	}
	userID := requestUserID(req)
	switch req.Method {
	case http.MethodGet:
		preset, _, err := r.query.GetPreset(req.Context(), userID, name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, presetResponse(*preset))
	case http.MethodDelete:
		if err := r.query.DeletePreset(req.Context(), userID, name); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleMetricsWS(w http.ResponseWriter, req *http.Request) {
	topic := streamTopic(req)
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub := r.ingest.Hub()
	hub.Register(topic, client)
	go func() {
		defer func() {
			hub.Unregister(topic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleMetricsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	topic := streamTopic(req)
	client := ws.NewSSEClient(w, flusher, r.logger)
	hub := r.ingest.Hub()
	hub.Register(topic, client)
	defer func() {
		hub.Unregister(topic, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// criteriaFromRequest assembles filter criteria from query parameters. The
// filter parameter carries the serialized criteria; q, range, start_time and
// end_time layer on top of (and override) what it contains.
func criteriaFromRequest(req *http.Request) (filter.Criteria, error) {
	q := req.URL.Query()
	criteria := filter.Criteria{}
	if raw := strings.TrimSpace(q.Get("filter")); raw != "" {
		parsed, err := filter.ParseCriteria([]byte(raw))
		if err != nil {
			return filter.Criteria{}, err
		}
		criteria = parsed
	}
	if text := strings.TrimSpace(q.Get("q")); text != "" {
		criteria.Text = filter.ParseTextQuery(text)
	}
	window, err := windowFromRequest(req)
	if err != nil {
		return filter.Criteria{}, err
	}
	if window != nil {
		criteria.Window = window
	}
	return criteria, nil
}

func windowFromRequest(req *http.Request) (*filter.TimeWindow, error) {
	q := req.URL.Query()
	named := strings.TrimSpace(q.Get("range"))
	startRaw := strings.TrimSpace(q.Get("start_time"))
	endRaw := strings.TrimSpace(q.Get("end_time"))
	if named != "" {
		if startRaw != "" || endRaw != "" {
			return nil, &domain.ValidationError{Field: "range", Constraint: "cannot combine a named range with explicit bounds"}
		}
		if _, err := filter.ParseNamedRange(named); err != nil {
			return nil, &domain.ValidationError{Field: "range", Constraint: err.Error(), Value: named}
		}
		return &filter.TimeWindow{Named: named}, nil
	}
	if startRaw == "" && endRaw == "" {
		return nil, nil
	}
	window := &filter.TimeWindow{}
	if startRaw != "" {
		start, err := time.Parse(time.RFC3339Nano, startRaw)
		if err != nil {
			return nil, &domain.ValidationError{Field: "start_time", Constraint: "must be RFC3339", Value: startRaw}
		}
		start = start.UTC()
		window.Start = &start
	}
	if endRaw != "" {
		end, err := time.Parse(time.RFC3339Nano, endRaw)
		if err != nil {
			return nil, &domain.ValidationError{Field: "end_time", Constraint: "must be RFC3339", Value: endRaw}
		}
		end = end.UTC()
		window.End = &end
	}
	if window.Start != nil && window.End != nil && !window.Start.Before(*window.End) {
		return nil, &domain.ValidationError{Field: "start_time", Constraint: "must precede end_time"}
	}
	return window, nil
}

func streamTopic(req *http.Request) string {
	if agentID := strings.TrimSpace(req.URL.Query().Get("agent_id")); agentID != "" {
		return agentID
	}
	return ws.TopicAll
}

func requestUserID(req *http.Request) string {
	if userID := strings.TrimSpace(req.Header.Get("X-User-ID")); userID != "" {
		return userID
	}
	return defaultUserID
}

func metricsResponse(records []domain.MetricRecord) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		item := map[string]any{
			"metric_id":   rec.MetricID,
			"agent_id":    rec.AgentID,
			"timestamp":   rec.Timestamp.UTC().Format(time.RFC3339Nano),
			"ingested_at": rec.IngestedAt.UTC().Format(time.RFC3339Nano),
		}
		for _, field := range domain.MetricFields {
			if v, ok := rec.MetricValue(field); ok {
				item[field] = v
			}
		}
		if len(rec.CustomMetrics) > 0 {
			item["custom_metrics"] = rec.CustomMetrics
		}
		if len(rec.Tags) > 0 {
			item["tags"] = rec.Tags
		}
		out = append(out, item)
	}
	return out
}

func agentResponse(agent domain.Agent) map[string]any {
	item := map[string]any{
		"agent_id":   agent.AgentID,
		"name":       agent.Name,
		"status":     string(agent.Status),
		"created_at": agent.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if agent.Description != "" {
		item["description"] = agent.Description
	}
	if !agent.LastSeen.IsZero() {
		item["last_seen"] = agent.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	if len(agent.Metadata) > 0 {
		item["metadata"] = agent.Metadata
	}
	return item
}

func presetResponse(preset domain.FilterPreset) map[string]any {
	return map[string]any{
		"name":       preset.Name,
		"criteria":   json.RawMessage(preset.Criteria),
		"updated_at": preset.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// verifyAgentToken checks the shared submission token when one is
// configured.
func (r *Router) verifyAgentToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.agentToken
	if expected == "" {
		return true
	}
	token := strings.TrimSpace(req.Header.Get("X-Agent-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("agent token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid agent token")
		return false
	}
	return true
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses paths with identifiers so metric cardinality stays
// bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/agents/"):
		return "/agents/{id}"
	case strings.HasPrefix(path, "/presets/"):
		return "/presets/{name}"
	}
	return path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
