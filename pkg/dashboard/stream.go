package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/ShanKonduru/sentinel-ai/internal/liveview"
)

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
	readTimeout = 90 * time.Second
)

// StreamState reports connection lifecycle transitions to the session.
type StreamState string

const (
	StreamConnected    StreamState = "connected"
	StreamReconnecting StreamState = "reconnecting"
	StreamClosed       StreamState = "closed"
)

// StreamHandler receives update events in arrival order. Called from a single
// goroutine.
type StreamHandler func(liveview.UpdateEvent)

// StateHandler receives connection state transitions.
type StateHandler func(StreamState)

// Stream consumes the real-time metric channel for one dashboard session.
// While disconnected the last reconciled view stays as-is; the stream does
// not re-run the base query on reconnect.
type Stream struct {
	wsURL   string
	logger  *slog.Logger
	dialer  *websocket.Dialer
	handler StreamHandler
	onState StateHandler
}

// NewStream prepares a stream for the given API base URL. agentID narrows the
// subscription to one agent; empty subscribes to the whole fleet.
func NewStream(base, agentID string, handler StreamHandler, logger *slog.Logger) (*Stream, error) {
	if handler == nil {
		return nil, errors.New("stream handler required")
	}
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return nil, errors.New("stream base url required")
	}
	trimmed = strings.TrimRight(trimmed, "/")
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		trimmed = "wss://" + strings.TrimPrefix(trimmed, "https://")
	case strings.HasPrefix(trimmed, "http://"):
		trimmed = "ws://" + strings.TrimPrefix(trimmed, "http://")
	case !strings.HasPrefix(trimmed, "ws://") && !strings.HasPrefix(trimmed, "wss://"):
		trimmed = "ws://" + trimmed
	}
	wsURL := trimmed + "/ws/metrics"
	if agentID = strings.TrimSpace(agentID); agentID != "" {
		wsURL += "?agent_id=" + url.QueryEscape(agentID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		wsURL:   wsURL,
		logger:  logger.With("component", "dashboard_stream"),
		dialer:  websocket.DefaultDialer,
		handler: handler,
	}, nil
}

// OnStateChange registers a callback for connection transitions. Must be set
// before Run.
func (s *Stream) OnStateChange(fn StateHandler) {
	s.onState = fn
}

// Run consumes the stream until ctx is cancelled, reconnecting with
// exponential backoff on any transport failure. The backoff resets after each
// successful connection.
func (s *Stream) Run(ctx context.Context) error {
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			s.setState(StreamClosed)
			return err
		}
		err = s.consume(ctx, conn)
		if ctx.Err() != nil {
			s.setState(StreamClosed)
			return ctx.Err()
		}
		s.setState(StreamReconnecting)
		s.logger.Warn("stream disconnected", "error", err)
	}
}

// dial connects with capped exponential backoff until the context dies.
func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	backoff := retry.WithCappedDuration(backoffCap, retry.NewExponential(backoffBase))
	var conn *websocket.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
		if err != nil {
			s.setState(StreamReconnecting)
			s.logger.Warn("stream dial failed", "url", s.wsURL, "error", err)
			return retry.RetryableError(fmt.Errorf("dial %s: %w", s.wsURL, err))
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Stream) consume(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()
	s.setState(StreamConnected)
	s.logger.Info("stream connected", "url", s.wsURL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read update: %w", err)
		}
		ev, ok, err := decodeUpdate(payload, time.Now().UTC())
		if err != nil {
			s.logger.Warn("discarding malformed update", "error", err)
			continue
		}
		if ok {
			s.handler(ev)
		}
	}
}

func (s *Stream) setState(state StreamState) {
	if s.onState != nil {
		s.onState(state)
	}
}

// updateEnvelope is the wire shape of pushed metric updates.
type updateEnvelope struct {
	Type string `json:"type"`
	Data struct {
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
	} `json:"data"`
}

// decodeUpdate converts a pushed envelope into a reconciler event. Unknown
// envelope types are skipped without error so the channel can grow new
// message kinds. An envelope without a timestamp takes the arrival time, so
// its fields never get stuck at the zero time where later events would lose
// the newer-or-equal comparison.
func decodeUpdate(payload []byte, arrived time.Time) (liveview.UpdateEvent, bool, error) {
	var env updateEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return liveview.UpdateEvent{}, false, fmt.Errorf("decode update envelope: %w", err)
	}
	if env.Type != "metric_update" {
		return liveview.UpdateEvent{}, false, nil
	}
	if env.Data.AgentID == "" {
		return liveview.UpdateEvent{}, false, errors.New("update without agent_id")
	}
	ts := env.Data.Timestamp
	if ts.IsZero() {
		ts = arrived
	}
	ev := liveview.UpdateEvent{
		AgentID:   env.Data.AgentID,
		Timestamp: ts,
		Fields:    make(map[string]float64),
		Tags:      env.Data.Tags,
	}
	set := func(name string, v *float64) {
		if v != nil {
			ev.Fields[name] = *v
		}
	}
	set("latency_ms", env.Data.LatencyMS)
	set("throughput_req_per_min", env.Data.ThroughputReqPerMin)
	set("cost_per_request", env.Data.CostPerRequest)
	set("cpu_usage_percent", env.Data.CPUUsagePercent)
	set("gpu_usage_percent", env.Data.GPUUsagePercent)
	set("memory_usage_mb", env.Data.MemoryUsageMB)
	for name, v := range env.Data.CustomMetrics {
		ev.Fields[name] = v
	}
	return ev, true, nil
}
