package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestQueryMetricsEncodesParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("agent_id") != "agent-1" {
			t.Fatalf("agent_id = %q", q.Get("agent_id"))
		}
		if q.Get("q") != "latency_ms<500" {
			t.Fatalf("q = %q", q.Get("q"))
		}
		if q.Get("range") != "1h" {
			t.Fatalf("range = %q", q.Get("range"))
		}
		if q.Get("limit") != "25" {
			t.Fatalf("limit = %q", q.Get("limit"))
		}
		latency := 120.0
		json.NewEncoder(w).Encode(map[string]any{
			"metrics": []map[string]any{{
				"metric_id":  "m-1",
				"agent_id":   "agent-1",
				"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
				"latency_ms": latency,
			}},
			"total": 1,
		})
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	page, err := cli.QueryMetrics(context.Background(), MetricQuery{
		AgentID: "agent-1",
		Query:   "latency_ms<500",
		Range:   "1h",
		Limit:   25,
	})
	if err != nil {
		t.Fatalf("query metrics: %v", err)
	}
	if page.Total != 1 || len(page.Metrics) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Metrics[0].LatencyMS == nil || *page.Metrics[0].LatencyMS != 120 {
		t.Fatalf("latency not decoded: %+v", page.Metrics[0])
	}
	if page.Metrics[0].CPUUsagePercent != nil {
		t.Fatal("absent field decoded as present")
	}
}

func TestListAgentsStatusFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "running" {
			t.Fatalf("status = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"agents": []map[string]any{{"agent_id": "agent-1", "status": "running"}},
			"total":  1,
		})
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	page, err := cli.ListAgents(context.Background(), "running", 0, 0)
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if page.Total != 1 || page.Agents[0].AgentID != "agent-1" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestPresetsCarryUserHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-User-ID"); got != "alice" {
			t.Fatalf("user header = %q", got)
		}
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"name": "mine", "criteria": map[string]any{}})
		case http.MethodDelete:
			json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
		}
	}))
	defer srv.Close()

	cli, err := New(srv.URL, WithUserID("alice"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := cli.SavePreset(context.Background(), "mine", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("save preset: %v", err)
	}
	if err := cli.DeletePreset(context.Background(), "mine"); err != nil {
		t.Fatalf("delete preset: %v", err)
	}
}

func TestAPIErrorCarriesStatusAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = cli.GetAgent(context.Background(), "ghost")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "not found" {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
}
