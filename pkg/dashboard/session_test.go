package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/filter"
	"github.com/ShanKonduru/sentinel-ai/internal/liveview"
)

func latencyBelow(limit float64) filter.Criteria {
	return filter.Criteria{
		Numeric: []filter.NumericPredicate{
			{Field: "latency_ms", Op: filter.OpLT, Value: limit},
		},
	}
}

func TestSessionSeedAppliesCriteria(t *testing.T) {
	now := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("filter"); got == "" {
			t.Fatal("expected serialized criteria in the base query")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"metrics": []map[string]any{
				{
					"metric_id":  "m-1",
					"agent_id":   "fast",
					"timestamp":  now.Format(time.RFC3339Nano),
					"latency_ms": 80.0,
				},
				{
					"metric_id":  "m-2",
					"agent_id":   "slow",
					"timestamp":  now.Format(time.RFC3339Nano),
					"latency_ms": 2500.0,
				},
			},
			"total": 2,
		})
	}))
	defer srv.Close()

	session, err := NewSession(srv.URL, SessionOptions{Criteria: latencyBelow(500)}, discardLogger())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := session.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	visible := session.VisibleAgents()
	if len(visible) != 1 || visible[0].AgentID != "fast" {
		t.Fatalf("unexpected visible agents: %+v", visible)
	}
	if got := session.State("slow"); got != liveview.StateHidden {
		t.Fatalf("slow state = %s, want hidden", got)
	}

	// Loosening the filter re-scans the agents the session already knows.
	session.SetCriteria(filter.Criteria{})
	if got := len(session.VisibleAgents()); got != 2 {
		t.Fatalf("visible after loosening = %d, want 2", got)
	}
}

func TestSessionRejectsBadRules(t *testing.T) {
	_, err := NewSession("http://localhost:8080", SessionOptions{RulesPath: "/nonexistent/rules.yaml"}, discardLogger())
	if err == nil {
		t.Fatal("expected rules load failure")
	}
}
