package filter

import (
	"testing"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
)

func textRecord(agentID string, tags map[string]string) domain.MetricRecord {
	lat := 100.0
	return domain.MetricRecord{
		AgentID:   agentID,
		Timestamp: time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC),
		LatencyMS: &lat,
		Tags:      tags,
	}
}

func TestBareTokenMatchesSearchableFieldsSubstring(t *testing.T) {
	rec := textRecord("Checkout-Agent-7", map[string]string{"type": "inference"})

	if q := ParseTextQuery("checkout"); !q.matches(rec) {
		t.Fatalf("bare token should match agent_id case-insensitively")
	}
	if q := ParseTextQuery("INFER"); !q.matches(rec) {
		t.Fatalf("bare token should match type substring")
	}
	if q := ParseTextQuery("billing"); q.matches(rec) {
		t.Fatalf("unrelated token should not match")
	}
}

func TestFieldValueToken(t *testing.T) {
	rec := textRecord("a1", map[string]string{"environment": "production"})

	if q := ParseTextQuery("environment:production"); !q.matches(rec) {
		t.Fatalf("field:value token should match tag equality")
	}
	if q := ParseTextQuery("environment:prod"); q.matches(rec) {
		t.Fatalf("field:value is equality, not substring")
	}
	if q := ParseTextQuery("latency_ms:100"); !q.matches(rec) {
		t.Fatalf("numeric field token should compare numerically")
	}
	if q := ParseTextQuery("latency_ms:101"); q.matches(rec) {
		t.Fatalf("numeric field token mismatch should fail")
	}
}

func TestAndBindsTighterThanOr(t *testing.T) {
	prod := textRecord("api-1", map[string]string{"environment": "production"})
	stage := textRecord("worker-2", map[string]string{"environment": "staging"})

	// api AND environment:production OR worker
	q := ParseTextQuery("api AND environment:production OR worker")
	if !q.matches(prod) {
		t.Fatalf("left AND group should match prod record")
	}
	if !q.matches(stage) {
		t.Fatalf("right OR arm should match worker record")
	}

	other := textRecord("api-9", map[string]string{"environment": "staging"})
	if q.matches(other) {
		t.Fatalf("api in staging matches neither arm")
	}
}

func TestImplicitAndBetweenAdjacentTokens(t *testing.T) {
	rec := textRecord("api-1", map[string]string{"environment": "production"})
	if q := ParseTextQuery("api environment:production"); !q.matches(rec) {
		t.Fatalf("adjacent tokens combine with implicit AND")
	}
	if q := ParseTextQuery("api environment:staging"); q.matches(rec) {
		t.Fatalf("one failing term should fail the AND group")
	}
}

func TestUnrecognizedTokensAreBareTerms(t *testing.T) {
	rec := textRecord("a1", nil)
	// A stray colon token with empty parts falls back to a bare term.
	if q := ParseTextQuery(":"); q == nil || q.matches(rec) {
		t.Fatalf("stray colon should parse as a non-matching bare term")
	}
	if q := ParseTextQuery("   "); q != nil {
		t.Fatalf("all-whitespace query should parse to nil")
	}
}

func TestDeterministicEvaluation(t *testing.T) {
	rec := textRecord("api-1", map[string]string{"environment": "production"})
	q := ParseTextQuery("api OR environment:staging")
	first := q.matches(rec)
	for i := 0; i < 100; i++ {
		if q.matches(rec) != first {
			t.Fatalf("evaluation is not deterministic")
		}
	}
}
