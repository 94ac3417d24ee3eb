// Package aggregate computes summaries over filtered metric record sets.
// Everything here is a pure function of its inputs: aggregating twice over an
// unchanged record set yields identical results.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/filter"
)

// GroupBy selects the grouping dimension.
type GroupBy string

const (
	GroupByAgent GroupBy = "agent"
	GroupByTime  GroupBy = "time"
)

// ParseGroupBy validates a grouping dimension supplied at an API boundary.
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(s) {
	case GroupByAgent, GroupByTime:
		return GroupBy(s), nil
	}
	return "", fmt.Errorf("unknown groupBy %q", s)
}

// Stats holds null-safe statistics for one numeric field within a group. A
// record missing the field does not contribute here but still counts toward
// the group total.
type Stats struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Group is one aggregation bucket: an agent, or a time bucket.
type Group struct {
	AgentID     string           `json:"agent_id,omitempty"`
	BucketStart time.Time        `json:"bucket_start,omitempty"`
	Count       int64            `json:"count"`
	Fields      map[string]Stats `json:"fields"`
}

// Result is the outcome of one aggregation pass. Derived, never persisted.
type Result struct {
	GroupBy      GroupBy       `json:"group_by"`
	BucketSize   time.Duration `json:"-"`
	TotalMatched int64         `json:"total_matched"`
	Groups       []Group       `json:"groups"`
}

type accumulator struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (a *accumulator) add(v float64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.count++
	a.sum += v
}

func (a *accumulator) stats() Stats {
	return Stats{Count: a.count, Mean: a.sum / float64(a.count), Min: a.min, Max: a.max}
}

type groupAcc struct {
	agentID     string
	bucketStart time.Time
	count       int64
	fields      map[string]*accumulator
}

// Aggregate filters records through the predicate engine, then groups the
// matches and computes per-field statistics. Time buckets are UTC-aligned via
// Truncate(bucketSize); empty buckets are not synthesized.
func Aggregate(records []domain.MetricRecord, criteria filter.Criteria, groupBy GroupBy, bucketSize time.Duration, now time.Time) (Result, error) {
	if groupBy == GroupByTime && bucketSize <= 0 {
		return Result{}, fmt.Errorf("bucket size required for time grouping")
	}

	groups := make(map[string]*groupAcc)
	var total int64
	for _, rec := range records {
		if !criteria.Matches(rec, now) {
			continue
		}
		total++

		var key string
		acc := &groupAcc{}
		switch groupBy {
		case GroupByAgent:
			key = rec.AgentID
			acc.agentID = rec.AgentID
		case GroupByTime:
			start := rec.Timestamp.UTC().Truncate(bucketSize)
			key = start.Format(time.RFC3339Nano)
			acc.bucketStart = start
		default:
			return Result{}, fmt.Errorf("unknown groupBy %q", groupBy)
		}
		if existing, ok := groups[key]; ok {
			acc = existing
		} else {
			acc.fields = make(map[string]*accumulator)
			groups[key] = acc
		}
		acc.count++

		for _, f := range domain.MetricFields {
			if v, ok := rec.MetricValue(f); ok {
				fieldAcc(acc, f).add(v)
			}
		}
		for name, v := range rec.CustomMetrics {
			fieldAcc(acc, name).add(v)
		}
	}

	result := Result{GroupBy: groupBy, BucketSize: bucketSize, TotalMatched: total}
	result.Groups = make([]Group, 0, len(groups))
	for _, acc := range groups {
		g := Group{
			AgentID:     acc.agentID,
			BucketStart: acc.bucketStart,
			Count:       acc.count,
			Fields:      make(map[string]Stats, len(acc.fields)),
		}
		for name, a := range acc.fields {
			g.Fields[name] = a.stats()
		}
		result.Groups = append(result.Groups, g)
	}
	sort.Slice(result.Groups, func(i, j int) bool {
		if groupBy == GroupByTime {
			return result.Groups[i].BucketStart.Before(result.Groups[j].BucketStart)
		}
		return result.Groups[i].AgentID < result.Groups[j].AgentID
	})
	return result, nil
}

func fieldAcc(g *groupAcc, name string) *accumulator {
	a, ok := g.fields[name]
	if !ok {
		a = &accumulator{}
		g.fields[name] = a
	}
	return a
}
