package ingest

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
)

type bucketKey struct {
	agentID string
	start   time.Time
}

type rollupBucket struct {
	count      int64
	latencies  []float64
	latencySum float64
	latencyMax float64
	latencyN   int64
	hasLatency bool
	cpuSum     float64
	cpuN       int64
	memSum     float64
	memN       int64
	costSum    float64
	hasCost    bool
}

type rollupAggregator struct {
	mu         sync.Mutex
	span       time.Duration
	maxSamples int
	buckets    map[bucketKey]*rollupBucket
	now        func() time.Time
	random     *rand.Rand
}

const defaultRollupSamples = 512

func newRollupAggregator(span time.Duration, maxSamples int, now func() time.Time) *rollupAggregator {
	if span <= 0 {
		span = time.Minute
	}
	if maxSamples <= 0 {
		maxSamples = defaultRollupSamples
	}
	if now == nil {
		now = time.Now
	}
	return &rollupAggregator{
		span:       span,
		maxSamples: maxSamples,
		buckets:    make(map[bucketKey]*rollupBucket),
		now:        now,
		random:     rand.New(rand.NewSource(now().UnixNano())),
	}
}

func (a *rollupAggregator) add(record domain.MetricRecord) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := bucketKey{
		agentID: record.AgentID,
		start:   record.Timestamp.UTC().Truncate(a.span),
	}
	bucket := a.buckets[key]
	if bucket == nil {
		bucket = &rollupBucket{}
		a.buckets[key] = bucket
	}
	bucket.count++
	if record.LatencyMS != nil {
		lat := *record.LatencyMS
		bucket.latencyN++
		bucket.latencySum += lat
		if !bucket.hasLatency || lat > bucket.latencyMax {
			bucket.latencyMax = lat
			bucket.hasLatency = true
		}
		// Reservoir sampling keeps the p95 estimate bounded in memory.
		if len(bucket.latencies) < a.maxSamples {
			bucket.latencies = append(bucket.latencies, lat)
		} else {
			idx := a.random.Intn(a.maxSamples)
			bucket.latencies[idx] = lat
		}
	}
	if record.CPUUsagePercent != nil {
		bucket.cpuSum += *record.CPUUsagePercent
		bucket.cpuN++
	}
	if record.MemoryUsageMB != nil {
		bucket.memSum += *record.MemoryUsageMB
		bucket.memN++
	}
	if record.CostPerRequest != nil {
		bucket.costSum += *record.CostPerRequest
		bucket.hasCost = true
	}
}

func (a *rollupAggregator) flushBefore(cutoff time.Time) []domain.MetricRollup {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buckets) == 0 {
		return nil
	}
	rollups := make([]domain.MetricRollup, 0)
	for key, bucket := range a.buckets {
		if key.start.Add(a.span).After(cutoff) {
			continue
		}
		rollups = append(rollups, bucket.toRollup(key, a.span, a.now()))
		delete(a.buckets, key)
	}
	return rollups
}

func (a *rollupAggregator) flushAll() []domain.MetricRollup {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buckets) == 0 {
		return nil
	}
	now := a.now()
	rollups := make([]domain.MetricRollup, 0, len(a.buckets))
	for key, bucket := range a.buckets {
		rollups = append(rollups, bucket.toRollup(key, a.span, now))
		delete(a.buckets, key)
	}
	return rollups
}

func (b *rollupBucket) toRollup(key bucketKey, span time.Duration, now time.Time) domain.MetricRollup {
	r := domain.MetricRollup{
		AgentID:     key.agentID,
		BucketStart: key.start,
		BucketSpan:  span,
		Count:       b.count,
		UpdatedAt:   now,
	}
	if b.latencyN > 0 {
		avg := b.latencySum / float64(b.latencyN)
		r.AvgLatencyMS = &avg
	}
	if b.hasLatency {
		max := b.latencyMax
		r.MaxLatencyMS = &max
	}
	if len(b.latencies) > 0 {
		sorted := append([]float64(nil), b.latencies...)
		sort.Float64s(sorted)
		p95 := percentile(sorted, 0.95)
		r.P95LatencyMS = &p95
	}
	if b.cpuN > 0 {
		avg := b.cpuSum / float64(b.cpuN)
		r.AvgCPUPct = &avg
	}
	if b.memN > 0 {
		avg := b.memSum / float64(b.memN)
		r.AvgMemoryMB = &avg
	}
	if b.hasCost {
		total := b.costSum
		r.TotalCost = &total
	}
	return r
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	pos := p * float64(len(values)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return values[lower]
	}
	weight := pos - float64(lower)
	return values[lower]*(1-weight) + values[upper]*weight
}
