package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ShanKonduru/sentinel-ai/internal/domain"
	"github.com/ShanKonduru/sentinel-ai/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.MetricRepository = (*Repository)(nil)
	_ repository.AgentRepository  = (*Repository)(nil)
	_ repository.PresetRepository = (*Repository)(nil)
	_ repository.RollupRepository = (*Repository)(nil)
)

// mapError translates driver failures into the repository sentinels. A store
// that cannot be reached must not look like a store with no rows.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %s", repository.ErrUnavailable, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "23"), pgErr.Code == "22P02":
			return fmt.Errorf("%w: %s", repository.ErrInvalidArgument, pgErr.Message)
		}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return err
}

// InsertMetric persists a metric record.
func (r *Repository) InsertMetric(ctx context.Context, record *domain.MetricRecord) error {
	if record == nil {
		return fmt.Errorf("metric record required")
	}
	const query = `INSERT INTO metrics (
		metric_id,
		agent_id,
		ts,
		latency_ms,
		throughput_req_per_min,
		cost_per_request,
		cpu_usage_percent,
		gpu_usage_percent,
		memory_usage_mb,
		custom_metrics,
		tags,
		ingested_at
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,COALESCE($12, NOW())
	) RETURNING ingested_at`
	customJSON, err := mapToJSON(record.CustomMetrics)
	if err != nil {
		return err
	}
	tagsJSON, err := mapToJSON(record.Tags)
	if err != nil {
		return err
	}
	var ingested time.Time
	err = r.pool.QueryRow(ctx, query,
		record.MetricID,
		record.AgentID,
		record.Timestamp.UTC(),
		floatPtrToNil(record.LatencyMS),
		floatPtrToNil(record.ThroughputReqPerMin),
		floatPtrToNil(record.CostPerRequest),
		floatPtrToNil(record.CPUUsagePercent),
		floatPtrToNil(record.GPUUsagePercent),
		floatPtrToNil(record.MemoryUsageMB),
		customJSON,
		tagsJSON,
		nilTime(record.IngestedAt),
	).Scan(&ingested)
	if err != nil {
		return mapError(err)
	}
	record.IngestedAt = ingested
	return nil
}

// ListMetrics returns records newest first together with the total count of
// matching rows before pagination.
func (r *Repository) ListMetrics(ctx context.Context, q repository.MetricQuery) ([]domain.MetricRecord, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT
		metric_id,
		agent_id,
		ts,
		latency_ms,
		throughput_req_per_min,
		cost_per_request,
		cpu_usage_percent,
		gpu_usage_percent,
		memory_usage_mb,
		custom_metrics,
		tags,
		ingested_at,
		COUNT(*) OVER () AS total
	FROM metrics
	WHERE ($1 = '' OR agent_id = $1)
		AND ($2::timestamptz IS NULL OR ts >= $2)
		AND ($3::timestamptz IS NULL OR ts < $3)
	ORDER BY ts DESC, metric_id DESC
	LIMIT $4 OFFSET $5`
	rows, err := r.pool.Query(ctx, query, q.AgentID, timePtrToNil(q.Start), timePtrToNil(q.End), limit, offset)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	records := make([]domain.MetricRecord, 0)
	total := 0
	for rows.Next() {
		rec, rowTotal, err := scanMetric(rows)
		if err != nil {
			return nil, 0, err
		}
		total = rowTotal
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err)
	}
	if len(records) == 0 {
		// The window function yields no rows on an empty page; ask for
		// the count directly so offset-past-the-end still reports it.
		const countQuery = `SELECT COUNT(1) FROM metrics
			WHERE ($1 = '' OR agent_id = $1)
				AND ($2::timestamptz IS NULL OR ts >= $2)
				AND ($3::timestamptz IS NULL OR ts < $3)`
		if err := r.pool.QueryRow(ctx, countQuery, q.AgentID, timePtrToNil(q.Start), timePtrToNil(q.End)).Scan(&total); err != nil {
			return nil, 0, mapError(err)
		}
	}
	return records, total, nil
}

func scanMetric(rows pgx.Rows) (domain.MetricRecord, int, error) {
	var (
		rec                                              domain.MetricRecord
		latency, throughput, cost, cpuPct, gpuPct, memMB sql.NullFloat64
		customJSON, tagsJSON                             []byte
		total                                            int
	)
	if err := rows.Scan(
		&rec.MetricID,
		&rec.AgentID,
		&rec.Timestamp,
		&latency,
		&throughput,
		&cost,
		&cpuPct,
		&gpuPct,
		&memMB,
		&customJSON,
		&tagsJSON,
		&rec.IngestedAt,
		&total,
	); err != nil {
		return domain.MetricRecord{}, 0, mapError(err)
	}
	rec.LatencyMS = nullToFloatPtr(latency)
	rec.ThroughputReqPerMin = nullToFloatPtr(throughput)
	rec.CostPerRequest = nullToFloatPtr(cost)
	rec.CPUUsagePercent = nullToFloatPtr(cpuPct)
	rec.GPUUsagePercent = nullToFloatPtr(gpuPct)
	rec.MemoryUsageMB = nullToFloatPtr(memMB)
	if len(customJSON) > 0 {
		if err := json.Unmarshal(customJSON, &rec.CustomMetrics); err != nil {
			return domain.MetricRecord{}, 0, fmt.Errorf("decode custom metrics: %w", err)
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
			return domain.MetricRecord{}, 0, fmt.Errorf("decode tags: %w", err)
		}
	}
	return rec, total, nil
}

// UpsertAgentOnMetric registers an agent on first contact. last_seen only
// moves forward so a late-arriving metric cannot make an agent look older.
func (r *Repository) UpsertAgentOnMetric(ctx context.Context, agent *domain.Agent) error {
	if agent == nil {
		return fmt.Errorf("agent required")
	}
	const query = `INSERT INTO agents (agent_id, name, description, status, last_seen, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (agent_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_seen = GREATEST(agents.last_seen, EXCLUDED.last_seen),
			metadata = COALESCE(EXCLUDED.metadata, agents.metadata)
		RETURNING name, created_at`
	metadataJSON, err := mapToJSON(agent.Metadata)
	if err != nil {
		return err
	}
	var (
		name      string
		createdAt time.Time
	)
	err = r.pool.QueryRow(ctx, query,
		agent.AgentID,
		agent.Name,
		agent.Description,
		string(agent.Status),
		agent.LastSeen.UTC(),
		metadataJSON,
	).Scan(&name, &createdAt)
	if err != nil {
		return mapError(err)
	}
	agent.Name = name
	agent.CreatedAt = createdAt
	return nil
}

// GetAgent returns one agent by identifier.
func (r *Repository) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	const query = `SELECT agent_id, name, description, status, last_seen, metadata, created_at
		FROM agents WHERE agent_id = $1`
	agent, err := scanAgent(r.pool.QueryRow(ctx, query, agentID))
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents returns every registered agent, most recently seen first.
func (r *Repository) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	const query = `SELECT agent_id, name, description, status, last_seen, metadata, created_at
		FROM agents ORDER BY last_seen DESC, agent_id ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	agents := make([]domain.Agent, 0)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return agents, nil
}

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var (
		agent        domain.Agent
		status       string
		lastSeen     sql.NullTime
		metadataJSON []byte
	)
	if err := row.Scan(
		&agent.AgentID,
		&agent.Name,
		&agent.Description,
		&status,
		&lastSeen,
		&metadataJSON,
		&agent.CreatedAt,
	); err != nil {
		return nil, mapError(err)
	}
	agent.Status = domain.Status(status)
	if lastSeen.Valid {
		agent.LastSeen = lastSeen.Time.UTC()
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &agent.Metadata); err != nil {
			return nil, fmt.Errorf("decode agent metadata: %w", err)
		}
	}
	return &agent, nil
}

// UpsertPreset saves or overwrites a named preset for a user.
func (r *Repository) UpsertPreset(ctx context.Context, preset *domain.FilterPreset) error {
	if preset == nil {
		return fmt.Errorf("preset required")
	}
	const query = `INSERT INTO filter_presets (user_id, name, criteria, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, name) DO UPDATE SET
			criteria = EXCLUDED.criteria,
			updated_at = NOW()
		RETURNING updated_at`
	var updatedAt time.Time
	if err := r.pool.QueryRow(ctx, query, preset.UserID, preset.Name, preset.Criteria).Scan(&updatedAt); err != nil {
		return mapError(err)
	}
	preset.UpdatedAt = updatedAt
	return nil
}

// GetPreset fetches one preset by owner and name.
func (r *Repository) GetPreset(ctx context.Context, userID, name string) (*domain.FilterPreset, error) {
	const query = `SELECT user_id, name, criteria, updated_at
		FROM filter_presets WHERE user_id = $1 AND name = $2`
	row := r.pool.QueryRow(ctx, query, userID, name)
	var preset domain.FilterPreset
	if err := row.Scan(&preset.UserID, &preset.Name, &preset.Criteria, &preset.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &preset, nil
}

// ListPresets enumerates a user's presets by name.
func (r *Repository) ListPresets(ctx context.Context, userID string) ([]domain.FilterPreset, error) {
	const query = `SELECT user_id, name, criteria, updated_at
		FROM filter_presets WHERE user_id = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	presets := make([]domain.FilterPreset, 0)
	for rows.Next() {
		var preset domain.FilterPreset
		if err := rows.Scan(&preset.UserID, &preset.Name, &preset.Criteria, &preset.UpdatedAt); err != nil {
			return nil, mapError(err)
		}
		presets = append(presets, preset)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return presets, nil
}

// DeletePreset removes a preset, reporting ErrNotFound when nothing matched.
func (r *Repository) DeletePreset(ctx context.Context, userID, name string) error {
	const query = `DELETE FROM filter_presets WHERE user_id = $1 AND name = $2`
	cmdTag, err := r.pool.Exec(ctx, query, userID, name)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpsertRollups writes aggregated metric buckets in one batch.
func (r *Repository) UpsertRollups(ctx context.Context, rollups []domain.MetricRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	const query = `INSERT INTO metric_rollups (
		agent_id,
		bucket_start,
		bucket_span_seconds,
		count,
		avg_latency_ms,
		max_latency_ms,
		p95_latency_ms,
		avg_cpu_percent,
		avg_memory_mb,
		total_cost,
		updated_at
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW()
	) ON CONFLICT (agent_id, bucket_start, bucket_span_seconds)
	DO UPDATE SET
		count = EXCLUDED.count,
		avg_latency_ms = EXCLUDED.avg_latency_ms,
		max_latency_ms = EXCLUDED.max_latency_ms,
		p95_latency_ms = EXCLUDED.p95_latency_ms,
		avg_cpu_percent = EXCLUDED.avg_cpu_percent,
		avg_memory_mb = EXCLUDED.avg_memory_mb,
		total_cost = EXCLUDED.total_cost,
		updated_at = NOW()`
	batch := &pgx.Batch{}
	for _, rollup := range rollups {
		spanSeconds := int(rollup.BucketSpan.Seconds())
		if spanSeconds <= 0 {
			spanSeconds = 60
		}
		batch.Queue(query,
			rollup.AgentID,
			rollup.BucketStart.UTC(),
			spanSeconds,
			rollup.Count,
			floatPtrToNil(rollup.AvgLatencyMS),
			floatPtrToNil(rollup.MaxLatencyMS),
			floatPtrToNil(rollup.P95LatencyMS),
			floatPtrToNil(rollup.AvgCPUPct),
			floatPtrToNil(rollup.AvgMemoryMB),
			floatPtrToNil(rollup.TotalCost),
		)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rollups {
		if _, err := br.Exec(); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// ListRollups returns recent buckets for one agent at the given span.
func (r *Repository) ListRollups(ctx context.Context, agentID string, bucketSpan time.Duration, limit int) ([]domain.MetricRollup, error) {
	if limit <= 0 {
		limit = 100
	}
	spanSeconds := int(bucketSpan.Seconds())
	if spanSeconds <= 0 {
		spanSeconds = 60
	}
	const query = `SELECT
		agent_id,
		bucket_start,
		bucket_span_seconds,
		count,
		avg_latency_ms,
		max_latency_ms,
		p95_latency_ms,
		avg_cpu_percent,
		avg_memory_mb,
		total_cost,
		updated_at
	FROM metric_rollups
	WHERE agent_id = $1 AND bucket_span_seconds = $2
	ORDER BY bucket_start DESC
	LIMIT $3`
	rows, err := r.pool.Query(ctx, query, agentID, spanSeconds, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	rollups := make([]domain.MetricRollup, 0)
	for rows.Next() {
		var (
			rollup                    domain.MetricRollup
			rowSpanSeconds            int
			avgLat, maxLat, p95Lat    sql.NullFloat64
			avgCPU, avgMem, totalCost sql.NullFloat64
		)
		if err := rows.Scan(
			&rollup.AgentID,
			&rollup.BucketStart,
			&rowSpanSeconds,
			&rollup.Count,
			&avgLat,
			&maxLat,
			&p95Lat,
			&avgCPU,
			&avgMem,
			&totalCost,
			&rollup.UpdatedAt,
		); err != nil {
			return nil, mapError(err)
		}
		rollup.BucketSpan = time.Duration(rowSpanSeconds) * time.Second
		rollup.AvgLatencyMS = nullToFloatPtr(avgLat)
		rollup.MaxLatencyMS = nullToFloatPtr(maxLat)
		rollup.P95LatencyMS = nullToFloatPtr(p95Lat)
		rollup.AvgCPUPct = nullToFloatPtr(avgCPU)
		rollup.AvgMemoryMB = nullToFloatPtr(avgMem)
		rollup.TotalCost = nullToFloatPtr(totalCost)
		rollups = append(rollups, rollup)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return rollups, nil
}

func mapToJSON[V any](m map[string]V) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode map: %w", err)
	}
	return data, nil
}

func floatPtrToNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullToFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	value := v.Float64
	return &value
}

func timePtrToNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nilTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
