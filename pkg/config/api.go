package config

import "time"

// APIConfig holds runtime configuration for the telemetry API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	MigrateOnStart     bool
	AgentAuthToken     string
	LivenessTimeout    time.Duration
	ExportRowCap       int
	QueryScanCap       int
	MetricBucketSpan   time.Duration
	MetricFlushEvery   time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":8080"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://sentinel:sentinel@db:5432/sentinel?sslmode=disable"),
		MigrationsDir:      GetString("MIGRATIONS_DIR", "db/migrations"),
		MigrateOnStart:     GetBool("MIGRATE_ON_START", false),
		AgentAuthToken:     GetString("AGENT_AUTH_TOKEN", ""),
		LivenessTimeout:    GetDuration("AGENT_LIVENESS_TIMEOUT", 5*time.Minute),
		ExportRowCap:       GetInt("EXPORT_ROW_CAP", 50000),
		QueryScanCap:       GetInt("QUERY_SCAN_CAP", 50000),
		MetricBucketSpan:   GetDuration("METRIC_BUCKET_SPAN", time.Minute),
		MetricFlushEvery:   GetDuration("METRIC_FLUSH_EVERY", 30*time.Second),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
