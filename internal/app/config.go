package app

import (
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/sparring-backend/internal/data/db"
	"github.com/yungbote/sparring-backend/internal/jobs/orchestrator"
	"github.com/yungbote/sparring-backend/internal/modules/prep/research"
	"github.com/yungbote/sparring-backend/internal/platform/envutil"
)

type Config struct {
	Port          string
	LogMode       string
	LogLevel      string
	ServiceName   string
	Environment   string
	Version       string
	CORSOrigins   []string
	ShutdownGrace time.Duration

	DB db.Config

	RedisAddr    string
	RedisChannel string

	WorkerConcurrency int
	WorkerQueueSize   int
	ProgressRetain    int
	Prep              orchestrator.Config
	Research          research.Config
	ResearchEnabled   bool

	AnalysisConcurrency int
	AnalysisNarrative   bool
	ClassifierMemoSize  int

	LiveClaimTTL time.Duration

	ArchiveBucket string
}

// LoadConfig reads the process environment, after applying a .env file in
// the working directory when one exists.
func LoadConfig() Config {
	_ = godotenv.Load()

	prep := orchestrator.DefaultConfig()
	prep.Retry.MaxAttempts = envutil.Int("PREP_MAX_ATTEMPTS", prep.Retry.MaxAttempts)
	prep.Retry.MinBackoff = envutil.Millis("PREP_MIN_BACKOFF_MS", prep.Retry.MinBackoff)
	prep.Retry.MaxBackoff = envutil.Millis("PREP_MAX_BACKOFF_MS", prep.Retry.MaxBackoff)
	prep.CallTimeout = envutil.Seconds("PREP_CALL_TIMEOUT_SECONDS", prep.CallTimeout)
	prep.ResearchTimeout = envutil.Seconds("RESEARCH_TIMEOUT_SECONDS", prep.ResearchTimeout)

	return Config{
		Port:          envutil.String("PORT", "8080"),
		LogMode:       envutil.String("LOG_MODE", "development"),
		LogLevel:      envutil.String("LOG_LEVEL", "debug"),
		ServiceName:   envutil.String("OTEL_SERVICE_NAME", "sparring-backend"),
		Environment:   envutil.String("APP_ENV", "local"),
		Version:       envutil.String("APP_VERSION", "dev"),
		CORSOrigins:   splitList(envutil.String("CORS_ALLOW_ORIGINS", "")),
		ShutdownGrace: envutil.Seconds("SHUTDOWN_GRACE_SECONDS", 20*time.Second),

		DB: db.Config{
			Driver:           strings.ToLower(envutil.String("DB_DRIVER", db.DriverPostgres)),
			PostgresHost:     envutil.String("POSTGRES_HOST", "localhost"),
			PostgresPort:     envutil.String("POSTGRES_PORT", "5432"),
			PostgresUser:     envutil.String("POSTGRES_USER", "postgres"),
			PostgresPassword: envutil.String("POSTGRES_PASSWORD", ""),
			PostgresName:     envutil.String("POSTGRES_NAME", "sparring"),
			SQLitePath:       envutil.String("SQLITE_PATH", ""),
		},

		RedisAddr:    envutil.String("REDIS_ADDR", ""),
		RedisChannel: envutil.String("REDIS_CHANNEL", "sparring:sse"),

		WorkerConcurrency: envutil.Int("WORKER_CONCURRENCY", 4),
		WorkerQueueSize:   envutil.Int("WORKER_QUEUE_SIZE", 64),
		ProgressRetain:    envutil.Int("PROGRESS_RETAIN_RUNS", 0),
		Prep:              prep,
		Research: research.Config{
			MaxSources:   envutil.Int("RESEARCH_MAX_SOURCES", 0),
			Concurrency:  envutil.Int("RESEARCH_CONCURRENCY", 0),
			FetchTimeout: envutil.Seconds("RESEARCH_FETCH_TIMEOUT_SECONDS", 0),
		},
		ResearchEnabled: envutil.Bool("RESEARCH_ENABLED", true),

		AnalysisConcurrency: envutil.Int("ANALYSIS_CONCURRENCY", 4),
		AnalysisNarrative:   envutil.Bool("ANALYSIS_NARRATIVE", true),
		ClassifierMemoSize:  envutil.Int("CLASSIFIER_MEMO_SIZE", 0),

		LiveClaimTTL: envutil.Seconds("LIVE_CLAIM_TTL_SECONDS", 30*time.Second),

		ArchiveBucket: envutil.String("ARTIFACT_ARCHIVE_BUCKET", ""),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
