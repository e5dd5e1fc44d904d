package app

import (
	"testing"
	"time"

	"github.com/yungbote/sparring-backend/internal/data/db"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_DRIVER", "PREP_MAX_ATTEMPTS", "CORS_ALLOW_ORIGINS", "RESEARCH_ENABLED"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig()
	if cfg.Port != "8080" || cfg.DB.Driver != db.DriverPostgres {
		t.Fatalf("defaults: port=%q driver=%q", cfg.Port, cfg.DB.Driver)
	}
	if cfg.Prep.Retry.MaxAttempts != 3 || cfg.Prep.CallTimeout != 90*time.Second {
		t.Fatalf("prep defaults: %+v", cfg.Prep)
	}
	if !cfg.ResearchEnabled || len(cfg.CORSOrigins) != 0 {
		t.Fatalf("research=%v cors=%v", cfg.ResearchEnabled, cfg.CORSOrigins)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("PREP_MAX_ATTEMPTS", "5")
	t.Setenv("PREP_MIN_BACKOFF_MS", "250")
	t.Setenv("PREP_CALL_TIMEOUT_SECONDS", "30")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RESEARCH_ENABLED", "false")

	cfg := LoadConfig()
	if cfg.DB.Driver != db.DriverSQLite {
		t.Fatalf("driver: %q", cfg.DB.Driver)
	}
	if cfg.Prep.Retry.MaxAttempts != 5 || cfg.Prep.Retry.MinBackoff != 250*time.Millisecond || cfg.Prep.CallTimeout != 30*time.Second {
		t.Fatalf("prep overrides: %+v", cfg.Prep)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors: %v", cfg.CORSOrigins)
	}
	if cfg.ResearchEnabled {
		t.Fatalf("research should be disabled")
	}
}
