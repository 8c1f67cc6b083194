package main

import (
	"testing"
	"time"

	"github.com/bdobrica/chobo/internal/chobo/app"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, n := range envNames {
		t.Setenv(n, "")
	}
	cfg := loadConfig()
	def := app.DefaultConfig()
	if cfg.DatabasePath != def.DatabasePath || cfg.SessionTTL != def.SessionTTL {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.NLP.Enabled() {
		t.Error("upstream should be off without an API key")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("CHOBO_DB_PATH", "/var/lib/chobo/ledger.db")
	t.Setenv("CHOBO_SESSION_TTL", "15m")
	t.Setenv("CHOBO_SESSION_FALLBACK", "yes")
	t.Setenv("CHOBO_LOG_FORMAT", "json")
	t.Setenv("CHOBO_NLP_API_KEY", "sk-test-123")
	t.Setenv("CHOBO_NLP_TIMEOUT", "5")
	t.Setenv("CHOBO_NLP_RETRIES", "2")
	t.Setenv("CHOBO_NLP_MIN_CONFIDENCE", "0.8")
	t.Setenv("CHOBO_NLP_RATE_LIMIT", "10")

	cfg := loadConfig()
	if cfg.DatabasePath != "/var/lib/chobo/ledger.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.SessionTTL != 15*time.Minute || !cfg.SessionFallback {
		t.Errorf("session settings = %v, %v", cfg.SessionTTL, cfg.SessionFallback)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	n := cfg.NLP
	if !n.Enabled() || n.Timeout != 5*time.Second || n.Retries != 2 || n.MinConfidence != 0.8 || n.RateLimit != 10 {
		t.Errorf("unexpected nlp config: %+v", n)
	}
}
