// Chobo is an interactive book-keeping assistant: type sales and purchases in
// plain language, answer its questions, confirm, and the order is saved.
//
// All configuration is loaded from environment variables.
//
//	CHOBO_DB_PATH             - SQLite ledger file (default: chobo.db)
//	CHOBO_VOCABULARY          - YAML product vocabulary replacing the built-in one
//	CHOBO_SESSION_TTL         - draft inactivity window (default: 10m)
//	CHOBO_SESSION_FALLBACK    - continue the most recent draft when no session is given
//	CHOBO_LOG_LEVEL           - "debug", "info", "warn", "error" (default: "info")
//	CHOBO_LOG_FORMAT          - "text" or "json" (default: "text")
//	CHOBO_NLP_API_KEY         - enables the upstream intent classifier
//	CHOBO_NLP_ENDPOINT        - OpenAI-compatible base URL
//	CHOBO_NLP_MODEL           - chat model (default: gpt-4o-mini)
//	CHOBO_NLP_TIMEOUT         - per-turn classifier budget (default: 3s)
//	CHOBO_NLP_RETRIES         - extra attempts after a transient failure (default: 1)
//	CHOBO_NLP_MIN_CONFIDENCE  - ignore upstream answers below this (default: 0.6)
//	CHOBO_NLP_RATE_LIMIT      - classifier calls per session per minute (default: 20)
//
// Logs go to stderr; the conversation uses stdin and stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/chobo/common/environment"
	"github.com/bdobrica/chobo/common/version"
	"github.com/bdobrica/chobo/internal/chobo/app"
	"github.com/bdobrica/chobo/internal/chobo/observability"
)

var envNames = []string{
	"CHOBO_DB_PATH", "CHOBO_VOCABULARY", "CHOBO_SESSION_TTL", "CHOBO_SESSION_FALLBACK",
	"CHOBO_LOG_LEVEL", "CHOBO_LOG_FORMAT",
	"CHOBO_NLP_API_KEY", "CHOBO_NLP_ENDPOINT", "CHOBO_NLP_MODEL", "CHOBO_NLP_TIMEOUT",
	"CHOBO_NLP_RETRIES", "CHOBO_NLP_MIN_CONFIDENCE", "CHOBO_NLP_RATE_LIMIT",
}

func main() {
	fmt.Fprintln(os.Stderr, version.Banner("chobo"))

	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log := observability.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	log.Debug("config.loaded", "env", environment.Describe(envNames, "CHOBO_NLP_API_KEY"))

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize chobo", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error("chobo exited with error", "err", err)
		a.Close()
		os.Exit(1)
	}
}

func loadConfig() app.Config {
	def := app.DefaultConfig()
	return app.Config{
		DatabasePath:    environment.StringOr("CHOBO_DB_PATH", def.DatabasePath),
		VocabularyPath:  environment.StringOr("CHOBO_VOCABULARY", ""),
		SessionTTL:      environment.DurationOr("CHOBO_SESSION_TTL", def.SessionTTL),
		SessionFallback: environment.BoolOr("CHOBO_SESSION_FALLBACK", false),
		LogLevel:        environment.StringOr("CHOBO_LOG_LEVEL", def.LogLevel),
		LogFormat:       environment.StringOr("CHOBO_LOG_FORMAT", def.LogFormat),
		NLP: app.NLPConfig{
			APIKey:        environment.StringOr("CHOBO_NLP_API_KEY", ""),
			BaseURL:       environment.StringOr("CHOBO_NLP_ENDPOINT", ""),
			Model:         environment.StringOr("CHOBO_NLP_MODEL", ""),
			Timeout:       environment.DurationOr("CHOBO_NLP_TIMEOUT", def.NLP.Timeout),
			Retries:       environment.IntOr("CHOBO_NLP_RETRIES", def.NLP.Retries),
			MinConfidence: environment.FloatOr("CHOBO_NLP_MIN_CONFIDENCE", def.NLP.MinConfidence),
			RateLimit:     environment.IntOr("CHOBO_NLP_RATE_LIMIT", def.NLP.RateLimit),
		},
	}
}
