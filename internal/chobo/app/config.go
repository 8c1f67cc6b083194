package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/chobo/internal/chobo/nlp"
	"github.com/bdobrica/chobo/internal/chobo/session"
)

// Config holds application configuration.
type Config struct {
	// DatabasePath is the SQLite ledger file. ":memory:" keeps everything in
	// process.
	DatabasePath string
	// VocabularyPath is an optional YAML product vocabulary replacing the
	// built-in one.
	VocabularyPath string

	// SessionTTL is the draft inactivity window. Defaults to 10 minutes.
	SessionTTL time.Duration
	// SessionFallback lets a turn without a session id continue the most
	// recent draft. Only sensible for a single-user host.
	SessionFallback bool

	LogLevel  string
	LogFormat string

	NLP NLPConfig

	// Now overrides the clock everywhere. Tests only.
	Now func() time.Time
}

// NLPConfig configures the optional upstream classifier. With no APIKey and
// no Provider, intent classification is local only.
type NLPConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds one classification, retries included.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	// MinConfidence is the floor under which upstream answers are ignored.
	MinConfidence float64
	// RateLimit caps upstream calls per session per minute.
	RateLimit int

	// Provider replaces the HTTP client when set.
	Provider nlp.Provider
}

// Enabled reports whether an upstream classifier is configured.
func (c NLPConfig) Enabled() bool {
	return c.Provider != nil || c.APIKey != ""
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		DatabasePath: "chobo.db",
		SessionTTL:   session.DefaultTTL,
		LogLevel:     "info",
		LogFormat:    "text",
		NLP: NLPConfig{
			Timeout:       3 * time.Second,
			Retries:       1,
			MinConfidence: 0.6,
			RateLimit:     nlp.DefaultRateLimit,
		},
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("session TTL must not be negative (got %s)", c.SessionTTL))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json (got %q)", c.LogFormat))
	}
	if c.NLP.MinConfidence < 0 || c.NLP.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("nlp min confidence must be within [0, 1] (got %v)", c.NLP.MinConfidence))
	}
	if c.NLP.Retries < 0 {
		errs = append(errs, fmt.Errorf("nlp retries must not be negative (got %d)", c.NLP.Retries))
	}
	if c.NLP.Timeout < 0 {
		errs = append(errs, fmt.Errorf("nlp timeout must not be negative (got %s)", c.NLP.Timeout))
	}
	return errors.Join(errs...)
}
