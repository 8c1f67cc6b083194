// Package app wires the chobo components together and runs the line-based
// REPL host: one line in is one dialogue turn, lines starting with /chobo are
// host commands.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/chobo/common/retry"
	"github.com/bdobrica/chobo/internal/chobo/commands"
	"github.com/bdobrica/chobo/internal/chobo/dialogue"
	"github.com/bdobrica/chobo/internal/chobo/extract"
	"github.com/bdobrica/chobo/internal/chobo/intent"
	"github.com/bdobrica/chobo/internal/chobo/learning"
	"github.com/bdobrica/chobo/internal/chobo/ledger"
	"github.com/bdobrica/chobo/internal/chobo/nlp"
	"github.com/bdobrica/chobo/internal/chobo/session"
)

const (
	// commandPrefix starts every host command.
	commandPrefix = "/chobo"
	// warmupOrders is how many recent ledger orders are replayed into the
	// learning cache at start-up.
	warmupOrders = 500
	// sweepInterval is how often expired drafts are dropped.
	sweepInterval = time.Minute
)

// App is the assembled application.
type App struct {
	cfg      Config
	log      *slog.Logger
	ledger   *ledger.Store
	sessions *session.Store
	learning *learning.Cache
	engine   *dialogue.Engine
	commands *commands.Router

	mu        sync.Mutex
	sessionID string

	closeOnce sync.Once
}

// New creates the application from cfg. The caller must Close it.
func New(cfg Config, log *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}

	vocab := extract.DefaultVocabulary()
	if cfg.VocabularyPath != "" {
		v, err := extract.LoadVocabulary(cfg.VocabularyPath)
		if err != nil {
			return nil, fmt.Errorf("load vocabulary: %w", err)
		}
		vocab = v
	}
	ex := extract.New(vocab)

	store, err := ledger.New(cfg.DatabasePath, ledger.WithClock(cfg.Now), ledger.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	a := &App{
		cfg:    cfg,
		log:    log,
		ledger: store,
		sessions: session.New(session.Config{
			TTL:                  cfg.SessionTTL,
			FallbackToMostRecent: cfg.SessionFallback,
			Now:                  cfg.Now,
		}),
		learning: learning.NewCache(cfg.Now),
	}

	if err := a.warmLearning(context.Background()); err != nil {
		store.Close()
		return nil, err
	}

	router := intent.NewRouter(ex, a.routerOptions())
	a.engine, err = dialogue.New(
		dialogue.Config{Now: cfg.Now, Logger: log},
		dialogue.Deps{
			Sessions:  a.sessions,
			Extractor: ex,
			Router:    router,
			Learning:  a.learning,
			Ledger:    store,
			Directory: store,
		},
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create dialogue engine: %w", err)
	}

	a.commands = commands.NewRouter(commandPrefix)
	a.registerCommands()
	a.sessionID = session.NewID()

	log.Info("app.ready",
		"db", cfg.DatabasePath,
		"products", len(vocab.Products),
		"session_ttl", a.sessions.TTL(),
		"upstream", cfg.NLP.Enabled(),
	)
	return a, nil
}

func (a *App) routerOptions() intent.Options {
	opts := intent.Options{
		Timeout:       a.cfg.NLP.Timeout,
		MinConfidence: a.cfg.NLP.MinConfidence,
		Logger:        a.log,
	}
	if !a.cfg.NLP.Enabled() {
		return opts
	}
	opts.Provider = a.cfg.NLP.Provider
	if opts.Provider == nil {
		opts.Provider = nlp.New(nlp.Config{
			APIKey:  a.cfg.NLP.APIKey,
			BaseURL: a.cfg.NLP.BaseURL,
			Model:   a.cfg.NLP.Model,
			Timeout: a.cfg.NLP.Timeout,
		})
	}
	opts.Retry = retry.Config{
		MaxAttempts:  a.cfg.NLP.Retries + 1,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
	}
	opts.Limiter = nlp.NewRateLimiter(a.cfg.NLP.RateLimit, time.Minute)
	return opts
}

// warmLearning replays recent ledger orders, oldest first, so preferences
// survive a restart.
func (a *App) warmLearning(ctx context.Context) error {
	entries, err := a.ledger.List(ctx, warmupOrders)
	if err != nil {
		return fmt.Errorf("read ledger history: %w", err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		o := entries[i].Order
		a.learning.RecordCompletedTransaction(o.Counterparty, o.Items, o.Direction)
	}
	if len(entries) > 0 {
		a.log.Info("app.learning.warmed", "orders", len(entries), "counterparties", len(a.learning.KnownCounterparties()))
	}
	return nil
}

// SessionID returns the id of the REPL's current conversation.
func (a *App) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *App) setSessionID(id string) {
	if id == "" {
		return
	}
	a.mu.Lock()
	a.sessionID = id
	a.mu.Unlock()
}

// sweep drops expired drafts until ctx ends.
func (a *App) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.SweepExpired(); n > 0 {
				a.log.Debug("app.sessions.swept", "expired", n)
			}
		}
	}
}

// Close releases the ledger. It is safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.ledger.Close()
		a.log.Info("app.stopped")
	})
	return err
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, strings.TrimSuffix(word, "s"))
}
