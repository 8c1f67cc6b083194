// Package intent classifies an utterance before the dialogue engine acts on
// it: is it a new transaction, more details for the pending one, a yes, a no,
// a correction or a lone value?
//
// Local rules always produce a complete answer. An optional upstream
// classifier may refine it; its call is bounded by a timeout, retried with
// capped exponential backoff, rate limited per session, and any failure or
// low-confidence answer silently falls back to the local result.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/bdobrica/chobo/common/retry"
	"github.com/bdobrica/chobo/internal/chobo/extract"
	"github.com/bdobrica/chobo/internal/chobo/nlp"
	"github.com/bdobrica/chobo/internal/chobo/txn"
)

// ErrUpstreamUnavailable wraps every upstream classifier failure. It is only
// ever logged; callers see the local classification instead.
var ErrUpstreamUnavailable = errors.New("intent: upstream classifier unavailable")

// Kind is the tagged result of classification.
type Kind int

const (
	// KindConversation is not about a transaction; the caller handles it.
	KindConversation Kind = iota
	// KindNewTransaction starts a draft.
	KindNewTransaction
	// KindSlotFill adds details to the pending draft.
	KindSlotFill
	// KindConfirmation is a yes.
	KindConfirmation
	// KindCancellation is a no / cancel.
	KindCancellation
	// KindModification changes details already in the draft.
	KindModification
	// KindBareValue is a lone number or price completing a pending slot.
	KindBareValue
)

func (k Kind) String() string {
	switch k {
	case KindNewTransaction:
		return "new_transaction"
	case KindSlotFill:
		return "slot_fill"
	case KindConfirmation:
		return "confirmation"
	case KindCancellation:
		return "cancellation"
	case KindModification:
		return "modification"
	case KindBareValue:
		return "bare_value"
	default:
		return "conversation"
	}
}

// Source says which path produced a Classification.
type Source string

const (
	SourceLocal    Source = "local"
	SourceUpstream Source = "upstream"
)

// Classification is the router's answer, carrying the slots extracted on the
// way so the engine does not extract twice.
type Classification struct {
	Kind       Kind
	Slots      extract.Slots
	Correction extract.Correction
	Source     Source
	Confidence float64
}

// RouteRequest is one utterance plus what the router needs to know about the
// conversation it belongs to.
type RouteRequest struct {
	SessionID  string
	Utterance  string
	Hints      extract.Hints
	HasSession bool
	// PendingDraft summarises the live draft for the upstream classifier.
	PendingDraft        string
	KnownCounterparties []string
}

// Options configures the optional upstream path.
type Options struct {
	// Provider is the upstream classifier. Nil means local rules only.
	Provider nlp.Provider
	// Timeout bounds the whole upstream attempt, retries included.
	// Defaults to 3 s.
	Timeout time.Duration
	// Retry controls backoff between upstream attempts.
	Retry retry.Config
	// MinConfidence is the floor below which upstream answers are ignored.
	// Defaults to 0.6.
	MinConfidence float64
	// Limiter caps upstream calls per session. Nil means unlimited.
	Limiter *nlp.RateLimiter
	Logger  *slog.Logger
}

const (
	defaultUpstreamTimeout = 3 * time.Second
	defaultMinConfidence   = 0.6
)

// Router classifies utterances. It is safe for concurrent use.
type Router struct {
	ex   *extract.Extractor
	opts Options
	log  *slog.Logger
}

// NewRouter returns a Router over ex.
func NewRouter(ex *extract.Extractor, opts Options) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultUpstreamTimeout
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = defaultMinConfidence
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.Config{MaxAttempts: 2, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second}
	}
	if opts.Retry.ShouldRetry == nil {
		opts.Retry.ShouldRetry = func(err error) bool {
			return !errors.Is(err, nlp.ErrMalformedOutput) &&
				!errors.Is(err, nlp.ErrUnauthorized) &&
				!errors.Is(err, context.Canceled)
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Retry.Op == "" {
		opts.Retry.Op = "intent.upstream"
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = log
	}
	return &Router{ex: ex, opts: opts, log: log}
}

// Route classifies req. It never fails: without a usable upstream answer the
// local rules decide.
func (r *Router) Route(ctx context.Context, req RouteRequest) Classification {
	hints := req.Hints
	var upstream *nlp.ClassifyResponse
	if r.opts.Provider != nil {
		resp, err := r.classifyUpstream(ctx, req)
		if err != nil {
			r.log.Debug("intent.upstream.fallback", "session_id", req.SessionID, "err", err)
		} else {
			upstream = resp
			hints = mergeHints(hints, r.hintsFrom(resp.Hint))
		}
	}

	c := r.classifyLocal(req, hints)
	if upstream != nil {
		if k, ok := r.reconcile(upstream.Intent, c, req.HasSession); ok {
			c.Kind = k
			c.Source = SourceUpstream
			c.Confidence = upstream.Confidence
		}
	}
	return c
}

// Local classifies req with the local rules only.
func (r *Router) Local(req RouteRequest) Classification {
	return r.classifyLocal(req, req.Hints)
}

func (r *Router) classifyLocal(req RouteRequest, hints extract.Hints) Classification {
	c := Classification{Source: SourceLocal, Confidence: 1}
	text := strings.TrimSpace(req.Utterance)

	switch {
	case isCancellation(text):
		c.Kind = KindCancellation
		return c
	case isConfirmation(text):
		c.Kind = KindConfirmation
		return c
	}

	c.Slots = r.ex.Extract(text, hints)
	if req.HasSession {
		c.Correction = r.ex.Correction(text)
		switch {
		case hasCorrectionMarker(text) && !c.Correction.Empty():
			c.Kind = KindModification
		case c.Slots.Counterparty != "" || len(c.Slots.Items) > 0:
			c.Kind = KindSlotFill
		case c.Slots.LoosePrice != 0 || c.Slots.LooseQuantity != 0 || c.Slots.HasLooseNumber || len(c.Slots.Issues) > 0:
			c.Kind = KindBareValue
		case !c.Correction.Empty():
			c.Kind = KindModification
		default:
			c.Kind = KindConversation
		}
		return c
	}

	hasDirection := c.Slots.Direction != txn.DirectionUnknown
	switch {
	case len(c.Slots.Items) > 0:
		c.Kind = KindNewTransaction
	case hasDirection && (c.Slots.Counterparty != "" || len(c.Slots.Issues) > 0 || c.Slots.LooseQuantity != 0):
		c.Kind = KindNewTransaction
	case hasDirection && startsWithVerb(text):
		c.Kind = KindNewTransaction
	default:
		c.Kind = KindConversation
	}
	return c
}

// reconcile maps an upstream intent onto a Kind that makes sense for the
// conversation state, refusing answers the state contradicts.
func (r *Router) reconcile(in nlp.Intent, local Classification, hasSession bool) (Kind, bool) {
	switch in {
	case nlp.IntentConfirmation:
		return KindConfirmation, true
	case nlp.IntentCancellation:
		return KindCancellation, true
	case nlp.IntentNewTransaction:
		if hasSession {
			return KindSlotFill, true
		}
		return KindNewTransaction, true
	case nlp.IntentSlotFill:
		if !hasSession {
			return KindNewTransaction, local.Slots.Usable()
		}
		return KindSlotFill, true
	case nlp.IntentModification:
		return KindModification, hasSession
	case nlp.IntentBareValue:
		return KindBareValue, hasSession
	case nlp.IntentConversation:
		// Local rules that found concrete slots outrank a vague upstream read.
		return KindConversation, !local.Slots.Usable()
	}
	return 0, false
}

func (r *Router) classifyUpstream(ctx context.Context, req RouteRequest) (*nlp.ClassifyResponse, error) {
	if r.opts.Limiter != nil && !r.opts.Limiter.Allow(req.SessionID) {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, nlp.ErrRateLimit)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var resp *nlp.ClassifyResponse
	err := retry.Do(ctx, r.opts.Retry, func() error {
		out, err := r.opts.Provider.Classify(ctx, nlp.ClassifyRequest{
			Message:             req.Utterance,
			SessionID:           req.SessionID,
			PendingDraft:        req.PendingDraft,
			KnownCounterparties: req.KnownCounterparties,
		})
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	switch {
	case resp == nil:
		return nil, fmt.Errorf("%w: empty response", ErrUpstreamUnavailable)
	case !resp.Intent.Valid() || resp.Intent == nlp.IntentUnknown:
		return nil, fmt.Errorf("%w: intent %q", ErrUpstreamUnavailable, resp.Intent)
	case resp.Confidence < r.opts.MinConfidence:
		return nil, fmt.Errorf("%w: confidence %.2f below %.2f", ErrUpstreamUnavailable, resp.Confidence, r.opts.MinConfidence)
	}
	return resp, nil
}

// hintsFrom converts an upstream hint into extractor hints. Fractional or
// non-finite numbers are dropped; the extractor validates the rest.
func (r *Router) hintsFrom(h *nlp.CommandHint) extract.Hints {
	if h == nil {
		return extract.Hints{}
	}
	out := extract.Hints{
		Direction:    txn.ParseDirection(h.Direction),
		Counterparty: h.Counterparty,
	}
	for _, it := range h.Items {
		li := txn.LineItem{Name: it.Name}
		if q := it.Quantity; q == math.Trunc(q) && !math.IsInf(q, 0) && math.Abs(q) < math.MaxInt32 {
			li.Quantity = int(q)
		}
		if p := it.UnitPrice; !math.IsNaN(p) && !math.IsInf(p, 0) {
			li.UnitPrice = p
		}
		out.Items = append(out.Items, li)
	}
	return out
}

// mergeHints prefers the caller's own hints over upstream ones field by
// field.
func mergeHints(caller, upstream extract.Hints) extract.Hints {
	out := caller
	if out.Direction == txn.DirectionUnknown {
		out.Direction = upstream.Direction
	}
	if out.Counterparty == "" {
		out.Counterparty = upstream.Counterparty
	}
	if len(out.Items) == 0 {
		out.Items = upstream.Items
	}
	return out
}
