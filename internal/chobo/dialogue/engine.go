// Package dialogue is the turn-by-turn state machine that assembles a
// transaction draft across utterances.
//
// Each turn is routed (see package intent), merged into the session's draft,
// enriched from the learning cache and then checked for completeness. The
// reply is either a question about the first missing slot, a confirmation
// summary, or the result of committing the draft to the ledger. A session is
// COLLECTING while slots are missing, AWAITING_CONFIRMATION once a summary has
// been shown, and removed from the store when it is committed or cancelled.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/chobo/common/trace"
	"github.com/bdobrica/chobo/internal/chobo/extract"
	"github.com/bdobrica/chobo/internal/chobo/intent"
	"github.com/bdobrica/chobo/internal/chobo/learning"
	"github.com/bdobrica/chobo/internal/chobo/observability"
	"github.com/bdobrica/chobo/internal/chobo/session"
	"github.com/bdobrica/chobo/internal/chobo/txn"
)

var (
	// ErrSlotInvalid marks a turn whose quantity or price was rejected. The
	// draft is kept and the reply re-asks for that slot.
	ErrSlotInvalid = errors.New("dialogue: invalid slot value")
	// ErrCommitFailed wraps a ledger failure. The session is kept so the user
	// can confirm again.
	ErrCommitFailed = errors.New("dialogue: commit failed")
	// ErrNoLedger is returned by New when Deps.Ledger is nil.
	ErrNoLedger = errors.New("dialogue: a ledger is required")
)

// Ledger persists confirmed orders. The engine never retries Commit.
type Ledger interface {
	Commit(ctx context.Context, o txn.Order) (txn.Receipt, error)
}

// Directory lists counter-parties known from history, typically the ledger.
type Directory interface {
	KnownCounterparties(ctx context.Context) ([]string, error)
}

// Config holds the engine's ambient settings.
type Config struct {
	Now    func() time.Time
	Logger *slog.Logger
}

// Deps are the collaborators of an Engine. Only Ledger is required; the rest
// default to fresh in-memory instances.
type Deps struct {
	Sessions  *session.Store
	Extractor *extract.Extractor
	Router    *intent.Router
	Learning  *learning.Cache
	Ledger    Ledger
	Directory Directory
}

// Turn is one utterance addressed to the engine.
type Turn struct {
	// SessionID identifies the conversation. Empty starts a new one (or, if
	// the session store allows it, continues the most recent one).
	SessionID string
	Utterance string
	// Hints are structured slots the caller already knows.
	Hints extract.Hints
}

// Reply is the engine's answer to a Turn.
//
// When Handled is false the utterance was plain conversation and the caller
// should answer it; Text is then empty, or a reminder of the pending question
// when a draft is open.
type Reply struct {
	SessionID            string
	Text                 string
	RequiresConfirmation bool

	// Committed and Receipt are set on the turn that booked the order.
	Committed *txn.Order
	Receipt   *txn.Receipt

	// Open reports whether a draft is still pending for SessionID. Stage,
	// Missing and Draft describe it.
	Open    bool
	Stage   session.Stage
	Missing Slot
	Draft   *txn.Draft

	Handled bool
	// Err is ErrSlotInvalid or ErrCommitFailed (wrapped) when the turn hit
	// one of those conditions. Text already explains it to the user.
	Err error
}

// Engine runs the dialogue. It keeps no state of its own beyond its
// collaborators and is safe for concurrent use across sessions.
type Engine struct {
	sessions  *session.Store
	ex        *extract.Extractor
	router    *intent.Router
	learning  *learning.Cache
	ledger    Ledger
	directory Directory
	now       func() time.Time
	log       *slog.Logger
}

// New wires an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Ledger == nil {
		return nil, ErrNoLedger
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.New(session.Config{Now: cfg.Now})
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New(nil)
	}
	if deps.Router == nil {
		deps.Router = intent.NewRouter(deps.Extractor, intent.Options{Logger: cfg.Logger})
	}
	if deps.Learning == nil {
		deps.Learning = learning.NewCache(cfg.Now)
	}
	return &Engine{
		sessions:  deps.Sessions,
		ex:        deps.Extractor,
		router:    deps.Router,
		learning:  deps.Learning,
		ledger:    deps.Ledger,
		directory: deps.Directory,
		now:       cfg.Now,
		log:       cfg.Logger,
	}, nil
}

// Handle processes one turn. It never fails outright: problems are explained
// in Reply.Text and flagged in Reply.Err.
func (e *Engine) Handle(ctx context.Context, t Turn) Reply {
	utterance := strings.TrimSpace(t.Utterance)
	id := t.SessionID
	sess, live := e.sessions.Get(id)
	if live {
		id = sess.ID
	}

	known := e.knownCounterparties(ctx)
	req := intent.RouteRequest{
		SessionID:           id,
		Utterance:           utterance,
		Hints:               t.Hints,
		HasSession:          live,
		KnownCounterparties: known,
	}
	if live {
		req.PendingDraft = brief(sess.Draft)
	}
	c := e.router.Route(ctx, req)

	if id != "" {
		ctx = trace.WithSessionID(ctx, id)
	}
	log := observability.WithTrace(ctx, e.log).With("intent", c.Kind.String(), "source", string(c.Source))
	log.Debug("dialogue.turn", "live", live)

	if !live {
		return e.handleIdle(id, utterance, c, known, log)
	}
	return e.handleLive(ctx, sess, utterance, c, known, log)
}

// handleIdle answers a turn that has no live session behind it.
func (e *Engine) handleIdle(id, utterance string, c intent.Classification, known []string, log *slog.Logger) Reply {
	switch c.Kind {
	case intent.KindConfirmation:
		return Reply{SessionID: id, Text: "There is no pending transaction to confirm.", Handled: true}
	case intent.KindCancellation:
		return Reply{SessionID: id, Text: "There is no pending transaction to cancel.", Handled: true}
	case intent.KindNewTransaction:
	case intent.KindSlotFill:
		if !c.Slots.Usable() {
			return Reply{SessionID: id}
		}
	default:
		return Reply{SessionID: id}
	}

	if id == "" {
		id = session.NewID()
		log = log.With("session_id", id)
	}
	d := txn.NewDraft(c.Slots.Direction, e.now())
	d.History = append(d.History, utterance)
	p := &pass{d: d, utterance: utterance, known: known}
	e.mergeSlots(p, c.Slots, false)
	log.Info("dialogue.draft.created", "direction", string(d.Direction))
	return e.advance(id, p, log)
}

// handleLive answers a turn for an existing session.
func (e *Engine) handleLive(ctx context.Context, sess *session.Session, utterance string, c intent.Classification, known []string, log *slog.Logger) Reply {
	d := sess.Draft
	d.History = append(d.History, utterance)
	p := &pass{d: d, utterance: utterance, known: known}

	switch c.Kind {
	case intent.KindCancellation:
		e.sessions.Remove(sess.ID)
		log.Info("dialogue.cancelled")
		return Reply{SessionID: sess.ID, Text: fmt.Sprintf("Cancelled the %s.", d.Direction.Noun()), Handled: true}

	case intent.KindConfirmation:
		if sess.Stage == session.StageAwaitingConfirmation {
			return e.commit(ctx, sess.ID, p, log)
		}
		p.notice("Not everything is filled in yet.")
		return e.advance(sess.ID, p, log)

	case intent.KindModification:
		e.modify(p, c)
		return e.advance(sess.ID, p, log)

	case intent.KindSlotFill, intent.KindBareValue, intent.KindNewTransaction:
		e.mergeSlots(p, c.Slots, false)
		return e.advance(sess.ID, p, log)
	}

	if e.bareReply(p) {
		return e.advance(sess.ID, p, log)
	}
	slot, idx := nextMissing(d)
	r := Reply{SessionID: sess.ID, Open: true, Stage: sess.Stage, Missing: slot, Draft: d.Clone()}
	if sess.Stage == session.StageAwaitingConfirmation {
		r.Text = "Still waiting for you to confirm the " + d.Direction.Noun() + "."
		r.RequiresConfirmation = true
	} else {
		r.Text = e.question(d, slot, idx)
	}
	return r
}

// advance runs inference and the completeness check on p.d, stores the
// result and builds the reply.
func (e *Engine) advance(id string, p *pass, log *slog.Logger) Reply {
	d := p.d
	e.infer(p)

	if len(p.issues) > 0 {
		is := p.issues[0]
		stage := session.StageCollecting
		if d.Complete() {
			// the rejected value left the previous complete draft in place
			stage = session.StageAwaitingConfirmation
		}
		stored := e.sessions.Put(id, stage, d)
		log.Info("dialogue.slot.invalid", "field", is.Field, "item", is.Item, "value", is.Value)
		slot, idx := SlotQuantity, itemIndex(d, is.Item)
		if is.Field == "price" {
			slot = SlotPrice
		}
		if idx < 0 && len(d.Items) > 0 {
			idx = 0
		}
		if idx < 0 {
			slot, idx = nextMissing(d)
		}
		ask := e.question(d, slot, idx)
		if stage == session.StageAwaitingConfirmation {
			ask = summary(d)
		}
		return Reply{
			SessionID:            id,
			Text:                 p.text(fmt.Sprintf("The %s.", is), ask),
			RequiresConfirmation: stage == session.StageAwaitingConfirmation,
			Open:                 true,
			Stage:                stored.Stage,
			Missing:              slot,
			Draft:                stored.Draft,
			Handled:              true,
			Err:                  fmt.Errorf("%w: %s", ErrSlotInvalid, is),
		}
	}

	if slot, idx := nextMissing(d); slot != SlotNone {
		stored := e.sessions.Put(id, session.StageCollecting, d)
		return Reply{
			SessionID: id,
			Text:      p.text(e.question(d, slot, idx)),
			Open:      true,
			Stage:     stored.Stage,
			Missing:   slot,
			Draft:     stored.Draft,
			Handled:   true,
		}
	}

	stored := e.sessions.Put(id, session.StageAwaitingConfirmation, d)
	log.Debug("dialogue.awaiting_confirmation", "total", txn.FormatAmount(d.Total()), "notes", len(d.Notes))
	return Reply{
		SessionID:            id,
		Text:                 p.text(summary(d)),
		RequiresConfirmation: true,
		Open:                 true,
		Stage:                stored.Stage,
		Draft:                stored.Draft,
		Handled:              true,
	}
}

// commit validates the draft once more and hands it to the ledger.
func (e *Engine) commit(ctx context.Context, id string, p *pass, log *slog.Logger) Reply {
	d := p.d
	if !d.Complete() {
		log.Warn("dialogue.commit.incomplete")
		p.notice("The draft is no longer complete.")
		return e.advance(id, p, log)
	}

	order := d.Order()
	rec, err := e.ledger.Commit(ctx, order)
	if err != nil {
		log.Warn("dialogue.commit.failed", "err", err)
		stored := e.sessions.Put(id, session.StageAwaitingConfirmation, d)
		return Reply{
			SessionID:            id,
			Text:                 fmt.Sprintf("Could not save the %s: %v. The draft is kept; reply \"yes\" to try again.", d.Direction.Noun(), err),
			RequiresConfirmation: true,
			Open:                 true,
			Stage:                stored.Stage,
			Draft:                stored.Draft,
			Handled:              true,
			Err:                  fmt.Errorf("%w: %w", ErrCommitFailed, err),
		}
	}
	if rec.Total == 0 {
		rec.Total = order.Total()
	}

	e.learning.RecordCompletedTransaction(order.Counterparty, order.Items, order.Direction)
	e.sessions.Remove(id)
	log.Info("dialogue.commit.ok", "receipt_id", rec.ID, "total", txn.FormatAmount(rec.Total))

	text := fmt.Sprintf("Saved the %s %s %s, total %s.", order.Direction.Noun(), partyPreposition(order.Direction), order.Counterparty, txn.FormatAmount(rec.Total))
	if rec.ID != "" {
		text += " Receipt " + rec.ID + "."
	}
	return Reply{
		SessionID: id,
		Text:      text,
		Committed: &order,
		Receipt:   &rec,
		Handled:   true,
	}
}

// knownCounterparties merges the directory's names with the ones the
// learning cache has seen. A failing directory only costs the fuzzy matches.
func (e *Engine) knownCounterparties(ctx context.Context) []string {
	names := e.learning.KnownCounterparties()
	if e.directory == nil {
		return names
	}
	fromDir, err := e.directory.KnownCounterparties(ctx)
	if err != nil {
		observability.WithTrace(ctx, e.log).Warn("dialogue.directory.failed", "err", err)
		return names
	}
	seen := make(map[string]bool, len(names)+len(fromDir))
	for _, n := range names {
		seen[strings.ToLower(n)] = true
	}
	for _, n := range fromDir {
		if k := strings.ToLower(n); k != "" && !seen[k] {
			seen[k] = true
			names = append(names, n)
		}
	}
	return names
}
