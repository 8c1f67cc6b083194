package dialogue_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/chobo/internal/chobo/dialogue"
	"github.com/bdobrica/chobo/internal/chobo/learning"
	"github.com/bdobrica/chobo/internal/chobo/session"
	"github.com/bdobrica/chobo/internal/chobo/txn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeLedger struct {
	mu     sync.Mutex
	orders []txn.Order
	err    error
}

func (l *fakeLedger) Commit(_ context.Context, o txn.Order) (txn.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return txn.Receipt{}, l.err
	}
	l.orders = append(l.orders, o)
	return txn.Receipt{ID: fmt.Sprintf("r-%d", len(l.orders)), Total: o.Total()}, nil
}

func (l *fakeLedger) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}

type directory []string

func (d directory) KnownCounterparties(context.Context) ([]string, error) { return d, nil }

type brokenDirectory struct{}

func (brokenDirectory) KnownCounterparties(context.Context) ([]string, error) {
	return nil, errors.New("database is locked")
}

type harness struct {
	engine   *dialogue.Engine
	ledger   *fakeLedger
	clock    *clock
	sessions *session.Store
	learning *learning.Cache
}

func newHarness(t *testing.T, dir dialogue.Directory) *harness {
	t.Helper()
	h := &harness{
		ledger: &fakeLedger{},
		clock:  &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}
	h.sessions = session.New(session.Config{Now: h.clock.now})
	h.learning = learning.NewCache(h.clock.now)
	e, err := dialogue.New(dialogue.Config{Now: h.clock.now}, dialogue.Deps{
		Sessions:  h.sessions,
		Learning:  h.learning,
		Ledger:    h.ledger,
		Directory: dir,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = e
	return h
}

func (h *harness) say(t *testing.T, id, utterance string) dialogue.Reply {
	t.Helper()
	return h.engine.Handle(context.Background(), dialogue.Turn{SessionID: id, Utterance: utterance})
}

func TestNew_RequiresLedger(t *testing.T) {
	if _, err := dialogue.New(dialogue.Config{}, dialogue.Deps{}); !errors.Is(err, dialogue.ErrNoLedger) {
		t.Errorf("expected ErrNoLedger, got %v", err)
	}
}

func TestRoundTrip_OneTurn(t *testing.T) {
	h := newHarness(t, nil)
	r := h.say(t, "s1", "sell 10 apples to Zhang San at 5 each")

	if !r.Handled || !r.RequiresConfirmation || r.Stage != session.StageAwaitingConfirmation {
		t.Fatalf("unexpected reply: %+v", r)
	}
	if len(r.Draft.Notes) != 0 {
		t.Errorf("notes = %v, want none", r.Draft.Notes)
	}
	want := &txn.Draft{
		Direction:    txn.DirectionSale,
		Counterparty: "Zhang San",
		Items:        []txn.LineItem{{Name: "apple", Quantity: 10, UnitPrice: 5}},
		History:      []string{"sell 10 apples to Zhang San at 5 each"},
	}
	if diff := cmp.Diff(want, r.Draft, cmpDraft); diff != "" {
		t.Errorf("draft mismatch (-want +got):\n%s", diff)
	}
	for _, s := range []string{"sale", "Customer: Zhang San", "apple x 10 @ 5.00 = 50.00", "Total: 50.00"} {
		if !strings.Contains(r.Text, s) {
			t.Errorf("summary lacks %q:\n%s", s, r.Text)
		}
	}
	if strings.Contains(r.Text, "automatically") {
		t.Errorf("summary lists inferences for a fully stated transaction:\n%s", r.Text)
	}
}

var cmpDraft = cmp.FilterPath(func(p cmp.Path) bool {
	return p.Last().String() == ".LastTouched" || p.Last().String() == ".Notes"
}, cmp.Ignore())

func TestLaptopScenario(t *testing.T) {
	h := newHarness(t, nil)

	r := h.say(t, "s1", "buy 50 laptops from Feng Tianyi")
	if r.Stage != session.StageCollecting || r.RequiresConfirmation {
		t.Fatalf("first turn: stage %v, confirm %v", r.Stage, r.RequiresConfirmation)
	}
	if r.Missing != dialogue.SlotPrice {
		t.Errorf("first turn asks for %q, want price", r.Missing)
	}
	if !strings.Contains(r.Text, "unit price of laptop") {
		t.Errorf("question = %q", r.Text)
	}
	want := &txn.Draft{
		Direction:    txn.DirectionPurchase,
		Counterparty: "Feng Tianyi",
		Items:        []txn.LineItem{{Name: "laptop", Quantity: 50}},
		History:      []string{"buy 50 laptops from Feng Tianyi"},
	}
	if diff := cmp.Diff(want, r.Draft, cmpDraft); diff != "" {
		t.Errorf("draft mismatch (-want +got):\n%s", diff)
	}

	r = h.say(t, "s1", "500 each")
	if r.Stage != session.StageAwaitingConfirmation || !r.RequiresConfirmation {
		t.Fatalf("second turn: stage %v, text %q", r.Stage, r.Text)
	}
	if got := r.Draft.Items[0].UnitPrice; got != 500 {
		t.Errorf("price = %v, want 500", got)
	}
	if got := r.Draft.Total(); got != 25000 {
		t.Errorf("total = %v, want 25000", got)
	}
	if !strings.Contains(r.Text, "Total: 25000.00") {
		t.Errorf("summary:\n%s", r.Text)
	}

	r = h.say(t, "s1", "yes")
	if r.Committed == nil || r.Receipt == nil {
		t.Fatalf("expected a commit, got %+v", r)
	}
	if r.Open {
		t.Error("session still open after commit")
	}
	if r.Receipt.Total != 25000 {
		t.Errorf("receipt total = %v", r.Receipt.Total)
	}
	if _, ok := h.sessions.Get("s1"); ok {
		t.Error("session not removed after commit")
	}
	if v, src := h.learning.PreferredPrice("Feng Tianyi", "laptop"); v != 500 || src != learning.PriceCounterparty {
		t.Errorf("preference not recorded: %v %v", v, src)
	}

	// A second yes finds nothing to confirm.
	r = h.say(t, "s1", "yes")
	if r.Committed != nil || !strings.Contains(r.Text, "no pending transaction") {
		t.Errorf("second yes: %+v", r)
	}
	if n := h.ledger.count(); n != 1 {
		t.Errorf("ledger commits = %d, want 1", n)
	}
}

func TestSessionExpiry(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "s1", "sell 10 apples to Zhang San at 5 each")

	h.clock.advance(session.DefaultTTL + time.Second)
	if _, ok := h.sessions.Get("s1"); ok {
		t.Fatal("session survived its TTL")
	}

	r := h.say(t, "s1", "yes")
	if r.Committed != nil || !strings.Contains(r.Text, "no pending transaction") {
		t.Errorf("yes after expiry: %+v", r)
	}
	if h.ledger.count() != 0 {
		t.Error("expired draft was committed")
	}
}

func TestSessionKeptWithinTTL(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "s1", "buy 50 laptops from Feng Tianyi")
	h.clock.advance(9 * time.Minute)
	h.say(t, "s1", "500 each")
	h.clock.advance(9 * time.Minute)

	r := h.say(t, "s1", "yes")
	if r.Committed == nil {
		t.Fatalf("expected commit, got %q", r.Text)
	}
}

func TestPriceOnlyMergeKeepsNameAndQuantity(t *testing.T) {
	for _, reply := range []string{"500 each", "price 450", "450"} {
		t.Run(reply, func(t *testing.T) {
			h := newHarness(t, nil)
			h.say(t, "s", "buy 50 laptops from Feng Tianyi")
			r := h.say(t, "s", reply)
			if len(r.Draft.Items) != 1 {
				t.Fatalf("items = %+v", r.Draft.Items)
			}
			it := r.Draft.Items[0]
			if it.Name != "laptop" || it.Quantity != 50 || it.UnitPrice <= 0 {
				t.Errorf("item after %q = %+v", reply, it)
			}
			if r.Draft.Counterparty != "Feng Tianyi" {
				t.Errorf("counterparty = %q", r.Draft.Counterparty)
			}
		})
	}
}

func TestCancellation(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "s1", "buy 50 laptops from Feng Tianyi")

	r := h.say(t, "s1", "cancel")
	if !r.Handled || r.Open || !strings.Contains(r.Text, "Cancelled the purchase") {
		t.Errorf("cancel: %+v", r)
	}
	if h.sessions.Len() != 0 {
		t.Error("session kept after cancellation")
	}

	r = h.say(t, "s1", "no")
	if !strings.Contains(r.Text, "no pending transaction") {
		t.Errorf("no without session: %q", r.Text)
	}
}

func TestCommitFailureKeepsDraft(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "s1", "sell 10 apples to Zhang San at 5 each")

	h.ledger.setErr(errors.New("ledger offline"))
	r := h.say(t, "s1", "yes")
	if !errors.Is(r.Err, dialogue.ErrCommitFailed) {
		t.Fatalf("Err = %v, want ErrCommitFailed", r.Err)
	}
	if !strings.Contains(r.Text, "ledger offline") || !r.RequiresConfirmation || !r.Open {
		t.Errorf("failure reply: %+v", r)
	}
	s, ok := h.sessions.Get("s1")
	if !ok || s.Stage != session.StageAwaitingConfirmation {
		t.Fatalf("session lost after failed commit: %v %+v", ok, s)
	}
	if _, ok := h.learning.Preference("Zhang San"); ok {
		t.Error("preference recorded for a failed commit")
	}

	h.ledger.setErr(nil)
	r = h.say(t, "s1", "yes")
	if r.Committed == nil {
		t.Fatalf("retry did not commit: %q", r.Text)
	}
}

func TestConfirmationWhileCollecting(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "s1", "buy 50 laptops from Feng Tianyi")

	r := h.say(t, "s1", "yes")
	if r.Committed != nil || h.ledger.count() != 0 {
		t.Fatal("incomplete draft was committed")
	}
	if r.Missing != dialogue.SlotPrice || !strings.Contains(r.Text, "Not everything") {
		t.Errorf("reply: %+v", r)
	}
}

func TestCounterpartyNotOverwrittenBySlotFill(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "s1", "sell 10 apples to Zhang San")

	r := h.say(t, "s1", "to Li Si")
	if r.Draft.Counterparty != "Zhang San" {
		t.Errorf("counterparty = %q, want Zhang San", r.Draft.Counterparty)
	}
	if !strings.Contains(r.Text, "Keeping Zhang San") {
		t.Errorf("reply = %q", r.Text)
	}

	r = h.say(t, "s1", "change customer to Li Si")
	if r.Draft.Counterparty != "Li Si" {
		t.Errorf("after modification counterparty = %q, want Li Si", r.Draft.Counterparty)
	}
}

func TestModificationWhileAwaiting(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "s1", "sell 10 apples to Zhang San at 5 each")

	r := h.say(t, "s1", "change price to 6")
	if r.Stage != session.StageAwaitingConfirmation || r.Draft.Total() != 60 {
		t.Errorf("after price change: stage %v total %v", r.Stage, r.Draft.Total())
	}
	if !strings.Contains(r.Text, "Changed the price of apple to 6.00") {
		t.Errorf("reply = %q", r.Text)
	}

	r = h.say(t, "s1", "change the quantity of apples to 20")
	if r.Draft.Total() != 120 {
		t.Errorf("after quantity change total = %v, want 120", r.Draft.Total())
	}

	r = h.say(t, "s1", "make it a purchase")
	if r.Draft.Direction != txn.DirectionPurchase || !strings.Contains(r.Text, "Supplier: Zhang San") {
		t.Errorf("after direction change: %v\n%s", r.Draft.Direction, r.Text)
	}

	r = h.say(t, "s1", "change quantity to 0")
	if !errors.Is(r.Err, dialogue.ErrSlotInvalid) {
		t.Errorf("Err = %v, want ErrSlotInvalid", r.Err)
	}
	if r.Draft.Items[0].Quantity != 20 {
		t.Errorf("invalid quantity cleared the old one: %+v", r.Draft.Items[0])
	}
	if r.Stage != session.StageAwaitingConfirmation || !r.RequiresConfirmation {
		t.Errorf("rejected change left stage %v, want awaiting confirmation", r.Stage)
	}

	r = h.say(t, "s1", "yes")
	if r.Err != nil || r.Receipt == nil {
		t.Fatalf("confirm after rejected change: err %v text %q", r.Err, r.Text)
	}
	if r.Receipt.Total != 120 {
		t.Errorf("receipt total = %v, want 120", r.Receipt.Total)
	}
}

func TestZeroReplyReasks(t *testing.T) {
	tests := []struct {
		name    string
		opening string
		missing dialogue.Slot
	}{
		{"quantity", "sell apples to Zhang San", dialogue.SlotQuantity},
		{"price", "sell 10 apples to Zhang San", dialogue.SlotPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if r := h.say(t, "s1", tt.opening); r.Missing != tt.missing {
				t.Fatalf("opening asked for %v, want %v", r.Missing, tt.missing)
			}
			r := h.say(t, "s1", "0")
			if !errors.Is(r.Err, dialogue.ErrSlotInvalid) {
				t.Fatalf("Err = %v, want ErrSlotInvalid (text %q)", r.Err, r.Text)
			}
			if r.Missing != tt.missing || !r.Open {
				t.Errorf("Missing = %v open %v, want %v still open", r.Missing, r.Open, tt.missing)
			}
			if !strings.Contains(r.Text, "must be greater than zero") {
				t.Errorf("reply = %q", r.Text)
			}
		})
	}
}

func TestSlotInvalidReasks(t *testing.T) {
	h := newHarness(t, nil)
	r := h.say(t, "s1", "sell -5 apples to Zhang San")
	if !errors.Is(r.Err, dialogue.ErrSlotInvalid) {
		t.Fatalf("Err = %v, want ErrSlotInvalid", r.Err)
	}
	if r.Missing != dialogue.SlotQuantity || !strings.Contains(r.Text, "must be greater than zero") {
		t.Errorf("reply = %+v", r)
	}
	if !r.Open || r.Draft.Counterparty != "Zhang San" {
		t.Errorf("draft not preserved: %+v", r.Draft)
	}

	r = h.say(t, "s1", "10")
	if r.Err != nil || r.Missing != dialogue.SlotPrice {
		t.Errorf("after quantity: err %v, missing %q", r.Err, r.Missing)
	}
	if r.Draft.Items[0].Quantity != 10 {
		t.Errorf("quantity = %d", r.Draft.Items[0].Quantity)
	}
}

func TestMissingInformationOrder(t *testing.T) {
	h := newHarness(t, nil)

	r := h.say(t, "a", "sell something")
	if r.Missing != dialogue.SlotCounterparty || !strings.Contains(r.Text, "customer") {
		t.Errorf("no slots: %+v", r)
	}
	r = h.say(t, "b", "buy from Feng Tianyi")
	if r.Missing != dialogue.SlotItems || !strings.Contains(r.Text, "buying from Feng Tianyi") {
		t.Errorf("no items: %+v", r)
	}
	r = h.say(t, "c", "sell apples at 5 each and 3 pears to Li Si")
	if r.Missing != dialogue.SlotQuantity || !strings.Contains(r.Text, "quantity of apple") {
		t.Errorf("quantity before price: %+v", r)
	}
}

func TestBareNameAnswersCounterpartyQuestion(t *testing.T) {
	h := newHarness(t, nil)
	r := h.say(t, "s1", "sell 10 apples at 5 each")
	if r.Missing != dialogue.SlotCounterparty {
		t.Fatalf("missing = %q, want counterparty", r.Missing)
	}

	r = h.say(t, "s1", "Feng Tianyi")
	if r.Draft.Counterparty != "Feng Tianyi" || r.Stage != session.StageAwaitingConfirmation {
		t.Errorf("bare name reply: %+v", r)
	}
}

func TestConversationIsHandedBack(t *testing.T) {
	h := newHarness(t, nil)
	r := h.say(t, "s1", "hello there")
	if r.Handled || r.Open {
		t.Errorf("plain conversation was handled: %+v", r)
	}
	if h.sessions.Len() != 0 {
		t.Error("conversation created a session")
	}

	h.say(t, "s2", "buy 50 laptops from Feng Tianyi")
	r = h.say(t, "s2", "how are you")
	if r.Handled || !r.Open || r.Missing != dialogue.SlotPrice {
		t.Errorf("conversation with open draft: %+v", r)
	}
}

func TestGeneratesSessionID(t *testing.T) {
	h := newHarness(t, nil)
	r := h.say(t, "", "buy 50 laptops from Feng Tianyi")
	if r.SessionID == "" {
		t.Fatal("no session id generated")
	}
	r = h.say(t, r.SessionID, "500 each")
	if r.Stage != session.StageAwaitingConfirmation {
		t.Errorf("follow-up on generated id: %+v", r)
	}
}

func TestFuzzyCounterpartyFromDirectory(t *testing.T) {
	h := newHarness(t, directory{"Zhang San"})

	r := h.say(t, "a", "sell 10 apples to Zhang Sna at 5 each")
	if r.Draft.Counterparty != "Zhang San" {
		t.Errorf("counterparty = %q, want Zhang San", r.Draft.Counterparty)
	}
	if len(r.Draft.Notes) != 1 || !strings.Contains(r.Draft.Notes[0], "matched") {
		t.Errorf("notes = %v", r.Draft.Notes)
	}
	if !strings.Contains(r.Text, "Filled in automatically") {
		t.Errorf("summary hides the inference:\n%s", r.Text)
	}

	r = h.say(t, "b", "buy 50 laptops from Feng Tianyi")
	if r.Draft.Counterparty != "Feng Tianyi" || len(r.Draft.Notes) != 0 {
		t.Errorf("unrelated name was rewritten: %q %v", r.Draft.Counterparty, r.Draft.Notes)
	}

	r = h.say(t, "c", "Zhang San wants 10 apples at 5 each")
	if r.Draft.Counterparty != "Zhang San" || len(r.Draft.Notes) != 1 {
		t.Errorf("mentioned name not inferred: %q %v", r.Draft.Counterparty, r.Draft.Notes)
	}
}

func TestBrokenDirectoryIsIgnored(t *testing.T) {
	h := newHarness(t, brokenDirectory{})
	r := h.say(t, "s1", "sell 10 apples to Zhang San at 5 each")
	if r.Stage != session.StageAwaitingConfirmation {
		t.Errorf("reply: %+v", r)
	}
}

func TestPriceInferredFromHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "a", "buy 50 laptops from Feng Tianyi at 500 each")
	if r := h.say(t, "a", "yes"); r.Committed == nil {
		t.Fatalf("setup commit failed: %q", r.Text)
	}

	r := h.say(t, "b", "buy 10 laptops from Feng Tianyi")
	if r.Stage != session.StageAwaitingConfirmation {
		t.Fatalf("price not inferred: %+v", r)
	}
	if got := r.Draft.Items[0].UnitPrice; got != 500 {
		t.Errorf("price = %v, want 500", got)
	}
	if len(r.Draft.Notes) != 1 || !strings.Contains(r.Draft.Notes[0], "history") {
		t.Errorf("notes = %v", r.Draft.Notes)
	}

	// Another supplier falls back to the last recorded price.
	r = h.say(t, "c", "buy 2 laptops from Acme")
	if got := r.Draft.Items[0].UnitPrice; got != 500 {
		t.Errorf("global price = %v, want 500", got)
	}
	if len(r.Draft.Notes) != 1 || !strings.Contains(r.Draft.Notes[0], "last recorded") {
		t.Errorf("notes = %v", r.Draft.Notes)
	}
}

func TestUsualProductsInferred(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "a", "buy 12 widgets from Acme at 3 each")
	if r := h.say(t, "a", "yes"); r.Committed == nil {
		t.Fatalf("setup commit failed: %q", r.Text)
	}

	r := h.say(t, "b", "buy widgets from Acme")
	if len(r.Draft.Items) != 1 || r.Draft.Items[0].Name != "widget" || r.Draft.Items[0].UnitPrice != 3 {
		t.Fatalf("items = %+v", r.Draft.Items)
	}
	if r.Missing != dialogue.SlotQuantity {
		t.Errorf("missing = %q, want quantity", r.Missing)
	}
	if len(r.Draft.Notes) != 2 {
		t.Errorf("notes = %v, want product and price inferences", r.Draft.Notes)
	}

	r = h.say(t, "b", "12")
	if r.Stage != session.StageAwaitingConfirmation || r.Draft.Total() != 36 {
		t.Errorf("after quantity: %+v", r)
	}

	r = h.say(t, "c", "buy from Acme")
	if r.Missing != dialogue.SlotItems || !strings.Contains(r.Text, "Usual for Acme: widget") {
		t.Errorf("items question lacks suggestions: %q", r.Text)
	}
}

func TestCounterpartyAliasLearnedFromCorrection(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "a", "sell 10 apples to Zhangsan at 5 each")
	r := h.say(t, "a", "change customer to Zhang San")
	if r.Draft.Counterparty != "Zhang San" {
		t.Fatalf("counterparty = %q", r.Draft.Counterparty)
	}
	h.say(t, "a", "yes")

	r = h.say(t, "b", "sell 2 pears to Zhangsan at 3 each")
	if r.Draft.Counterparty != "Zhang San" {
		t.Errorf("alias not applied: %q", r.Draft.Counterparty)
	}
	if len(r.Draft.Notes) != 1 || !strings.Contains(r.Draft.Notes[0], "alias") {
		t.Errorf("notes = %v", r.Draft.Notes)
	}
}

func TestConcurrentSessions(t *testing.T) {
	h := newHarness(t, nil)
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			id := fmt.Sprintf("s%d", i)
			ctx := context.Background()
			h.engine.Handle(ctx, dialogue.Turn{SessionID: id, Utterance: fmt.Sprintf("sell %d apples to Zhang San", i+1)})
			h.engine.Handle(ctx, dialogue.Turn{SessionID: id, Utterance: "5 each"})
			r := h.engine.Handle(ctx, dialogue.Turn{SessionID: id, Utterance: "yes"})
			if r.Receipt == nil {
				return fmt.Errorf("%s: not committed: %q", id, r.Text)
			}
			if want := float64(5 * (i + 1)); r.Receipt.Total != want {
				return fmt.Errorf("%s: total %v, want %v", id, r.Receipt.Total, want)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if n := h.ledger.count(); n != 20 {
		t.Errorf("commits = %d, want 20", n)
	}
	if h.sessions.Len() != 0 {
		t.Errorf("%d sessions left over", h.sessions.Len())
	}
}
