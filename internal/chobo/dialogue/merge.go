package dialogue

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bdobrica/chobo/internal/chobo/extract"
	"github.com/bdobrica/chobo/internal/chobo/intent"
	"github.com/bdobrica/chobo/internal/chobo/learning"
	"github.com/bdobrica/chobo/internal/chobo/txn"
)

// Slot names the piece of information a question asks for.
type Slot string

const (
	SlotNone         Slot = ""
	SlotCounterparty Slot = "counterparty"
	SlotItems        Slot = "items"
	SlotName         Slot = "name"
	SlotQuantity     Slot = "quantity"
	SlotPrice        Slot = "price"
)

// pass is the working state of one turn against one draft.
type pass struct {
	d         *txn.Draft
	utterance string
	known     []string
	notices   []string
	issues    []extract.Issue
	sawItems  bool
}

func (p *pass) notice(format string, args ...any) {
	p.notices = append(p.notices, fmt.Sprintf(format, args...))
}

// text joins the turn's notices with the given lines.
func (p *pass) text(lines ...string) string {
	out := append([]string(nil), p.notices...)
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// nextMissing returns the first gap in d: the counter-party, then any item at
// all, then the name or quantity of the first line lacking one, then the
// price of the first line lacking one. The index is the line concerned, or
// -1.
func nextMissing(d *txn.Draft) (Slot, int) {
	if d.Counterparty == "" {
		return SlotCounterparty, -1
	}
	if len(d.Items) == 0 {
		return SlotItems, -1
	}
	for i, it := range d.Items {
		if it.Name == "" {
			return SlotName, i
		}
		if it.Quantity <= 0 {
			return SlotQuantity, i
		}
	}
	for i, it := range d.Items {
		if it.UnitPrice <= 0 {
			return SlotPrice, i
		}
	}
	return SlotNone, -1
}

// itemIndex returns the first line named name, or -1.
func itemIndex(d *txn.Draft, name string) int {
	if name == "" {
		return -1
	}
	for i, it := range d.Items {
		if strings.EqualFold(it.Name, name) {
			return i
		}
	}
	return -1
}

// mergeSlots applies freshly extracted slots to the draft. A populated
// counter-party is only replaced when overwrite is set; set fields of a line
// are never cleared.
func (e *Engine) mergeSlots(p *pass, s extract.Slots, overwrite bool) {
	if s.Counterparty != "" {
		e.setCounterparty(p, s.Counterparty, overwrite)
	}
	for _, it := range s.Items {
		it.Name = e.learning.CanonicalProduct(it.Name)
		mergeItem(p.d, it)
		p.sawItems = true
	}
	p.issues = append(p.issues, s.Issues...)
	for _, a := range s.Ambiguities {
		p.d.Note("ambiguous %s", a)
		e.log.Debug("dialogue.extraction.ambiguous", "detail", a)
	}
	e.mergeLoose(p, s)
}

// mergeItem fills the gaps of the first incomplete line with the same name,
// or appends it as a new line.
func mergeItem(d *txn.Draft, it txn.LineItem) {
	for i := range d.Items {
		cur := &d.Items[i]
		if cur.Complete() || !strings.EqualFold(cur.Name, it.Name) {
			continue
		}
		if cur.Quantity == 0 {
			cur.Quantity = it.Quantity
		}
		if cur.UnitPrice == 0 {
			cur.UnitPrice = it.UnitPrice
		}
		return
	}
	d.Items = append(d.Items, it)
}

// mergeLoose places values that came without a product. A lone number is
// read as whatever the draft is waiting for.
func (e *Engine) mergeLoose(p *pass, s extract.Slots) {
	price, qty := s.LoosePrice, s.LooseQuantity
	if s.HasLooseNumber {
		n := s.LooseNumber
		slot, idx := nextMissing(p.d)
		item := ""
		if idx >= 0 {
			item = p.d.Items[idx].Name
		}
		switch slot {
		case SlotPrice:
			switch {
			case n < 0:
				p.issues = append(p.issues, extract.Issue{Field: "price", Item: item, Value: n, Reason: "must not be negative"})
			case n == 0:
				p.issues = append(p.issues, extract.Issue{Field: "price", Item: item, Value: n, Reason: "must be greater than zero"})
			default:
				price = n
			}
		case SlotQuantity:
			switch {
			case n != math.Trunc(n):
				p.issues = append(p.issues, extract.Issue{Field: "quantity", Item: item, Value: n, Reason: "must be a whole number"})
			case n <= 0:
				p.issues = append(p.issues, extract.Issue{Field: "quantity", Item: item, Value: n, Reason: "must be greater than zero"})
			default:
				qty = int(n)
			}
		default:
			p.notice("Not sure what %s refers to.", strconv.FormatFloat(n, 'f', -1, 64))
		}
	}
	if price > 0 {
		fillPrice(p, price)
	}
	if qty > 0 {
		fillQuantity(p, qty)
	}
}

// fillPrice sets the price of the first line still missing one. With every
// line priced it replaces the first line's price.
func fillPrice(p *pass, v float64) {
	d := p.d
	if len(d.Items) == 0 {
		p.notice("There is no item to put a price of %s on yet.", txn.FormatAmount(v))
		return
	}
	for i := range d.Items {
		if d.Items[i].UnitPrice == 0 {
			d.Items[i].UnitPrice = v
			return
		}
	}
	d.Items[0].UnitPrice = v
	p.notice("Changed the price of %s to %s.", d.Items[0].Name, txn.FormatAmount(v))
}

// fillQuantity is fillPrice for quantities.
func fillQuantity(p *pass, q int) {
	d := p.d
	if len(d.Items) == 0 {
		p.notice("There is no item for a quantity of %d yet.", q)
		return
	}
	for i := range d.Items {
		if d.Items[i].Quantity == 0 {
			d.Items[i].Quantity = q
			return
		}
	}
	d.Items[0].Quantity = q
	p.notice("Changed the quantity of %s to %d.", d.Items[0].Name, q)
}

// setCounterparty resolves raw against aliases and history and stores it.
func (e *Engine) setCounterparty(p *pass, raw string, overwrite bool) {
	d := p.d
	role := d.Direction.PartyRole()
	name, note := e.resolveCounterparty(raw, role, p.known)
	cur := d.Counterparty
	switch {
	case cur == "":
	case strings.EqualFold(cur, name):
		return
	case overwrite:
		// A replaced name nobody has traded with before was most likely a
		// misspelling of the new one.
		if !containsFold(p.known, cur) {
			e.learning.LearnAlias(cur, name)
			e.log.Debug("dialogue.alias.learned", "alias", cur, "canonical", name)
		}
		p.notice("Changed the %s to %s.", role, name)
	default:
		p.notice("Keeping %s as the %s; say \"change %s to %s\" to replace it.", cur, role, role, name)
		return
	}
	d.Counterparty = name
	if note != "" {
		d.Note("%s", note)
	}
}

// resolveCounterparty maps raw onto a learned alias or a known name. The note
// describes the substitution, if any.
func (e *Engine) resolveCounterparty(raw, role string, known []string) (string, string) {
	if canon := e.learning.CanonicalCounterparty(raw); !strings.EqualFold(canon, raw) {
		return canon, fmt.Sprintf("%s %s recognised from the alias %q", role, canon, raw)
	}
	for _, k := range known {
		if strings.EqualFold(k, raw) {
			return k, ""
		}
	}
	if best := learning.ResolveCounterparty(raw, known); best != "" && learning.Confident(raw, best) {
		return best, fmt.Sprintf("%s %q matched to %s", role, raw, best)
	}
	return raw, ""
}

// modify applies a correction. Without a recognisable correction the
// extracted slots are merged, replacing the counter-party if one was named.
func (e *Engine) modify(p *pass, c intent.Classification) {
	d := p.d
	corr := c.Correction
	if corr.Empty() {
		e.mergeSlots(p, c.Slots, true)
		return
	}

	if corr.Direction != txn.DirectionUnknown && corr.Direction != d.Direction {
		d.Direction = corr.Direction
		p.notice("Switched to a %s.", d.Direction.Noun())
	}
	if corr.Counterparty != "" {
		e.setCounterparty(p, corr.Counterparty, true)
	}
	p.issues = append(p.issues, corr.Issues...)

	if corr.Price == 0 && corr.Quantity == 0 && corr.Product == "" {
		return
	}
	target := e.learning.CanonicalProduct(corr.Target)
	idx := 0
	if target != "" {
		idx = itemIndex(d, target)
		if idx < 0 {
			p.notice("There is no %s in this %s.", target, d.Direction.Noun())
			return
		}
	}
	if len(d.Items) == 0 {
		if corr.Product == "" {
			p.notice("There is no item to change yet.")
			return
		}
		d.Items = append(d.Items, txn.LineItem{})
	}

	it := &d.Items[idx]
	if corr.Product != "" && !strings.EqualFold(it.Name, corr.Product) {
		old := it.Name
		it.Name = corr.Product
		if old != "" {
			if !e.inVocabulary(old) {
				e.learning.LearnProductAlias(old, corr.Product)
			}
			p.notice("Changed %s to %s.", old, corr.Product)
		}
	}
	if corr.Quantity > 0 {
		it.Quantity = corr.Quantity
		p.notice("Changed the quantity of %s to %d.", it.Name, corr.Quantity)
	}
	if corr.Price > 0 {
		it.UnitPrice = corr.Price
		p.notice("Changed the price of %s to %s.", it.Name, txn.FormatAmount(corr.Price))
	}
}

func (e *Engine) inVocabulary(product string) bool {
	for _, pr := range e.ex.Vocabulary().Products {
		if strings.EqualFold(pr.Name, product) {
			return true
		}
	}
	return false
}

// bareReply reads an utterance the router found nothing in as the answer to
// the pending question: a bare counter-party name, or a product name for a
// line that lacks one. It reports whether the draft changed.
func (e *Engine) bareReply(p *pass) bool {
	slot, idx := nextMissing(p.d)
	switch slot {
	case SlotCounterparty:
		if name := e.ex.BareName(p.utterance); name != "" {
			e.setCounterparty(p, name, false)
			return true
		}
		if e.inferCounterparty(p) {
			return true
		}
	case SlotItems:
		return e.inferItems(p)
	case SlotName:
		if len(strings.Fields(p.utterance)) > maxProductWords {
			return false
		}
		if name := e.ex.CanonicalProduct(p.utterance); name != "" {
			p.d.Items[idx].Name = e.learning.CanonicalProduct(name)
			return true
		}
	}
	return false
}

const maxProductWords = 3

// infer fills what history can supply before anything is asked: the
// counter-party, usual products mentioned in passing and missing prices.
// Every inference leaves a note on the draft.
func (e *Engine) infer(p *pass) {
	e.inferCounterparty(p)
	if !p.sawItems {
		e.inferItems(p)
	}
	if len(p.issues) > 0 {
		return
	}
	d := p.d
	for i := range d.Items {
		it := &d.Items[i]
		if it.Name == "" || it.UnitPrice > 0 {
			continue
		}
		v, src := e.learning.PreferredPrice(d.Counterparty, it.Name)
		v = math.Round(v*100) / 100
		switch src {
		case learning.PriceCounterparty:
			it.UnitPrice = v
			d.Note("price of %s set to %s from %s's history", it.Name, txn.FormatAmount(v), d.Counterparty)
		case learning.PriceGlobal:
			it.UnitPrice = v
			d.Note("price of %s set to %s, the last recorded price", it.Name, txn.FormatAmount(v))
		}
	}
}

// inferCounterparty fills an empty counter-party from a learned alias or a
// known name mentioned in the utterance.
func (e *Engine) inferCounterparty(p *pass) bool {
	d := p.d
	if d.Counterparty != "" {
		return false
	}
	role := d.Direction.PartyRole()
	if canon, alias, ok := e.learning.AliasIn(p.utterance); ok {
		d.Counterparty = canon
		d.Note("%s %s recognised from the alias %q", role, canon, alias)
		return true
	}
	if name := learning.Mentioned(p.utterance, p.known); name != "" {
		d.Counterparty = name
		d.Note("%s %s recognised from history", role, name)
		return true
	}
	return false
}

// inferItems adds the counter-party's usual products that the utterance
// mentions without quantities.
func (e *Engine) inferItems(p *pass) bool {
	d := p.d
	if d.Counterparty == "" {
		return false
	}
	pref, ok := e.learning.Preference(d.Counterparty)
	if !ok {
		return false
	}
	words := e.canonicalWords(p.utterance)
	added := false
	for _, prod := range pref.FrequentProducts {
		if itemIndex(d, prod) >= 0 {
			continue
		}
		if learning.Mentioned(p.utterance, []string{prod}) == "" && !words[strings.ToLower(prod)] {
			continue
		}
		d.Items = append(d.Items, txn.LineItem{Name: prod})
		d.Note("%s added from %s's usual products", prod, d.Counterparty)
		added = true
	}
	return added
}

// canonicalWords maps every word of text to its canonical product name.
func (e *Engine) canonicalWords(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(text) {
		if c := e.ex.CanonicalProduct(w); c != "" {
			out[strings.ToLower(e.learning.CanonicalProduct(c))] = true
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
