package dialogue

import (
	"fmt"
	"strings"

	"github.com/bdobrica/chobo/internal/chobo/learning"
	"github.com/bdobrica/chobo/internal/chobo/txn"
)

// maxSuggestions caps how many usual products a question lists.
const maxSuggestions = 3

func partyPreposition(dir txn.Direction) string {
	if dir == txn.DirectionPurchase {
		return "from"
	}
	return "to"
}

func verb(dir txn.Direction) string {
	if dir == txn.DirectionPurchase {
		return "buying"
	}
	return "selling"
}

// question phrases the request for slot. idx is the line concerned.
func (e *Engine) question(d *txn.Draft, slot Slot, idx int) string {
	switch slot {
	case SlotCounterparty:
		if d.Direction == txn.DirectionPurchase {
			return "Which supplier is this purchase from?"
		}
		return "Who is the customer for this sale?"

	case SlotItems:
		q := fmt.Sprintf("What are you %s %s %s? For example \"10 apples at 5 each\".", verb(d.Direction), partyPreposition(d.Direction), d.Counterparty)
		if pref, ok := e.learning.Preference(d.Counterparty); ok && len(pref.FrequentProducts) > 0 {
			usual := pref.FrequentProducts
			if len(usual) > maxSuggestions {
				usual = usual[:maxSuggestions]
			}
			q += fmt.Sprintf(" Usual for %s: %s.", d.Counterparty, strings.Join(usual, ", "))
		}
		return q

	case SlotName:
		return fmt.Sprintf("Which product is line %d?", idx+1)

	case SlotQuantity:
		if idx < 0 || idx >= len(d.Items) {
			return "What quantity?"
		}
		return fmt.Sprintf("What quantity of %s are you %s?", d.Items[idx].Name, verb(d.Direction))

	case SlotPrice:
		if idx < 0 || idx >= len(d.Items) {
			return "What is the unit price?"
		}
		name := d.Items[idx].Name
		q := fmt.Sprintf("What is the unit price of %s?", name)
		if v, src := e.learning.PreferredPrice(d.Counterparty, name); src != learning.PriceNone {
			q += fmt.Sprintf(" Last time it was %s.", txn.FormatAmount(v))
		}
		return q
	}
	return ""
}

// summary renders the confirmation prompt: direction, counter-party, every
// line with its subtotal, the grand total and the inference notes.
func summary(d *txn.Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please confirm this %s:\n", d.Direction.Noun())
	role := d.Direction.PartyRole()
	fmt.Fprintf(&b, "  %s%s: %s\n", strings.ToUpper(role[:1]), role[1:], d.Counterparty)
	for _, it := range d.Items {
		fmt.Fprintf(&b, "  - %s x %d @ %s = %s\n", it.Name, it.Quantity, txn.FormatAmount(it.UnitPrice), txn.FormatAmount(it.Subtotal()))
	}
	fmt.Fprintf(&b, "  Total: %s\n", txn.FormatAmount(d.Total()))
	if len(d.Notes) > 0 {
		b.WriteString("Filled in automatically:\n")
		for _, n := range d.Notes {
			fmt.Fprintf(&b, "  * %s\n", n)
		}
	}
	b.WriteString(`Reply "yes" to save, "no" to cancel, or say what to change (e.g. "change price to 450").`)
	return b.String()
}

// brief is a one-line description of d for the upstream classifier.
func brief(d *txn.Draft) string {
	if d == nil {
		return ""
	}
	parts := []string{d.Direction.Noun()}
	if d.Counterparty != "" {
		parts = append(parts, partyPreposition(d.Direction)+" "+d.Counterparty)
	}
	for _, it := range d.Items {
		parts = append(parts, fmt.Sprintf("%s qty=%d price=%s", it.Name, it.Quantity, txn.FormatAmount(it.UnitPrice)))
	}
	return strings.Join(parts, "; ")
}
