// Package txn holds the transaction data model shared by the extractor, the
// dialogue engine and the ledger adapters.
//
// A Draft is the mutable, in-progress representation of a sale or purchase
// being assembled across conversational turns. An Order is the finalized
// shape handed to the ledger once the user confirms.
package txn

import (
	"fmt"
	"strings"
	"time"
)

// Direction says whether a transaction sells to a customer or buys from a
// supplier.
type Direction string

const (
	// DirectionUnknown is the zero value returned by extraction when no rule
	// matched. Drafts never carry it.
	DirectionUnknown Direction = ""
	// DirectionSale is a sale to a customer.
	DirectionSale Direction = "SALE"
	// DirectionPurchase is a purchase from a supplier.
	DirectionPurchase Direction = "PURCHASE"
)

// OrDefault returns d, or DirectionSale when d is unknown.
func (d Direction) OrDefault() Direction {
	if d == DirectionUnknown {
		return DirectionSale
	}
	return d
}

// Noun is the human-readable word for the direction ("sale" / "purchase").
func (d Direction) Noun() string {
	if d == DirectionPurchase {
		return "purchase"
	}
	return "sale"
}

// PartyRole is the role of the counter-party for the direction.
func (d Direction) PartyRole() string {
	if d == DirectionPurchase {
		return "supplier"
	}
	return "customer"
}

// ParseDirection maps loosely formatted direction labels onto a Direction.
func ParseDirection(s string) Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SALE", "SELL", "SALES":
		return DirectionSale
	case "PURCHASE", "BUY", "PURCHASES":
		return DirectionPurchase
	default:
		return DirectionUnknown
	}
}

// LineItem is one product line. Zero quantity or price means "not yet known".
type LineItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Complete reports whether every field of the line is set.
func (li LineItem) Complete() bool {
	return li.Name != "" && li.Quantity > 0 && li.UnitPrice > 0
}

// Subtotal is quantity times unit price.
func (li LineItem) Subtotal() float64 {
	return float64(li.Quantity) * li.UnitPrice
}

// Draft is a transaction being assembled across turns.
type Draft struct {
	Direction    Direction
	Counterparty string
	Items        []LineItem
	History      []string // raw utterances, oldest first
	Notes        []string // inference notes surfaced in the summary
	LastTouched  time.Time
}

// NewDraft returns an empty draft for dir (unknown defaults to sale).
func NewDraft(dir Direction, now time.Time) *Draft {
	return &Draft{Direction: dir.OrDefault(), LastTouched: now}
}

// Complete reports whether the draft can be presented for confirmation.
func (d *Draft) Complete() bool {
	if d.Counterparty == "" || len(d.Items) == 0 {
		return false
	}
	for _, it := range d.Items {
		if !it.Complete() {
			return false
		}
	}
	return true
}

// Total is the sum of item subtotals.
func (d *Draft) Total() float64 {
	var total float64
	for _, it := range d.Items {
		total += it.Subtotal()
	}
	return total
}

// Note appends an inference note.
func (d *Draft) Note(format string, args ...any) {
	d.Notes = append(d.Notes, fmt.Sprintf(format, args...))
}

// Clone returns a deep copy of d.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Items = append([]LineItem(nil), d.Items...)
	cp.History = append([]string(nil), d.History...)
	cp.Notes = append([]string(nil), d.Notes...)
	return &cp
}

// Order returns the finalized form of the draft.
func (d *Draft) Order() Order {
	return Order{
		Direction:    d.Direction,
		Counterparty: d.Counterparty,
		Items:        append([]LineItem(nil), d.Items...),
	}
}

// Order is a confirmed transaction ready for persistence.
type Order struct {
	Direction    Direction  `json:"direction"`
	Counterparty string     `json:"counterparty"`
	Items        []LineItem `json:"items"`
}

// Total is the sum of item subtotals.
func (o Order) Total() float64 {
	var total float64
	for _, it := range o.Items {
		total += it.Subtotal()
	}
	return total
}

// Receipt is what the ledger returns after persisting an Order.
type Receipt struct {
	ID        string
	Total     float64
	CreatedAt time.Time
}

// FormatAmount renders a money amount with two decimals.
func FormatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
