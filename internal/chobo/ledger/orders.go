package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/chobo/internal/chobo/txn"
)

// maxKnownCounterparties caps how many names KnownCounterparties returns.
const maxKnownCounterparties = 200

// Entry is a booked order together with its receipt.
type Entry struct {
	Receipt txn.Receipt
	Order   txn.Order
}

func validate(o txn.Order) error {
	if o.Direction != txn.DirectionSale && o.Direction != txn.DirectionPurchase {
		return fmt.Errorf("%w: direction %q", ErrInvalidOrder, o.Direction)
	}
	if strings.TrimSpace(o.Counterparty) == "" {
		return fmt.Errorf("%w: no %s", ErrInvalidOrder, o.Direction.PartyRole())
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	for i, it := range o.Items {
		if !it.Complete() {
			return fmt.Errorf("%w: line %d (%q) is incomplete", ErrInvalidOrder, i+1, it.Name)
		}
	}
	return nil
}

// Commit books o and returns its receipt. Invalid orders fail with
// ErrInvalidOrder and nothing is written.
func (s *Store) Commit(ctx context.Context, o txn.Order) (txn.Receipt, error) {
	if err := validate(o); err != nil {
		return txn.Receipt{}, err
	}

	rec := txn.Receipt{
		ID:        uuid.NewString(),
		Total:     o.Total(),
		CreatedAt: s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return txn.Receipt{}, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, direction, counterparty, total, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, string(o.Direction), o.Counterparty, rec.Total, rec.CreatedAt.Format(timeLayout),
	); err != nil {
		return txn.Receipt{}, fmt.Errorf("insert order: %w", err)
	}
	for i, it := range o.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_lines (order_id, position, product, quantity, unit_price) VALUES (?, ?, ?, ?, ?)`,
			rec.ID, i, it.Name, it.Quantity, it.UnitPrice,
		); err != nil {
			return txn.Receipt{}, fmt.Errorf("insert order line %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return txn.Receipt{}, fmt.Errorf("commit order: %w", err)
	}

	s.log.Info("ledger.commit.ok",
		"receipt_id", rec.ID,
		"direction", string(o.Direction),
		"counterparty", o.Counterparty,
		"lines", len(o.Items),
		"total", txn.FormatAmount(rec.Total),
	)
	return rec, nil
}

// KnownCounterparties returns the distinct counter-party names booked so far,
// most recently used first.
func (s *Store) KnownCounterparties(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT counterparty FROM orders
		GROUP BY counterparty
		ORDER BY MAX(created_at) DESC, counterparty
		LIMIT ?`, maxKnownCounterparties)
	if err != nil {
		return nil, fmt.Errorf("query counterparties: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan counterparty: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// List returns up to limit booked orders, newest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT o.id, o.direction, o.counterparty, o.total, o.created_at,
		       l.product, l.quantity, l.unit_price
		FROM (SELECT rowid AS seq, * FROM orders ORDER BY created_at DESC, rowid DESC LIMIT ?) o
		JOIN order_lines l ON l.order_id = o.id
		ORDER BY o.created_at DESC, o.seq DESC, l.position`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			id, dir, cp, created string
			total                float64
			line                 txn.LineItem
		)
		if err := rows.Scan(&id, &dir, &cp, &total, &created, &line.Name, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if n := len(out); n == 0 || out[n-1].Receipt.ID != id {
			at, err := time.Parse(timeLayout, created)
			if err != nil {
				return nil, fmt.Errorf("order %s: bad created_at %q: %w", id, created, err)
			}
			out = append(out, Entry{
				Receipt: txn.Receipt{ID: id, Total: total, CreatedAt: at},
				Order:   txn.Order{Direction: txn.Direction(dir), Counterparty: cp},
			})
		}
		last := &out[len(out)-1]
		last.Order.Items = append(last.Order.Items, line)
	}
	return out, rows.Err()
}
