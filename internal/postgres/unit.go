package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

const defaultLockTimeout = 2 * time.Second

// Run executes fn inside one database transaction. The scoped order row and
// then all item rows are locked FOR UPDATE in id order before fn starts;
// lock waits are bounded by lock_timeout and surface as Timeout.
func (s *Store) Run(ctx context.Context, scope orders.Scope, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeoutSetting(s.LockTimeout)); err != nil {
		return mapErr(err)
	}

	t := &unit{tx: tx, now: s.now(), held: make(map[string]bool)}
	ids := slices.Clone(scope.ItemIDs)
	if scope.OrderID != "" {
		o, err := loadOrder(ctx, tx, scope.OrderID, true)
		switch {
		case err == nil:
			ids = append(ids, o.ItemIDs()...)
		case !errors.Is(err, orders.ErrNotFound):
			return err
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) > 0 {
		rows, err := tx.Query(ctx, `SELECT id FROM items WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
		if err != nil {
			return mapErr(err)
		}
		if _, err := pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
			return mapErr(err)
		}
	}
	for _, id := range ids {
		t.held[id] = true
	}

	if err := fn(ctx, t); err != nil {
		return err
	}
	return mapErr(tx.Commit(ctx))
}

// lockTimeoutSetting renders d for SET lock_timeout. Postgres reads "0ms"
// as no limit, so anything below a millisecond is raised to 1ms.
func lockTimeoutSetting(d time.Duration) string {
	if d <= 0 {
		d = defaultLockTimeout
	}
	return fmt.Sprintf("%dms", max(d.Milliseconds(), 1))
}

type unit struct {
	tx   pgx.Tx
	now  time.Time
	held map[string]bool
}

func (u *unit) Reserve(ctx context.Context, itemID string, qty int) (orders.Line, error) {
	if !u.held[itemID] {
		return orders.Line{}, fmt.Errorf("postgres: item %s is outside the unit of work scope", itemID)
	}
	it, err := scanItem(u.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Line{}, orders.ItemNotFound(itemID)
	}
	if err != nil {
		return orders.Line{}, mapErr(err)
	}
	if err := it.CheckReserve(qty, u.now); err != nil {
		return orders.Line{}, err
	}
	_, err = u.tx.Exec(ctx, `
		UPDATE items SET stock = stock - $2, version = version + 1, updated_at = $3
		WHERE id = $1`, itemID, qty, u.now.UTC())
	if isCode(err, codeCheckViolation) {
		return orders.Line{}, orders.InsufficientStock(itemID, qty, it.Stock)
	}
	if err != nil {
		return orders.Line{}, mapErr(err)
	}
	return orders.Line{ItemID: itemID, Qty: qty, PriceCents: it.PriceCents}, nil
}

func (u *unit) Release(ctx context.Context, itemID string, qty int) error {
	if qty <= 0 {
		return orders.Validation("release quantity for item %s must be positive", itemID)
	}
	if !u.held[itemID] {
		return fmt.Errorf("postgres: item %s is outside the unit of work scope", itemID)
	}
	ct, err := u.tx.Exec(ctx, `
		UPDATE items SET stock = stock + $2, version = version + 1, updated_at = $3
		WHERE id = $1`, itemID, qty, u.now.UTC())
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() != 1 {
		return orders.ItemNotFound(itemID)
	}
	return nil
}

func (u *unit) Order(ctx context.Context, id string) (orders.Order, error) {
	return loadOrder(ctx, u.tx, id, false)
}

func (u *unit) SaveOrder(ctx context.Context, o *orders.Order) error {
	if o.Version == 0 {
		_, err := u.tx.Exec(ctx, `
			INSERT INTO orders(`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`,
			o.ID, o.CustomerName, o.WaiterID, o.CashierID, o.TotalCents, string(o.Status), o.CreatedAt, o.UpdatedAt)
		if isCode(err, codeUniqueViolation) {
			return orders.Conflict("order %s already exists", o.ID)
		}
		if err != nil {
			return mapErr(err)
		}
	} else {
		ct, err := u.tx.Exec(ctx, `
			UPDATE orders
			SET customer_name = $2, waiter_id = $3, cashier_id = $4, total_cents = $5,
			    status = $6, version = version + 1, updated_at = $7
			WHERE id = $1 AND version = $8`,
			o.ID, o.CustomerName, o.WaiterID, o.CashierID, o.TotalCents, string(o.Status), o.UpdatedAt, o.Version)
		if err != nil {
			return mapErr(err)
		}
		if ct.RowsAffected() != 1 {
			return orders.Conflict("order %s changed concurrently", o.ID)
		}
		if _, err := u.tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, o.ID); err != nil {
			return mapErr(err)
		}
	}

	if len(o.Lines) > 0 {
		b := &pgx.Batch{}
		for i, l := range o.Lines {
			b.Queue(`INSERT INTO order_lines(order_id, position, item_id, qty, price_cents) VALUES ($1, $2, $3, $4, $5)`,
				o.ID, i, l.ItemID, l.Qty, l.PriceCents)
		}
		if err := u.tx.SendBatch(ctx, b).Close(); err != nil {
			return mapErr(err)
		}
	}
	o.Version++
	return nil
}
