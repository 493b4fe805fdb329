package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type Store struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration
	Now         func() time.Time
}

var _ orders.Store = (*Store)(nil)

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

const itemColumns = `id, name, price_cents, stock, expires_at, available, version, created_at, updated_at`

func scanItem(row pgx.Row) (orders.Item, error) {
	var it orders.Item
	err := row.Scan(&it.ID, &it.Name, &it.PriceCents, &it.Stock, &it.ExpiresAt, &it.Available, &it.Version, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (s *Store) CreateItem(ctx context.Context, it orders.Item) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO items(id, name, price_cents, stock, expires_at, available, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)`,
		it.ID, it.Name, it.PriceCents, it.Stock, it.ExpiresAt, it.Available, it.CreatedAt, it.UpdatedAt)
	if isCode(err, codeUniqueViolation) {
		return orders.Validation("item name %q already exists", it.Name)
	}
	return mapErr(err)
}

func (s *Store) Peek(ctx context.Context, id string) (orders.Item, error) {
	it, err := scanItem(s.DB.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Item{}, orders.ItemNotFound(id)
	}
	return it, mapErr(err)
}

func (s *Store) ListItems(ctx context.Context, p orders.Page) ([]orders.Item, error) {
	p = p.Normalize()
	rows, err := s.DB.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY name, id LIMIT $1 OFFSET $2`, p.Limit, p.Offset())
	if err != nil {
		return nil, mapErr(err)
	}
	return collectItems(rows)
}

func (s *Store) DisableItem(ctx context.Context, id string) (orders.Item, error) {
	it, err := scanItem(s.DB.QueryRow(ctx, `
		UPDATE items SET available = FALSE, version = version + 1, updated_at = $2
		WHERE id = $1
		RETURNING `+itemColumns, id, s.now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Item{}, orders.ItemNotFound(id)
	}
	return it, mapErr(err)
}

// UpdateItem locks the row with the same lock_timeout as a unit of work.
func (s *Store) UpdateItem(ctx context.Context, id string, fn func(*orders.Item)) (orders.Item, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return orders.Item{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeoutSetting(s.LockTimeout)); err != nil {
		return orders.Item{}, mapErr(err)
	}

	it, err := scanItem(tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Item{}, orders.ItemNotFound(id)
	}
	if err != nil {
		return orders.Item{}, mapErr(err)
	}
	fn(&it)
	updated, err := scanItem(tx.QueryRow(ctx, `
		UPDATE items SET name = $2, price_cents = $3, expires_at = $4, version = version + 1, updated_at = $5
		WHERE id = $1
		RETURNING `+itemColumns, id, it.Name, it.PriceCents, it.ExpiresAt, s.now().UTC()))
	if isCode(err, codeUniqueViolation) {
		return orders.Item{}, orders.Validation("item name %q already exists", it.Name)
	}
	if err != nil {
		return orders.Item{}, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return orders.Item{}, mapErr(err)
	}
	return updated, nil
}

func (s *Store) ItemNames(ctx context.Context, ids []string) (map[string]string, error) {
	return names(ctx, s.DB, `SELECT id, name FROM items WHERE id = ANY($1)`, ids)
}

func (s *Store) UserNames(ctx context.Context, ids []string) (map[string]string, error) {
	return names(ctx, s.DB, `SELECT id, name FROM users WHERE id = ANY($1)`, ids)
}

func (s *Store) ExpiringBetween(ctx context.Context, from, to time.Time) ([]orders.Item, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE expires_at >= $1 AND expires_at < $2
		ORDER BY expires_at, id`, from, to)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectItems(rows)
}

func collectItems(rows pgx.Rows) ([]orders.Item, error) {
	defer rows.Close()
	var out []orders.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, it)
	}
	return out, mapErr(rows.Err())
}

func names(ctx context.Context, q querier, sql string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, mapErr(err)
		}
		out[id] = name
	}
	return out, mapErr(rows.Err())
}

const orderColumns = `id, customer_name, waiter_id, cashier_id, total_cents, status, version, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var o orders.Order
	var status string
	err := row.Scan(&o.ID, &o.CustomerName, &o.WaiterID, &o.CashierID, &o.TotalCents, &status, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	o.Status = orders.Status(status)
	return o, err
}

// loadOrder reads one order with its lines. forUpdate locks the order row.
func loadOrder(ctx context.Context, q querier, id string, forUpdate bool) (orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	if err != nil {
		return orders.Order{}, mapErr(err)
	}
	byOrder, err := loadLines(ctx, q, []string{id})
	if err != nil {
		return orders.Order{}, err
	}
	o.Lines = byOrder[id]
	return o, nil
}

func loadLines(ctx context.Context, q querier, orderIDs []string) (map[string][]orders.Line, error) {
	out := make(map[string][]orders.Line, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT order_id, item_id, qty, price_cents FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var oid string
		var l orders.Line
		if err := rows.Scan(&oid, &l.ItemID, &l.Qty, &l.PriceCents); err != nil {
			return nil, mapErr(err)
		}
		out[oid] = append(out[oid], l)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	return loadOrder(ctx, s.DB, id, false)
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter, p orders.Page) ([]orders.Order, error) {
	sql, args := buildOrderQuery(f, p.Normalize())
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []orders.Order
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	rows.Close()

	lines, err := loadLines(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildOrderQuery renders the filtered, paginated order listing.
func buildOrderQuery(f orders.OrderFilter, p orders.Page) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.CustomerName != "" {
		add("customer_name ILIKE '%%' || $%d || '%%'", likeEscaper.Replace(f.CustomerName))
	}
	if f.WaiterID != "" {
		add("waiter_id = $%d", f.WaiterID)
	}
	if f.CashierID != "" {
		add("cashier_id = $%d", f.CashierID)
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= $%d", f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		add("created_at < $%d", f.CreatedTo)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + orderColumns + ` FROM orders`)
	if len(where) > 0 {
		b.WriteString(` WHERE ` + strings.Join(where, ` AND `))
	}
	args = append(args, p.Limit, p.Offset())
	fmt.Fprintf(&b, ` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return b.String(), args
}

func (s *Store) PendingBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status = $1 AND created_at <= $2
		ORDER BY id`, string(orders.StatusPending), cutoff)
	if err != nil {
		return nil, mapErr(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, mapErr(err)
}
