package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Observer is told about every engine operation once it finishes.
type Observer interface {
	ObserveOp(op string, took time.Duration, err error)
}

type Engine struct {
	store    Store
	resolver Resolver
	events   Events
	observer Observer
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithEvents(ev Events) Option { return func(e *Engine) { e.events = ev } }
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		events: nopEvents{},
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = Resolver{Users: store, Items: store, Log: e.log}
	return e
}

func (e *Engine) observe(op string, start time.Time, err error) {
	if e.observer != nil {
		e.observer.ObserveOp(op, e.now().Sub(start), err)
	}
}

// CreateOrder reserves every line and writes a pending order in one unit of
// work. Any failed reservation aborts the whole call.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (_ View, err error) {
	start := e.now()
	defer func() { e.observe("create", start, err) }()

	in.CustomerName = strings.TrimSpace(in.CustomerName)
	if in.CustomerName == "" {
		return View{}, Validation("customer name is required")
	}
	if err := validateLines(in.Lines); err != nil {
		return View{}, err
	}

	var created Order
	err = e.store.Run(ctx, Scope{ItemIDs: lineItemIDs(in.Lines)}, func(ctx context.Context, tx Tx) error {
		lines, err := reserveAll(ctx, tx, in.Lines)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		o := Order{
			ID:           uuid.NewString(),
			CustomerName: in.CustomerName,
			Lines:        lines,
			WaiterID:     in.WaiterID,
			CashierID:    in.CashierID,
			TotalCents:   TotalOf(lines),
			Status:       StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.SaveOrder(ctx, &o); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		e.log.Info("create order rejected", zap.String("customer", in.CustomerName), zap.Error(err))
		return View{}, err
	}

	e.log.Info("order created",
		zap.String("order_id", created.ID),
		zap.Int("lines", len(created.Lines)),
		zap.Int64("total_cents", created.TotalCents))
	e.events.OrderChanged(ctx, EventOrderCreated, created)
	return e.resolver.One(ctx, created), nil
}

// UpdateOrder replaces the lines of a pending order. Old lines are released
// and new ones reserved inside the same unit, so only the net delta is ever
// visible.
func (e *Engine) UpdateOrder(ctx context.Context, orderID string, lines []LineInput) (_ View, err error) {
	start := e.now()
	defer func() { e.observe("update", start, err) }()

	if err := validateLines(lines); err != nil {
		return View{}, err
	}

	var updated Order
	err = e.store.Run(ctx, Scope{OrderID: orderID, ItemIDs: lineItemIDs(lines)}, func(ctx context.Context, tx Tx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Status.Mutable() {
			return InvalidState(o.ID, o.Status)
		}
		if err := releaseAll(ctx, tx, o.Lines); err != nil {
			return err
		}
		next, err := reserveAll(ctx, tx, lines)
		if err != nil {
			return err
		}
		o.Lines = next
		o.TotalCents = TotalOf(next)
		o.UpdatedAt = e.now().UTC()
		if err := tx.SaveOrder(ctx, &o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		e.log.Info("update order rejected", zap.String("order_id", orderID), zap.Error(err))
		return View{}, err
	}

	e.log.Info("order updated", zap.String("order_id", orderID), zap.Int64("total_cents", updated.TotalCents))
	e.events.OrderChanged(ctx, EventOrderUpdated, updated)
	return e.resolver.One(ctx, updated), nil
}

// MarkComplete moves a pending order to completed. Stock is untouched.
func (e *Engine) MarkComplete(ctx context.Context, orderID string) (_ View, err error) {
	start := e.now()
	defer func() { e.observe("complete", start, err) }()

	o, err := e.transition(ctx, orderID, StatusCompleted, false)
	if err != nil {
		return View{}, err
	}
	e.events.OrderChanged(ctx, EventOrderCompleted, o)
	return e.resolver.One(ctx, o), nil
}

// CancelOrder moves a pending order to cancelled and returns its stock.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (_ View, err error) {
	start := e.now()
	defer func() { e.observe("cancel", start, err) }()

	o, err := e.transition(ctx, orderID, StatusCancelled, true)
	if err != nil {
		return View{}, err
	}
	e.events.OrderChanged(ctx, EventOrderCancelled, o)
	return e.resolver.One(ctx, o), nil
}

func (e *Engine) transition(ctx context.Context, orderID string, to Status, release bool) (Order, error) {
	var out Order
	err := e.store.Run(ctx, Scope{OrderID: orderID}, func(ctx context.Context, tx Tx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, to) {
			return InvalidState(o.ID, o.Status)
		}
		if release {
			if err := releaseAll(ctx, tx, o.Lines); err != nil {
				return err
			}
		}
		o.Status = to
		o.UpdatedAt = e.now().UTC()
		if err := tx.SaveOrder(ctx, &o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		e.log.Info("order transition rejected", zap.String("order_id", orderID), zap.String("to", string(to)), zap.Error(err))
		return Order{}, err
	}
	e.log.Info("order transitioned", zap.String("order_id", orderID), zap.String("status", string(to)))
	return out, nil
}

// ExpireStalePending expires every pending order older than maxAge and
// returns its stock. Each order is expired in its own unit of work; the
// count covers the orders actually transitioned and per-order failures are
// joined into the returned error.
func (e *Engine) ExpireStalePending(ctx context.Context, maxAge time.Duration) (n int, err error) {
	start := e.now()
	defer func() { e.observe("expire", start, err) }()

	if maxAge <= 0 {
		return 0, Validation("max age must be positive")
	}
	cutoff := e.now().UTC().Add(-maxAge)
	ids, err := e.store.PendingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		var expired Order
		var changed bool
		err := e.store.Run(ctx, Scope{OrderID: id}, func(ctx context.Context, tx Tx) error {
			o, err := tx.Order(ctx, id)
			if err != nil {
				return err
			}
			// Re-checked under the order lock: it may have been completed or
			// updated since PendingBefore ran.
			if o.Status != StatusPending || o.CreatedAt.After(cutoff) {
				return nil
			}
			if err := releaseAll(ctx, tx, o.Lines); err != nil {
				return err
			}
			o.Status = StatusExpired
			o.UpdatedAt = e.now().UTC()
			if err := tx.SaveOrder(ctx, &o); err != nil {
				return err
			}
			expired, changed = o, true
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			e.log.Warn("expire order", zap.String("order_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if changed {
			n++
			e.events.OrderChanged(ctx, EventOrderExpired, expired)
		}
	}
	e.log.Info("expired stale pending orders", zap.Int("count", n), zap.Time("cutoff", cutoff))
	return n, errors.Join(errs...)
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (View, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	return e.resolver.One(ctx, o), nil
}

func (e *Engine) ListOrders(ctx context.Context, f OrderFilter, p Page) ([]View, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, Validation("unknown status %q", f.Status)
	}
	os, err := e.store.ListOrders(ctx, f, p.Normalize())
	if err != nil {
		return nil, err
	}
	return e.resolver.Resolve(ctx, os), nil
}

// SalesSummary aggregates completed orders created in [from, to).
func (e *Engine) SalesSummary(ctx context.Context, from, to time.Time) (Summary, error) {
	if !to.After(from) {
		return Summary{}, Validation("summary window is empty")
	}
	s := Summary{From: from, To: to, Units: map[string]int{}}
	f := OrderFilter{Status: StatusCompleted, CreatedFrom: from, CreatedTo: to}
	for p := (Page{Page: 1, Limit: MaxPageLimit}); ; p.Page++ {
		batch, err := e.store.ListOrders(ctx, f, p)
		if err != nil {
			return Summary{}, err
		}
		for _, o := range batch {
			s.Add(o)
		}
		if len(batch) < p.Limit {
			return s, nil
		}
	}
}

func (e *Engine) CreateItem(ctx context.Context, in CreateItemInput) (Item, error) {
	if err := in.Validate(); err != nil {
		return Item{}, err
	}
	now := e.now().UTC()
	it := Item{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(in.Name),
		PriceCents: in.PriceCents,
		Stock:      in.Stock,
		ExpiresAt:  in.ExpiresAt,
		Available:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreateItem(ctx, it); err != nil {
		return Item{}, err
	}
	e.log.Info("item created", zap.String("item_id", it.ID), zap.String("name", it.Name), zap.Int("stock", it.Stock))
	return it, nil
}

func (e *Engine) GetItem(ctx context.Context, id string) (Item, error) {
	return e.store.Peek(ctx, id)
}

func (e *Engine) ListItems(ctx context.Context, p Page) ([]Item, error) {
	return e.store.ListItems(ctx, p.Normalize())
}

// DisableItem withdraws an item from sale. Existing reservations stay.
func (e *Engine) DisableItem(ctx context.Context, id string) (Item, error) {
	return e.store.DisableItem(ctx, id)
}

// UpdateItem edits name, price or expiry. Orders already placed keep the
// price they were reserved at.
func (e *Engine) UpdateItem(ctx context.Context, id string, in UpdateItemInput) (Item, error) {
	if err := in.Validate(); err != nil {
		return Item{}, err
	}
	it, err := e.store.UpdateItem(ctx, id, in.Apply)
	if err != nil {
		return Item{}, err
	}
	e.log.Info("item updated", zap.String("item_id", it.ID), zap.String("name", it.Name), zap.Int64("price_cents", it.PriceCents))
	return it, nil
}

func reserveAll(ctx context.Context, tx Tx, in []LineInput) ([]Line, error) {
	lines := make([]Line, 0, len(in))
	for _, l := range in {
		line, err := tx.Reserve(ctx, l.ItemID, l.Qty)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func releaseAll(ctx context.Context, tx Tx, lines []Line) error {
	for _, l := range lines {
		if err := tx.Release(ctx, l.ItemID, l.Qty); err != nil {
			return err
		}
	}
	return nil
}
