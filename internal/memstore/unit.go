package memstore

import (
	"context"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// Run locks the scope, hands fn a buffered view of the locked records and
// publishes the buffer in one step if fn succeeds. Aborting only drops the
// buffer, so readers never see a partial unit.
func (s *Store) Run(ctx context.Context, scope orders.Scope, fn func(ctx context.Context, tx orders.Tx) error) error {
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var unlocks []func()
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()

	t := &tx{
		now:   s.now(),
		held:  make(map[string]bool),
		items: make(map[string]orders.Item),
		dirty: make(map[string]bool),
		store: s,
	}

	ids := scope.ItemIDs
	if scope.OrderID != "" {
		unlock, err := s.locks.Acquire(lctx, orderKey(scope.OrderID))
		if err != nil {
			return lockErr("order "+scope.OrderID, err)
		}
		unlocks = append(unlocks, unlock)

		t.orderID = scope.OrderID
		s.mu.RLock()
		if o, ok := s.orders[scope.OrderID]; ok {
			c := o.Clone()
			t.current = &c
			// the order lock pins these lines until we are done
			ids = append(ids[:len(ids):len(ids)], c.ItemIDs()...)
		}
		s.mu.RUnlock()
	}

	if len(ids) > 0 {
		keys := make([]string, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, itemKey(id))
		}
		unlock, err := s.locks.Acquire(lctx, keys...)
		if err != nil {
			return lockErr("items", err)
		}
		unlocks = append(unlocks, unlock)
	}

	s.mu.RLock()
	for _, id := range ids {
		t.held[id] = true
		if it, ok := s.items[id]; ok {
			t.items[id] = it
		}
	}
	s.mu.RUnlock()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return orders.Timeout("unit of work abandoned before commit: %v", err)
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range t.dirty {
		it := t.items[id]
		it.Version++
		it.UpdatedAt = t.now.UTC()
		s.items[id] = it
	}
	if t.saved != nil {
		s.orders[t.saved.ID] = *t.saved
	}
}

type tx struct {
	store *Store
	now   time.Time

	held  map[string]bool
	items map[string]orders.Item // working copies of locked items
	dirty map[string]bool

	orderID string
	current *orders.Order // committed order at lock time
	saved   *orders.Order // pending write
}

func (t *tx) Reserve(_ context.Context, itemID string, qty int) (orders.Line, error) {
	if !t.held[itemID] {
		return orders.Line{}, outOfScope("item", itemID)
	}
	it, ok := t.items[itemID]
	if !ok {
		return orders.Line{}, orders.ItemNotFound(itemID)
	}
	if err := it.CheckReserve(qty, t.now); err != nil {
		return orders.Line{}, err
	}
	it.Stock -= qty
	t.items[itemID] = it
	t.dirty[itemID] = true
	return orders.Line{ItemID: itemID, Qty: qty, PriceCents: it.PriceCents}, nil
}

func (t *tx) Release(_ context.Context, itemID string, qty int) error {
	if qty <= 0 {
		return orders.Validation("release quantity for item %s must be positive", itemID)
	}
	if !t.held[itemID] {
		return outOfScope("item", itemID)
	}
	it, ok := t.items[itemID]
	if !ok {
		return orders.ItemNotFound(itemID)
	}
	it.Stock += qty
	t.items[itemID] = it
	t.dirty[itemID] = true
	return nil
}

func (t *tx) Order(_ context.Context, id string) (orders.Order, error) {
	if t.saved != nil && t.saved.ID == id {
		return t.saved.Clone(), nil
	}
	if id != t.orderID {
		return orders.Order{}, outOfScope("order", id)
	}
	if t.current == nil {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	return t.current.Clone(), nil
}

func (t *tx) SaveOrder(_ context.Context, o *orders.Order) error {
	if o.Version == 0 {
		t.store.mu.RLock()
		_, exists := t.store.orders[o.ID]
		t.store.mu.RUnlock()
		if exists {
			return orders.Conflict("order %s already exists", o.ID)
		}
	} else {
		if o.ID != t.orderID {
			return outOfScope("order", o.ID)
		}
		base := t.current
		if t.saved != nil {
			base = t.saved
		}
		if base == nil {
			return orders.OrderNotFound(o.ID)
		}
		if base.Version != o.Version {
			return orders.Conflict("order %s changed concurrently (version %d, have %d)", o.ID, base.Version, o.Version)
		}
	}
	o.Version++
	c := o.Clone()
	t.saved = &c
	return nil
}
