// Package memstore keeps items, orders and staff names in process memory and
// coordinates units of work with per-key locks taken in a fixed order.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/lockmgr"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

const DefaultLockTimeout = 2 * time.Second

type Store struct {
	mu     sync.RWMutex // guards the committed state below
	items  map[string]orders.Item
	orders map[string]orders.Order
	users  map[string]string

	locks       *lockmgr.Locks
	lockTimeout time.Duration
	now         func() time.Time
}

type Option func(*Store)

func WithLockTimeout(d time.Duration) Option { return func(s *Store) { s.lockTimeout = d } }
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(opts ...Option) *Store {
	s := &Store{
		items:       make(map[string]orders.Item),
		orders:      make(map[string]orders.Order),
		users:       make(map[string]string),
		locks:       lockmgr.New(),
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ orders.Store = (*Store)(nil)

func itemKey(id string) string { return "item:" + id }
func orderKey(id string) string { return "order:" + id }

// SetUser registers a display name for a staff id.
func (s *Store) SetUser(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = name
}

func (s *Store) CreateItem(_ context.Context, it orders.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[it.ID]; ok {
		return orders.Validation("item %s already exists", it.ID)
	}
	for _, x := range s.items {
		if strings.EqualFold(x.Name, it.Name) {
			return orders.Validation("item name %q already exists", it.Name)
		}
	}
	s.items[it.ID] = it
	return nil
}

func (s *Store) Peek(_ context.Context, id string) (orders.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return orders.Item{}, orders.ItemNotFound(id)
	}
	return it, nil
}

func (s *Store) ListItems(_ context.Context, p orders.Page) ([]orders.Item, error) {
	s.mu.RLock()
	out := make([]orders.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b orders.Item) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return paginate(out, p.Normalize()), nil
}

// DisableItem takes the item's lock so it never interleaves with a unit of
// work that holds the same item.
func (s *Store) DisableItem(ctx context.Context, id string) (orders.Item, error) {
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	unlock, err := s.locks.Acquire(lctx, itemKey(id))
	if err != nil {
		return orders.Item{}, lockErr("item "+id, err)
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return orders.Item{}, orders.ItemNotFound(id)
	}
	it.Available = false
	it.Version++
	it.UpdatedAt = s.now().UTC()
	s.items[id] = it
	return it, nil
}

func (s *Store) UpdateItem(ctx context.Context, id string, fn func(*orders.Item)) (orders.Item, error) {
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	unlock, err := s.locks.Acquire(lctx, itemKey(id))
	if err != nil {
		return orders.Item{}, lockErr("item "+id, err)
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return orders.Item{}, orders.ItemNotFound(id)
	}
	stock := it.Stock
	fn(&it)
	it.Stock = stock
	for _, x := range s.items {
		if x.ID != id && strings.EqualFold(x.Name, it.Name) {
			return orders.Item{}, orders.Validation("item name %q already exists", it.Name)
		}
	}
	it.Version++
	it.UpdatedAt = s.now().UTC()
	s.items[id] = it
	return it, nil
}

func (s *Store) ItemNames(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out[id] = it.Name
		}
	}
	return out, nil
}

func (s *Store) ExpiringBetween(_ context.Context, from, to time.Time) ([]orders.Item, error) {
	s.mu.RLock()
	var out []orders.Item
	for _, it := range s.items {
		if it.ExpiresAt == nil {
			continue
		}
		if !it.ExpiresAt.Before(from) && it.ExpiresAt.Before(to) {
			out = append(out, it)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b orders.Item) int { return a.ExpiresAt.Compare(*b.ExpiresAt) })
	return out, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	return o.Clone(), nil
}

func (s *Store) ListOrders(_ context.Context, f orders.OrderFilter, p orders.Page) ([]orders.Order, error) {
	s.mu.RLock()
	var out []orders.Order
	for _, o := range s.orders {
		if f.Match(o) {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()

	// newest first, ties by id
	slices.SortFunc(out, func(a, b orders.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return paginate(out, p.Normalize()), nil
}

func (s *Store) PendingBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, o := range s.orders {
		if o.Status == orders.StatusPending && !o.CreatedAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) UserNames(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if n, ok := s.users[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func paginate[T any](xs []T, p orders.Page) []T {
	off := p.Offset()
	if off >= len(xs) {
		return []T{}
	}
	end := min(off+p.Limit, len(xs))
	return xs[off:end]
}

func lockErr(what string, err error) error {
	return orders.Timeout("waiting for %s: %v", what, err)
}

func outOfScope(kind, id string) error {
	return fmt.Errorf("memstore: %s %s is outside the unit of work scope", kind, id)
}
