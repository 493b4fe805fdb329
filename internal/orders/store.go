package orders

import (
	"context"
	"time"
)

// Scope names everything a unit of work will touch. The coordinator locks
// OrderID first, then the items of that order's current lines together with
// ItemIDs, as one batch in ascending id order.
type Scope struct {
	OrderID string
	ItemIDs []string
}

// Tx is the view of the stores inside one unit of work. Nothing done through
// it is visible to other callers until the unit commits.
type Tx interface {
	// Reserve decrements stock and returns a line carrying the price snapshot.
	Reserve(ctx context.Context, itemID string, qty int) (Line, error)
	// Release gives back previously reserved stock.
	Release(ctx context.Context, itemID string, qty int) error
	Order(ctx context.Context, id string) (Order, error)
	// SaveOrder inserts o when o.Version is 0, otherwise updates it if the
	// stored version still equals o.Version. o.Version is bumped on success.
	SaveOrder(ctx context.Context, o *Order) error
}

// Coordinator runs fn as one all-or-nothing unit of work. A non-nil error
// from fn aborts the unit and is returned unchanged.
type Coordinator interface {
	Run(ctx context.Context, scope Scope, fn func(ctx context.Context, tx Tx) error) error
}

type Inventory interface {
	Peek(ctx context.Context, id string) (Item, error)
	CreateItem(ctx context.Context, it Item) error
	ListItems(ctx context.Context, p Page) ([]Item, error)
	DisableItem(ctx context.Context, id string) (Item, error)
	// UpdateItem applies fn to the item while holding its lock and stores the
	// result. Stock must be left untouched by fn.
	UpdateItem(ctx context.Context, id string, fn func(*Item)) (Item, error)
	ItemNames(ctx context.Context, ids []string) (map[string]string, error)
	// ExpiringBetween lists items with expiry in [from, to).
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]Item, error)
}

type OrderQueries interface {
	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, f OrderFilter, p Page) ([]Order, error)
	// PendingBefore returns ids of pending orders created at or before cutoff.
	PendingBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Directory resolves staff ids to display names.
type Directory interface {
	UserNames(ctx context.Context, ids []string) (map[string]string, error)
}

type Store interface {
	Coordinator
	Inventory
	OrderQueries
	Directory
}
