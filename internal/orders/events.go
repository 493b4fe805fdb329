package orders

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderUpdated   = "OrderUpdated"
	EventOrderCompleted = "OrderCompleted"
	EventOrderCancelled = "OrderCancelled"
	EventOrderExpired   = "OrderExpired"
	EventItemsExpiring  = "ItemsExpiring"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id for order events
	Payload       json.RawMessage `json:"payload"`
}

type OrderEventPayload struct {
	OrderID      string `json:"order_id"`
	CustomerName string `json:"customer_name"`
	Status       Status `json:"status"`
	Lines        []Line `json:"lines"`
	TotalCents   int64  `json:"total_cents"`
	WaiterID     string `json:"waiter_id,omitempty"`
	CashierID    string `json:"cashier_id,omitempty"`
}

func NewOrderEventPayload(o Order) OrderEventPayload {
	return OrderEventPayload{
		OrderID:      o.ID,
		CustomerName: o.CustomerName,
		Status:       o.Status,
		Lines:        o.Lines,
		TotalCents:   o.TotalCents,
		WaiterID:     o.WaiterID,
		CashierID:    o.CashierID,
	}
}

type ExpiringItem struct {
	ItemID    string    `json:"item_id"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ItemsExpiringPayload struct {
	Window string         `json:"window"` // "today" | "in_N_days"
	Items  []ExpiringItem `json:"items"`
}

// Events receives committed order changes. Implementations must not block
// the caller for long; delivery failures are theirs to log.
type Events interface {
	OrderChanged(ctx context.Context, eventType string, o Order)
}

type nopEvents struct{}

func (nopEvents) OrderChanged(context.Context, string, Order) {}

type fanOut []Events

// FanOut delivers each change to every non-nil sink in order.
func FanOut(evs ...Events) Events {
	var out fanOut
	for _, ev := range evs {
		if ev != nil {
			out = append(out, ev)
		}
	}
	return out
}

func (f fanOut) OrderChanged(ctx context.Context, eventType string, o Order) {
	for _, ev := range f {
		ev.OrderChanged(ctx, eventType, o)
	}
}
