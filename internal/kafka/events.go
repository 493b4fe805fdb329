package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"

	eventVersion = 1
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header)
}

// OrderEvents turns committed order changes into envelopes on the order
// events topic.
type OrderEvents struct {
	Pub     Publisher
	Service string
	Log     *zap.Logger
}

func (e OrderEvents) OrderChanged(ctx context.Context, eventType string, o orders.Order) {
	ev := newEnvelope(ctx, e.Service, eventType, o.ID, orders.NewOrderEventPayload(o))
	publish(e.Pub, orders.PartitionKey(o.ID), ev)
	if e.Log != nil {
		e.Log.Debug("event queued", zap.String("type", eventType), zap.String("order_id", o.ID))
	}
}

// ItemAlerts publishes expiry reminders for the catalogue. The event id is
// derived from window and day, so every sweep of the same day yields the same
// id and consumers mail once.
type ItemAlerts struct {
	Pub     Publisher
	Service string
}

func (a ItemAlerts) ItemsExpiring(ctx context.Context, window string, day time.Time, items []orders.ExpiringItem) error {
	ev := newEnvelope(ctx, a.Service, orders.EventItemsExpiring, window, orders.ItemsExpiringPayload{Window: window, Items: items})
	ev.EventID = AlertEventID(window, day)
	publish(a.Pub, []byte(window), ev)
	return nil
}

func AlertEventID(window string, day time.Time) string {
	name := orders.EventItemsExpiring + "/" + window + "/" + day.UTC().Format(time.DateOnly)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func newEnvelope(ctx context.Context, service, eventType, correlationID string, payload any) orders.Envelope {
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: correlationID,
		Payload:       MustMarshal(payload),
	}
}

func publish(p Publisher, key []byte, ev orders.Envelope) {
	p.Publish(key, MustMarshal(ev),
		kafka.Header{Key: HeaderEventType, Value: []byte(ev.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	)
}
