package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type fakeMailer struct {
	sent []Mail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, m Mail) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func newService(t *testing.T) (*Service, *fakeMailer) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	m := &fakeMailer{}
	return &Service{Redis: rdb, Mailer: m, To: []string{"owner@shop.test"}, Service: "notifier", Log: zap.NewNop()}, m
}

func message(eventID, eventType string, payload any) kafkago.Message {
	return kafkago.Message{Value: kafkax.MustMarshal(orders.Envelope{
		EventID:   eventID,
		EventType: eventType,
		Payload:   kafkax.MustMarshal(payload),
	})}
}

func TestHandleCancelledOnce(t *testing.T) {
	s, mailer := newService(t)
	ctx := context.Background()
	msg := message("ev-1", orders.EventOrderCancelled, orders.OrderEventPayload{
		OrderID: "o1", CustomerName: "Ann", TotalCents: 1250,
		Lines: []orders.Line{{ItemID: "x", Qty: 1, PriceCents: 1250}},
	})

	require.NoError(t, s.HandleEvent(ctx, msg))
	require.NoError(t, s.HandleEvent(ctx, msg), "redelivery is acknowledged")

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"owner@shop.test"}, mailer.sent[0].To)
	assert.Equal(t, "Order o1 cancelled", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].Body, "12.50")
}

func TestHandleExpiringItems(t *testing.T) {
	s, mailer := newService(t)
	exp := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)
	msg := message("ev-2", orders.EventItemsExpiring, orders.ItemsExpiringPayload{
		Window: "in_5_days",
		Items:  []orders.ExpiringItem{{ItemID: "m", Name: "Milk", Stock: 4, ExpiresAt: exp}},
	})

	require.NoError(t, s.HandleEvent(context.Background(), msg))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "1 item(s) expiring in 5 days", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].Body, "Milk (4 in stock) expires 2026-05-06")
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	s, mailer := newService(t)
	ctx := context.Background()

	require.NoError(t, s.HandleEvent(ctx, message("ev-3", orders.EventOrderCreated, orders.OrderEventPayload{OrderID: "o1"})))
	require.NoError(t, s.HandleEvent(ctx, kafkago.Message{Value: []byte("{not json")}))
	require.NoError(t, s.HandleEvent(ctx, message("ev-4", orders.EventItemsExpiring, orders.ItemsExpiringPayload{Window: "today"})))
	assert.Empty(t, mailer.sent)
}

func TestHandleMailFailureIsRetried(t *testing.T) {
	s, mailer := newService(t)
	ctx := context.Background()
	msg := message("ev-5", orders.EventOrderExpired, orders.OrderEventPayload{OrderID: "o9"})

	mailer.err = errors.New("smtp down")
	require.Error(t, s.HandleEvent(ctx, msg))

	mailer.err = nil
	require.NoError(t, s.HandleEvent(ctx, msg))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Order o9 expired", mailer.sent[0].Subject)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "0.05", FormatCents(5))
	assert.Equal(t, "12.00", FormatCents(1200))
	assert.Equal(t, "-3.10", FormatCents(-310))
}
