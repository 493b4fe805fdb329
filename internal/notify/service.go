package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
)

type Mail struct {
	To      []string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer writes mail to the log instead of an SMTP relay.
type LogMailer struct {
	Log *zap.Logger
}

func (l LogMailer) Send(_ context.Context, m Mail) error {
	l.Log.Info("mail", zap.Strings("to", m.To), zap.String("subject", m.Subject), zap.String("body", m.Body))
	return nil
}

// Service mails the shop owner about cancelled or expired orders and stock
// close to its expiry date.
type Service struct {
	Redis   redis.Cmdable
	Mailer  Mailer
	To      []string
	Service string
	Log     *zap.Logger
}

// HandleEvent is a kafka.Handler. Events it does not care about are
// acknowledged without side effects.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	ev, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// poison message; retrying will not fix it
		s.Log.Error("drop undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	mail, ok, err := s.compose(ev)
	if err != nil {
		s.Log.Error("drop bad payload", zap.String("event_id", ev.EventID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	first, err := redisx.MarkOnce(ctx, s.Redis, s.Service, ev.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", ev.EventID, err)
	}
	if !first {
		s.Log.Debug("duplicate event", zap.String("event_id", ev.EventID))
		return nil
	}

	if err := s.Mailer.Send(ctx, mail); err != nil {
		// the consumer retries this offset; clear the mark so the retry sends
		_ = s.Redis.Del(ctx, fmt.Sprintf(redisx.KeyDedup, s.Service, ev.EventID)).Err()
		return fmt.Errorf("send mail for %s: %w", ev.EventID, err)
	}
	return nil
}

func (s *Service) compose(ev orders.Envelope) (Mail, bool, error) {
	switch ev.EventType {
	case orders.EventOrderCancelled, orders.EventOrderExpired:
		p, err := kafkax.UnwrapPayload[orders.OrderEventPayload](ev.Payload)
		if err != nil {
			return Mail{}, false, err
		}
		verb := "cancelled"
		if ev.EventType == orders.EventOrderExpired {
			verb = "expired"
		}
		return Mail{
			To:      s.To,
			Subject: fmt.Sprintf("Order %s %s", p.OrderID, verb),
			Body: fmt.Sprintf("Order %s for %s was %s. %d line(s), total %s. Stock has been returned.",
				p.OrderID, p.CustomerName, verb, len(p.Lines), FormatCents(p.TotalCents)),
		}, true, nil

	case orders.EventItemsExpiring:
		p, err := kafkax.UnwrapPayload[orders.ItemsExpiringPayload](ev.Payload)
		if err != nil {
			return Mail{}, false, err
		}
		if len(p.Items) == 0 {
			return Mail{}, false, nil
		}
		var b strings.Builder
		for _, it := range p.Items {
			fmt.Fprintf(&b, "- %s (%d in stock) expires %s\n", it.Name, it.Stock, it.ExpiresAt.Format("2006-01-02"))
		}
		return Mail{
			To:      s.To,
			Subject: fmt.Sprintf("%d item(s) expiring %s", len(p.Items), strings.ReplaceAll(p.Window, "_", " ")),
			Body:    b.String(),
		}, true, nil
	}
	return Mail{}, false, nil
}

func FormatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
