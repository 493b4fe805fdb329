package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

const lockName = "sweeper"

type Expirer interface {
	ExpireStalePending(ctx context.Context, maxAge time.Duration) (int, error)
}

type ItemSource interface {
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]orders.Item, error)
}

type AlertSink interface {
	ItemsExpiring(ctx context.Context, window string, day time.Time, items []orders.ExpiringItem) error
}

// Locker keeps a single sweeper active across replicas.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// Sweeper expires stale pending orders and raises expiring-item alerts on a
// fixed interval. It holds no order state of its own.
type Sweeper struct {
	Orders    Expirer
	Items     ItemSource // optional
	Alerts    AlertSink  // optional
	Lock      Locker     // optional
	Interval  time.Duration
	MaxAge    time.Duration
	AlertDays int
	Log       *zap.Logger
	Now       func() time.Time
	OnExpired func(n int) // optional
}

// Run sweeps once right away, then every Interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("sweeper: interval must be positive, got %s", s.Interval)
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logger().Warn("sweep", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// RunOnce performs a single sweep. It returns nil without doing anything when
// another replica holds the lock.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	log := s.logger()
	if s.Lock != nil {
		release, ok, err := s.Lock.TryLock(ctx, lockName, s.Interval)
		if err != nil {
			return fmt.Errorf("sweeper lock: %w", err)
		}
		if !ok {
			log.Debug("sweep skipped, lock held elsewhere")
			return nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("release sweeper lock", zap.Error(err))
			}
		}()
	}

	var errs []error
	n, err := s.Orders.ExpireStalePending(ctx, s.MaxAge)
	if err != nil {
		errs = append(errs, fmt.Errorf("expire stale pending: %w", err))
	}
	if s.OnExpired != nil && n > 0 {
		s.OnExpired(n)
	}
	log.Info("sweep expired orders", zap.Int("count", n), zap.Duration("max_age", s.MaxAge))

	if s.Items != nil && s.Alerts != nil {
		if err := s.alert(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type window struct {
	name string
	from time.Time
}

// windows lists the days that raise alerts: today, and AlertDays ahead.
func (s *Sweeper) windows() []window {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	ws := []window{{name: "today", from: today}}
	if s.AlertDays > 0 {
		ws = append(ws, window{name: fmt.Sprintf("in_%d_days", s.AlertDays), from: today.AddDate(0, 0, s.AlertDays)})
	}
	return ws
}

func (s *Sweeper) alert(ctx context.Context) error {
	var errs []error
	for _, w := range s.windows() {
		items, err := s.Items.ExpiringBetween(ctx, w.from, w.from.AddDate(0, 0, 1))
		if err != nil {
			errs = append(errs, fmt.Errorf("expiring items %s: %w", w.name, err))
			continue
		}
		if len(items) == 0 {
			continue
		}
		out := make([]orders.ExpiringItem, 0, len(items))
		for _, it := range items {
			if !it.Available || it.ExpiresAt == nil {
				continue
			}
			out = append(out, orders.ExpiringItem{ItemID: it.ID, Name: it.Name, Stock: it.Stock, ExpiresAt: *it.ExpiresAt})
		}
		if len(out) == 0 {
			continue
		}
		if err := s.Alerts.ItemsExpiring(ctx, w.name, w.from, out); err != nil {
			errs = append(errs, fmt.Errorf("publish %s alert: %w", w.name, err))
			continue
		}
		s.logger().Info("expiring items alert", zap.String("window", w.name), zap.Int("items", len(out)))
	}
	return errors.Join(errs...)
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sweeper) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
