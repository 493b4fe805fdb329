package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// ViewCache keeps rendered order views for the read path. The database stays
// the source of truth; every mutation drops the entry.
type ViewCache struct {
	R redis.Cmdable
}

func (c ViewCache) Get(ctx context.Context, orderID string) (orders.View, bool, error) {
	s, err := c.R.Get(ctx, fmt.Sprintf(KeyOrderView, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return orders.View{}, false, nil
	}
	if err != nil {
		return orders.View{}, false, err
	}
	var v orders.View
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return orders.View{}, false, err
	}
	return v, true, nil
}

func (c ViewCache) Put(ctx context.Context, v orders.View) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, fmt.Sprintf(KeyOrderView, v.ID), b, TTLViewCache).Err()
}

func (c ViewCache) Drop(ctx context.Context, orderID string) error {
	return c.R.Del(ctx, fmt.Sprintf(KeyOrderView, orderID)).Err()
}

// OrderChanged implements orders.Events so every committed change, including
// sweeper expiries, evicts the cached view.
func (c ViewCache) OrderChanged(ctx context.Context, _ string, o orders.Order) {
	_ = c.Drop(ctx, o.ID)
}
