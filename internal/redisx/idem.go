package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idemPending = "pending"

var ErrInFlight = errors.New("request with this idempotency key is still in flight")

// Idempotency records POST /orders results by client key. A claim lives for
// Claim (TTLIdemClaim when zero); only Finish keeps the key for
// TTLIdempotency.
type Idempotency struct {
	R     redis.Cmdable
	Claim time.Duration
}

// Begin claims key. It returns the order id of an earlier completed request,
// ErrInFlight if another request holds the key, or ("", nil) when the caller
// now owns the key and must call Finish or Abandon.
func (i Idempotency) Begin(ctx context.Context, key string) (string, error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, key)
	for try := 0; try < 2; try++ {
		ok, err := i.R.SetNX(ctx, k, idemPending, i.claimTTL()).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return "", nil
		}
		v, err := i.R.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", err
		}
		if v == idemPending {
			return "", ErrInFlight
		}
		return v, nil
	}
	return "", ErrInFlight
}

func (i Idempotency) claimTTL() time.Duration {
	if i.Claim > 0 {
		return i.Claim
	}
	return TTLIdemClaim
}

func (i Idempotency) Finish(ctx context.Context, key, orderID string) error {
	return i.R.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderID, TTLIdempotency).Err()
}

// Abandon releases a claim after a failed create so the client may retry.
func (i Idempotency) Abandon(ctx context.Context, key string) error {
	return i.R.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Err()
}
