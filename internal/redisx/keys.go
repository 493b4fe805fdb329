package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{key} -> order_id | "pending"
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cached order view: order_view:{order_id} -> JSON
	KeyOrderView = "order_view:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Sweeper leadership: lock:{name} -> token
	KeyLock = "lock:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLIdemClaim   = 30 * time.Second
	TTLViewCache   = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
