package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{owner_id}:{idempotency_key} -> order_id ("" while in flight)
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Cache status order: order_status:{order_id} -> statusRecord JSON
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLIdemClaim   = 30 * time.Second
	TTLStatusCache = 5 * time.Minute
)
