package redisx

import "time"

const (
	// Idempotency for payment verification: idem:verify:{tx_hash} -> order_id
	KeyIdemVerify = "idem:verify:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "tx_hash": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
