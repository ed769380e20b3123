package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
)

// StatusCache implements orders.StatusCache on Redis.
type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache, now: time.Now}
}

type statusRecord struct {
	OrderID       string    `json:"order_id"`
	OwnerID       string    `json:"owner_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GetStatus returns nil, nil on a cache miss.
func (c *StatusCache) GetStatus(ctx context.Context, orderID string) (*orders.StatusView, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec statusRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode cached status: %w", err)
	}
	return &orders.StatusView{
		OrderID:       rec.OrderID,
		OwnerID:       rec.OwnerID,
		Status:        orders.Status(rec.Status),
		PaymentStatus: orders.PaymentStatus(rec.PaymentStatus),
	}, nil
}

func (c *StatusCache) SetStatus(ctx context.Context, v orders.StatusView) error {
	b, err := json.Marshal(statusRecord{
		OrderID:       v.OrderID,
		OwnerID:       v.OwnerID,
		Status:        string(v.Status),
		PaymentStatus: string(v.PaymentStatus),
		UpdatedAt:     c.now().UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, v.OrderID), b, c.ttl).Err()
}
