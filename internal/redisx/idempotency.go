package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrRequestInFlight = errors.New("a request with this idempotency key is still in progress")

// Idempotency remembers which order an Idempotency-Key produced. Keys are
// scoped per owner.
type Idempotency struct {
	rdb redis.Cmdable
}

func NewIdempotency(rdb redis.Cmdable) *Idempotency {
	return &Idempotency{rdb: rdb}
}

// Claim reserves key for a new request. It returns the order id when the key
// already completed, or ErrRequestInFlight while another request holds it.
func (i *Idempotency) Claim(ctx context.Context, ownerID, key string) (orderID string, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, ownerID, key)
	ok, err := i.rdb.SetNX(ctx, k, "", TTLIdemClaim).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}

	existing, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return i.Claim(ctx, ownerID, key)
	}
	if err != nil {
		return "", false, err
	}
	if existing == "" {
		return "", false, ErrRequestInFlight
	}
	return existing, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, ownerID, key, orderID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, ownerID, key), orderID, TTLIdempotency).Err()
}

// Release frees a claim whose request failed so the client may retry.
func (i *Idempotency) Release(ctx context.Context, ownerID, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, ownerID, key)).Err()
}
