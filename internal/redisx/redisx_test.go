package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, Ping(context.Background(), rdb))
	return mr, rdb
}

func TestStatusCache(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	c := NewStatusCache(rdb)

	v, err := c.GetStatus(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, c.SetStatus(ctx, orders.StatusView{
		OrderID: "o1", OwnerID: "u1", Status: orders.StatusProcessing, PaymentStatus: orders.PaymentCompleted,
	}))
	assert.Equal(t, TTLStatusCache, mr.TTL("order_status:o1"))

	v, err = c.GetStatus(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "u1", v.OwnerID)
	assert.Equal(t, orders.StatusProcessing, v.Status)
	assert.Equal(t, orders.PaymentCompleted, v.PaymentStatus)

	mr.FastForward(TTLStatusCache + time.Second)
	v, err = c.GetStatus(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStatusCache_CorruptEntry(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set("order_status:o1", "{not json"))

	_, err := NewStatusCache(rdb).GetStatus(context.Background(), "o1")
	require.Error(t, err)
}

func TestIdempotency(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	idem := NewIdempotency(rdb)

	id, claimed, err := idem.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Empty(t, id)

	_, _, err = idem.Claim(ctx, "u1", "k1")
	require.ErrorIs(t, err, ErrRequestInFlight)

	// keys are per owner
	_, claimed, err = idem.Claim(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, idem.Complete(ctx, "u1", "k1", "order-1"))
	assert.Equal(t, TTLIdempotency, mr.TTL("idem:order:create:u1:k1"))

	id, claimed, err = idem.Claim(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-1", id)

	require.NoError(t, idem.Release(ctx, "u2", "k1"))
	_, claimed, err = idem.Claim(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.True(t, claimed)
}
