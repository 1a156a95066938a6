package ingest

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*redis.Client, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, NewMessageQueue(rdb)
}

func TestQueueFIFOOrder(t *testing.T) {
	_, q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &InboundMessage{TenantID: "t", From: "first"}))
	require.NoError(t, q.Enqueue(ctx, &InboundMessage{TenantID: "t", From: "second"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "first", msg.From)

	msg, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "second", msg.From)
}

func TestQueueDequeueEmpty(t *testing.T) {
	_, q := newTestQueue(t)
	msg, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
}
