// Package ingest holds the two FIFOs that decouple inbound message/event
// ingestion from processing, and the pumps that drain them. The ingestion
// layer (signature checking, decryption) lives upstream; this package only
// sees decoded messages.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	messageQueueKey = "queue:message"
	eventQueueKey   = "queue:event"
)

// KindEvent marks an InboundMessage carrying an event rather than user
// content.
const KindEvent = "event"

// EventDeliveryOutcome is the event kind reporting the final outcome of an
// asynchronously confirmed delivery.
const EventDeliveryOutcome = "delivery-outcome"

// Delivery outcome values carried by EventDeliveryOutcome events.
const (
	OutcomeSuccess      = "success"
	OutcomeUserBlocked  = "user-blocked"
	OutcomeSystemFailed = "system-failed"
)

// InboundMessage is one decoded message or event received from the
// platform for a tenant.
type InboundMessage struct {
	TenantID      string `json:"tenant_id"`
	Kind          string `json:"kind"`
	Event         string `json:"event,omitempty"`
	From          string `json:"from,omitempty"`
	Content       string `json:"content,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	CreatedAt     int64  `json:"created_at"`
}

// Queue is a redis-list FIFO of InboundMessages.
type Queue struct {
	rdb *redis.Client
	key string
}

// NewMessageQueue returns the FIFO for inbound user messages.
func NewMessageQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, key: messageQueueKey}
}

// NewEventQueue returns the FIFO for inbound events.
func NewEventQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, key: eventQueueKey}
}

// Enqueue pushes a message onto the FIFO.
func (q *Queue) Enqueue(ctx context.Context, msg *InboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal inbound message: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue inbound message: %w", err)
	}
	return nil
}

// Dequeue pops the oldest message, or returns (nil, nil) when the FIFO is
// empty.
func (q *Queue) Dequeue(ctx context.Context) (*InboundMessage, error) {
	raw, err := q.rdb.RPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue inbound message: %w", err)
	}
	var msg InboundMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode inbound message: %w", err)
	}
	return &msg, nil
}

// Len reports the number of queued messages.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
