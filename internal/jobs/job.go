// Package jobs implements the background job system the gateway runs on:
// named queues backed by redis lists, a sorted set of deferred jobs, and a
// fixed worker pool per queue. Jobs are never retried automatically; a
// failed handler is logged and discarded, and recovery is delegated to the
// next credential-watchdog sweep or to the caller polling delivery status.
package jobs

import (
	"encoding/json"
	"errors"
	"time"
)

// Queue names consumed by the gateway's worker pools.
const (
	QueuePlatform    = "platform"
	QueueSchedule    = "schedule"
	QueueMessage     = "message"
	QueueMessageHigh = "message_high"
)

const (
	jobKeyPrefix      = "jobs:job:"
	queueKeyPrefix    = "jobs:queue:"
	scheduledSetKey   = "jobs:scheduled"
	defaultPopTimeout = time.Second
)

// ErrJobNotFound is returned when a job id has no stored descriptor,
// typically because it was deleted by cancellation.
var ErrJobNotFound = errors.New("job not found")

// Descriptor is the persisted form of one unit of background work. The
// payload is an opaque JSON document interpreted by the handler registered
// for Kind.
type Descriptor struct {
	ID        string          `json:"id"`
	Queue     string          `json:"queue"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func queueKey(queue string) string {
	return queueKeyPrefix + queue
}
