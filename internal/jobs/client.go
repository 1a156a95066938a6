package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client enqueues, schedules, deletes and requeues jobs. It is safe for
// concurrent use.
type Client struct {
	rdb *redis.Client
	now func() time.Time
}

// NewClient creates a job client on the shared redis connection.
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, now: time.Now}
}

// Enqueue stores the job and pushes it onto the ready list of the given
// queue. It returns the job id.
func (c *Client) Enqueue(ctx context.Context, queue, kind string, payload any) (string, error) {
	id, err := c.store(ctx, queue, kind, payload)
	if err != nil {
		return "", err
	}
	if err := c.rdb.LPush(ctx, queueKey(queue), id).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}
	return id, nil
}

// Schedule stores the job and registers it to become ready after delay.
// The returned id can later be passed to Delete to prevent execution, or to
// Requeue to run it immediately.
func (c *Client) Schedule(ctx context.Context, queue, kind string, payload any, delay time.Duration) (string, error) {
	id, err := c.store(ctx, queue, kind, payload)
	if err != nil {
		return "", err
	}
	due := c.now().Add(delay)
	err = c.rdb.ZAdd(ctx, scheduledSetKey, redis.Z{
		Score:  float64(due.Unix()),
		Member: id,
	}).Err()
	if err != nil {
		return "", fmt.Errorf("failed to schedule job %s: %w", id, err)
	}
	return id, nil
}

// Delete removes the job so it will never run. A worker that later pops the
// id finds no descriptor and skips it, so deleting is effective for both
// ready and scheduled jobs that have not started executing.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.rdb.ZRem(ctx, scheduledSetKey, id).Err(); err != nil {
		return fmt.Errorf("failed to drop job %s from schedule: %w", id, err)
	}
	if err := c.rdb.Del(ctx, jobKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// Requeue moves a scheduled job to its ready list immediately. Used to
// fast-forward a record's cleanup job on cancellation so cleanup always runs
// through the same path as natural expiry.
func (c *Client) Requeue(ctx context.Context, id string) error {
	raw, err := c.rdb.Get(ctx, jobKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", id, err)
	}
	var desc Descriptor
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	if err := c.rdb.ZRem(ctx, scheduledSetKey, id).Err(); err != nil {
		return fmt.Errorf("failed to drop job %s from schedule: %w", id, err)
	}
	if err := c.rdb.LPush(ctx, queueKey(desc.Queue), id).Err(); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	return nil
}

func (c *Client) store(ctx context.Context, queue, kind string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload for %s: %w", kind, err)
	}
	desc := Descriptor{
		ID:        uuid.NewString(),
		Queue:     queue,
		Kind:      kind,
		Payload:   data,
		CreatedAt: c.now().UTC(),
	}
	raw, err := json.Marshal(&desc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job descriptor: %w", err)
	}
	if err := c.rdb.Set(ctx, jobKey(desc.ID), raw, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store job %s: %w", desc.ID, err)
	}
	return desc.ID, nil
}
