package redisconn

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// New creates a redis client and verifies connectivity. The gateway keeps
// credentials, tracking records, job queues and the inbound FIFOs in the
// same logical database.
func New(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
