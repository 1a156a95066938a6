package credential

import (
	"context"

	"github.com/relaygate/relaygate/internal/jobs"
)

// EnqueueTicketUpdate queues a pushed verify ticket for storage.
func EnqueueTicketUpdate(ctx context.Context, jc *jobs.Client, ticket string) (string, error) {
	return jc.Enqueue(ctx, jobs.QueuePlatform, KindTicketUpdate, ticketPayload{Ticket: ticket})
}

// EnqueueEnroll queues a tenant enrollment for an authorization code.
func EnqueueEnroll(ctx context.Context, jc *jobs.Client, code string) (string, error) {
	return jc.Enqueue(ctx, jobs.QueuePlatform, KindEnroll, enrollPayload{Code: code})
}

// EnqueueRevoke queues removal of a tenant's credentials.
func EnqueueRevoke(ctx context.Context, jc *jobs.Client, tenantID string) (string, error) {
	return jc.Enqueue(ctx, jobs.QueuePlatform, KindRevoke, tenantPayload{TenantID: tenantID})
}
