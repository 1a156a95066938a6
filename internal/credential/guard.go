package credential

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaygate/relaygate/internal/jobs"
)

// Job kinds owned by this package.
const (
	KindSweepPlatform = "credential.sweep.platform"
	KindSweepTenants  = "credential.sweep.tenants"
	KindSweepTickets  = "credential.sweep.tickets"

	KindTenantRefresh = "credential.refresh"
	KindTicketRefresh = "credential.ticket"
	KindTicketUpdate  = "credential.ticket-update"
	KindEnroll        = "credential.enroll"
	KindRevoke        = "credential.revoke"
)

// Guard is the credential watchdog. Each tick it enqueues the three sweep
// jobs onto the schedule queue; the sweeps themselves run on that queue's
// workers. Ticks may overlap a slow sweep — every check is idempotent, so
// overlapping runs are tolerated.
type Guard struct {
	jobs     *jobs.Client
	logger   *slog.Logger
	interval time.Duration
}

// NewGuard creates the watchdog with the given tick interval.
func NewGuard(jc *jobs.Client, logger *slog.Logger, interval time.Duration) *Guard {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Guard{
		jobs:     jc,
		logger:   logger.With("component", "credential_guard"),
		interval: interval,
	}
}

// Run ticks until ctx is cancelled. The first sweep fires immediately.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *Guard) tick(ctx context.Context) {
	for _, kind := range []string{KindSweepPlatform, KindSweepTenants, KindSweepTickets} {
		if _, err := g.jobs.Enqueue(ctx, jobs.QueueSchedule, kind, struct{}{}); err != nil {
			// One failed sweep must not stop the others.
			g.logger.ErrorContext(ctx, "failed to enqueue sweep", "kind", kind, "error", err)
		}
	}
}
