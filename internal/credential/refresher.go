package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaygate/relaygate/internal/ingest"
	"github.com/relaygate/relaygate/internal/jobs"
	"github.com/relaygate/relaygate/internal/provider"
)

// Event names emitted to the event FIFO on tenant lifecycle changes.
const (
	EventAuthorized   = "authorized"
	EventUnauthorized = "unauthorized"
)

// tenantPayload addresses refresh jobs to one tenant.
type tenantPayload struct {
	TenantID string `json:"tenant_id"`
}

// ticketPayload carries a pushed verify ticket.
type ticketPayload struct {
	Ticket string `json:"ticket"`
}

// enrollPayload carries a tenant authorization code.
type enrollPayload struct {
	Code string `json:"code"`
}

// Refresher implements every credential job: the three watchdog sweeps, the
// per-tenant refresh jobs, the verify-ticket update and the tenant
// enrollment lifecycle. All handlers run with zero retries — a failure is
// picked up by the next watchdog tick.
type Refresher struct {
	store    *Store
	client   provider.Client
	jobs     *jobs.Client
	events   *ingest.Queue
	logger   *slog.Logger
	margin   time.Duration
	now      func() time.Time
}

// NewRefresher wires the credential job handlers.
func NewRefresher(store *Store, client provider.Client, jc *jobs.Client, events *ingest.Queue, logger *slog.Logger, margin time.Duration) *Refresher {
	if margin <= 0 {
		margin = 30 * time.Minute
	}
	return &Refresher{
		store:  store,
		client: client,
		jobs:   jc,
		events: events,
		logger: logger.With("component", "credential_refresher"),
		margin: margin,
		now:    time.Now,
	}
}

// Register binds all credential job kinds on the server.
func (r *Refresher) Register(srv *jobs.Server) {
	srv.Register(KindSweepPlatform, r.HandlePlatformSweep)
	srv.Register(KindSweepTenants, r.HandleTenantSweep)
	srv.Register(KindSweepTickets, r.HandleTicketSweep)
	srv.Register(KindTenantRefresh, r.HandleTenantRefresh)
	srv.Register(KindTicketRefresh, r.HandleTicketRefresh)
	srv.Register(KindTicketUpdate, r.HandleTicketUpdate)
	srv.Register(KindEnroll, r.HandleEnroll)
	srv.Register(KindRevoke, r.HandleRevoke)
}

// HandlePlatformSweep refreshes the platform access token synchronously
// when it is absent or expiring within the margin. Requires the pushed
// verify ticket.
func (r *Refresher) HandlePlatformSweep(ctx context.Context, _ *jobs.Descriptor) error {
	stale, err := r.store.PlatformTokenNeedsRefresh(ctx, r.margin)
	if err != nil {
		return err
	}
	if !stale {
		return nil
	}
	ticket, err := r.store.PlatformTicket(ctx)
	if err != nil {
		return err
	}
	if ticket == "" {
		return fmt.Errorf("platform token refresh: verify ticket: %w", ErrCredentialMissing)
	}
	grant, err := r.client.PlatformToken(ctx, ticket)
	if err != nil {
		return fmt.Errorf("platform token refresh: %w", err)
	}
	if err := r.store.SetPlatformToken(ctx, grant.AccessToken, secondsTTL(grant.ExpiresIn)); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "platform token refreshed", "expires_in", grant.ExpiresIn)
	return nil
}

// HandleTenantSweep enqueues one refresh job per tenant whose access token
// is stale. Fire-and-forget: the sweep never waits for the refreshes.
func (r *Refresher) HandleTenantSweep(ctx context.Context, _ *jobs.Descriptor) error {
	tenants, err := r.store.Tenants(ctx)
	if err != nil {
		return err
	}
	for _, tenantID := range tenants {
		stale, err := r.store.AccessTokenNeedsRefresh(ctx, tenantID, r.margin)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to check tenant token", "tenant_id", tenantID, "error", err)
			continue
		}
		if !stale {
			continue
		}
		if _, err := r.jobs.Enqueue(ctx, jobs.QueuePlatform, KindTenantRefresh, tenantPayload{TenantID: tenantID}); err != nil {
			r.logger.ErrorContext(ctx, "failed to enqueue token refresh", "tenant_id", tenantID, "error", err)
			continue
		}
		r.logger.InfoContext(ctx, "token refresh enqueued", "tenant_id", tenantID)
	}
	return nil
}

// HandleTicketSweep enqueues ticket refresh jobs for tenants that hold a
// valid access token, are not ticket-exempt, and whose ticket is stale.
func (r *Refresher) HandleTicketSweep(ctx context.Context, _ *jobs.Descriptor) error {
	tenants, err := r.store.Tenants(ctx)
	if err != nil {
		return err
	}
	for _, tenantID := range tenants {
		hasToken, err := r.store.HasAccessToken(ctx, tenantID)
		if err != nil || !hasToken {
			continue
		}
		exempt, err := r.store.TicketExempt(ctx, tenantID)
		if err != nil || exempt {
			continue
		}
		stale, err := r.store.TicketNeedsRefresh(ctx, tenantID, r.margin)
		if err != nil || !stale {
			continue
		}
		if _, err := r.jobs.Enqueue(ctx, jobs.QueuePlatform, KindTicketRefresh, tenantPayload{TenantID: tenantID}); err != nil {
			r.logger.ErrorContext(ctx, "failed to enqueue ticket refresh", "tenant_id", tenantID, "error", err)
			continue
		}
		r.logger.InfoContext(ctx, "ticket refresh enqueued", "tenant_id", tenantID)
	}
	return nil
}

// HandleTenantRefresh exchanges a tenant's refresh token for a new access
// token and stores a rotated refresh token when the provider returns one.
func (r *Refresher) HandleTenantRefresh(ctx context.Context, job *jobs.Descriptor) error {
	var p tenantPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode refresh payload: %w", err)
	}
	refreshToken, err := r.store.RefreshToken(ctx, p.TenantID)
	if err != nil {
		return err
	}
	if refreshToken == "" {
		return fmt.Errorf("token refresh for %s: refresh token: %w", p.TenantID, ErrCredentialMissing)
	}
	platformToken, err := r.store.PlatformToken(ctx)
	if err != nil {
		return err
	}
	grant, err := r.client.RefreshTenantToken(ctx, platformToken, p.TenantID, refreshToken)
	if err != nil {
		return fmt.Errorf("token refresh for %s: %w", p.TenantID, err)
	}
	if err := r.store.SetAccessToken(ctx, p.TenantID, grant.AccessToken, secondsTTL(grant.ExpiresIn)); err != nil {
		return err
	}
	if grant.RefreshToken != "" {
		if err := r.store.SetRefreshToken(ctx, p.TenantID, grant.RefreshToken); err != nil {
			return err
		}
	}
	r.logger.InfoContext(ctx, "tenant token refreshed", "tenant_id", p.TenantID, "expires_in", grant.ExpiresIn)
	return nil
}

// HandleTicketRefresh fetches a tenant's secondary ticket using its current
// access token.
func (r *Refresher) HandleTicketRefresh(ctx context.Context, job *jobs.Descriptor) error {
	var p tenantPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode ticket payload: %w", err)
	}
	token, err := r.store.AccessToken(ctx, p.TenantID)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("ticket refresh for %s: access token: %w", p.TenantID, ErrCredentialMissing)
	}
	grant, err := r.client.TenantTicket(ctx, token)
	if err != nil {
		return fmt.Errorf("ticket refresh for %s: %w", p.TenantID, err)
	}
	if err := r.store.SetTicket(ctx, p.TenantID, grant.Ticket, secondsTTL(grant.ExpiresIn)); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "tenant ticket refreshed", "tenant_id", p.TenantID, "expires_in", grant.ExpiresIn)
	return nil
}

// HandleTicketUpdate stores a verify ticket pushed by the platform.
func (r *Refresher) HandleTicketUpdate(ctx context.Context, job *jobs.Descriptor) error {
	var p ticketPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode ticket update payload: %w", err)
	}
	if p.Ticket == "" {
		return ErrEmptyVerifyTicket
	}
	if err := r.store.SetPlatformTicket(ctx, p.Ticket); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "verify ticket updated")
	return nil
}

// HandleEnroll exchanges a tenant authorization code for the tenant's
// token pair, stores it, and emits an authorized event.
func (r *Refresher) HandleEnroll(ctx context.Context, job *jobs.Descriptor) error {
	var p enrollPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode enroll payload: %w", err)
	}
	platformToken, err := r.store.PlatformToken(ctx)
	if err != nil {
		return err
	}
	if platformToken == "" {
		return fmt.Errorf("tenant enrollment: platform token: %w", ErrCredentialMissing)
	}
	auth, err := r.client.ExchangeAuthCode(ctx, platformToken, p.Code)
	if err != nil {
		return fmt.Errorf("tenant enrollment: %w", err)
	}
	if err := r.store.SetAccessToken(ctx, auth.TenantID, auth.Grant.AccessToken, secondsTTL(auth.Grant.ExpiresIn)); err != nil {
		return err
	}
	if err := r.store.SetRefreshToken(ctx, auth.TenantID, auth.Grant.RefreshToken); err != nil {
		return err
	}
	r.emitEvent(ctx, auth.TenantID, EventAuthorized, p.Code)
	r.logger.InfoContext(ctx, "tenant enrolled", "tenant_id", auth.TenantID)
	return nil
}

// HandleRevoke deletes all credentials of a tenant and emits an
// unauthorized event.
func (r *Refresher) HandleRevoke(ctx context.Context, job *jobs.Descriptor) error {
	var p tenantPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode revoke payload: %w", err)
	}
	if err := r.store.DeleteTenant(ctx, p.TenantID); err != nil {
		return err
	}
	r.emitEvent(ctx, p.TenantID, EventUnauthorized, EventUnauthorized)
	r.logger.InfoContext(ctx, "tenant revoked", "tenant_id", p.TenantID)
	return nil
}

func (r *Refresher) emitEvent(ctx context.Context, tenantID, event, content string) {
	if r.events == nil {
		return
	}
	msg := &ingest.InboundMessage{
		TenantID:  tenantID,
		Kind:      ingest.KindEvent,
		Event:     event,
		From:      tenantID,
		Content:   content,
		CreatedAt: r.now().Unix(),
	}
	if err := r.events.Enqueue(ctx, msg); err != nil {
		r.logger.ErrorContext(ctx, "failed to emit lifecycle event", "tenant_id", tenantID, "event", event, "error", err)
	}
}

func secondsTTL(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
