package credential

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/ingest"
	"github.com/relaygate/relaygate/internal/jobs"
	"github.com/relaygate/relaygate/internal/provider"
)

type refresherFixture struct {
	rdb       *redis.Client
	store     *Store
	client    *provider.MockClient
	jobs      *jobs.Client
	events    *ingest.Queue
	refresher *Refresher
}

func newRefresherFixture(t *testing.T) *refresherFixture {
	t.Helper()
	_, rdb, store := newTestStore(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	client := provider.NewMockClient(logger, 7200)
	jc := jobs.NewClient(rdb)
	events := ingest.NewEventQueue(rdb)
	return &refresherFixture{
		rdb:       rdb,
		store:     store,
		client:    client,
		jobs:      jc,
		events:    events,
		refresher: NewRefresher(store, client, jc, events, logger, 30*time.Minute),
	}
}

// platformQueue reads the descriptors currently on the platform ready list.
func (f *refresherFixture) platformQueue(t *testing.T) []jobs.Descriptor {
	t.Helper()
	ctx := context.Background()
	ids, err := f.rdb.LRange(ctx, "jobs:queue:platform", 0, -1).Result()
	require.NoError(t, err)
	descs := make([]jobs.Descriptor, 0, len(ids))
	for _, id := range ids {
		raw, err := f.rdb.Get(ctx, "jobs:job:"+id).Result()
		require.NoError(t, err)
		var desc jobs.Descriptor
		require.NoError(t, json.Unmarshal([]byte(raw), &desc))
		descs = append(descs, desc)
	}
	return descs
}

func TestHandlePlatformSweepRefreshesStaleToken(t *testing.T) {
	f := newRefresherFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPlatformTicket(ctx, "ticket"))

	require.NoError(t, f.refresher.HandlePlatformSweep(ctx, nil))

	token, err := f.store.PlatformToken(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	stale, err := f.store.PlatformTokenNeedsRefresh(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestHandlePlatformSweepRequiresTicket(t *testing.T) {
	f := newRefresherFixture(t)
	err := f.refresher.HandlePlatformSweep(context.Background(), nil)
	assert.ErrorIs(t, err, ErrCredentialMissing)
}

func TestHandlePlatformSweepFreshTokenIsNoop(t *testing.T) {
	f := newRefresherFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPlatformToken(ctx, "fresh", 2*time.Hour))

	// No ticket stored: a refresh attempt would fail, a noop does not.
	require.NoError(t, f.refresher.HandlePlatformSweep(ctx, nil))

	token, err := f.store.PlatformToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestHandleTenantSweepEnqueuesStaleTenantsOnly(t *testing.T) {
	f := newRefresherFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetRefreshToken(ctx, "stale-tenant", "r1"))
	require.NoError(t, f.store.SetRefreshToken(ctx, "fresh-tenant", "r2"))
	require.NoError(t, f.store.SetAccessToken(ctx, "fresh-tenant", "tok", 2*time.Hour))

	require.NoError(t, f.refresher.HandleTenantSweep(ctx, nil))

	descs := f.platformQueue(t)
	require.Len(t, descs, 1)
	assert.Equal(t, KindTenantRefresh, descs[0].Kind)

	var p tenantPayload
	require.NoError(t, json.Unmarshal(descs[0].Payload, &p))
	assert.Equal(t, "stale-tenant", p.TenantID)
}

func TestHandleTicketSweep(t *testing.T) {
	f := newRefresherFixture(t)
	ctx := context.Background()

	// Needs a ticket: valid token, not exempt, no ticket.
	require.NoError(t, f.store.SetRefreshToken(ctx, "wants-ticket", "r1"))
	require.NoError(t, f.store.SetAccessToken(ctx, "wants-ticket", "t1", 2*time.Hour))

	// Exempt tenants are skipped even with a valid token.
	require.NoError(t, f.store.SetRefreshToken(ctx, "exempt", "r2"))
	require.NoError(t, f.store.SetAccessToken(ctx, "exempt", "t2", 2*time.Hour))
	require.NoError(t, f.store.SetTicketExempt(ctx, "exempt"))

	// Tenants without a token are skipped.
	require.NoError(t, f.store.SetRefreshToken(ctx, "no-token", "r3"))

	require.NoError(t, f.refresher.HandleTicketSweep(ctx, nil))

	descs := f.platformQueue(t)
	require.Len(t, descs, 1)
	assert.Equal(t, KindTicketRefresh, descs[0].Kind)
}

func TestHandleTenantRefresh(t *testing.T) {
	f := newRefresherFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetRefreshToken(ctx, "tenant-a", "refresh"))

	payload, _ := json.Marshal(tenantPayload{TenantID: "tenant-a"})
	job := &jobs.Descriptor{Kind: KindTenantRefresh, Payload: payload}
	require.NoError(t, f.refresher.HandleTenantRefresh(ctx, job))

	token, err := f.store.AccessToken(ctx, "tenant-a")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestHandleTenantRefreshWithoutRefreshToken(t *testing.T) {
	f := newRefresherFixture(t)
	payload, _ := json.Marshal(tenantPayload{TenantID: "unknown"})
	job := &jobs.Descriptor{Kind: KindTenantRefresh, Payload: payload}
	err := f.refresher.HandleTenantRefresh(context.Background(), job)
	assert.ErrorIs(t, err, ErrCredentialMissing)
}

func TestHandleTicketUpdate(t *testing.T) {
	f := newRefresherFixture(t)
	ctx := context.Background()

	payload, _ := json.Marshal(ticketPayload{Ticket: "pushed-ticket"})
	job := &jobs.Descriptor{Kind: KindTicketUpdate, Payload: payload}
	require.NoError(t, f.refresher.HandleTicketUpdate(ctx, job))

	ticket, err := f.store.PlatformTicket(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pushed-ticket", ticket)
}

func TestHandleTicketUpdateRejectsEmptyTicket(t *testing.T) {
	f := newRefresherFixture(t)
	payload, _ := json.Marshal(ticketPayload{})
	job := &jobs.Descriptor{Kind: KindTicketUpdate, Payload: payload}
	err := f.refresher.HandleTicketUpdate(context.Background(), job)
	assert.ErrorIs(t, err, ErrEmptyVerifyTicket)
}

func TestHandleEnroll(t *testing.T) {
	f := newRefresherFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetPlatformToken(ctx, "platform-token", time.Hour))

	payload, _ := json.Marshal(enrollPayload{Code: "abc"})
	job := &jobs.Descriptor{Kind: KindEnroll, Payload: payload}
	require.NoError(t, f.refresher.HandleEnroll(ctx, job))

	// The mock provider derives the tenant id from the code.
	token, err := f.store.AccessToken(ctx, "tenant-abc")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	refresh, err := f.store.RefreshToken(ctx, "tenant-abc")
	require.NoError(t, err)
	assert.NotEmpty(t, refresh)

	ev, err := f.events.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, EventAuthorized, ev.Event)
	assert.Equal(t, "tenant-abc", ev.TenantID)
}

func TestHandleRevoke(t *testing.T) {
	f := newRefresherFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetAccessToken(ctx, "tenant-a", "t", time.Hour))
	require.NoError(t, f.store.SetRefreshToken(ctx, "tenant-a", "r"))

	payload, _ := json.Marshal(tenantPayload{TenantID: "tenant-a"})
	job := &jobs.Descriptor{Kind: KindRevoke, Payload: payload}
	require.NoError(t, f.refresher.HandleRevoke(ctx, job))

	tenants, err := f.store.Tenants(ctx)
	require.NoError(t, err)
	assert.Empty(t, tenants)

	ev, err := f.events.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, EventUnauthorized, ev.Event)
}

func TestGuardTickEnqueuesAllSweeps(t *testing.T) {
	f := newRefresherFixture(t)
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	guard := NewGuard(f.jobs, logger, time.Minute)

	guard.tick(ctx)

	n, err := f.rdb.LLen(ctx, "jobs:queue:schedule").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
