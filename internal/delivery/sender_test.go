package delivery

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

	"github.com/relaygate/relaygate/internal/archive"
	"github.com/relaygate/relaygate/internal/credential"
	"github.com/relaygate/relaygate/internal/jobs"
	"github.com/relaygate/relaygate/internal/provider"
)

type archiveRecorder struct {
	records []archive.Record
}

func (a *archiveRecorder) Save(_ context.Context, record archive.Record) error {
	a.records = append(a.records, record)
	return nil
}

type senderFixture struct {
	rdb     *redis.Client
	tracker *Tracker
	creds   *credential.Store
	client  *provider.MockClient
	jobs    *jobs.Client
	archive *archiveRecorder
	sender  *Sender
}

func newSenderFixture(t *testing.T) *senderFixture {
	t.Helper()
	_, rdb, tracker := newTestTracker(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	creds := credential.NewStore(rdb)
	client := provider.NewMockClient(logger, 7200)
	jc := jobs.NewClient(rdb)
	rec := &archiveRecorder{}
	return &senderFixture{
		rdb:     rdb,
		tracker: tracker,
		creds:   creds,
		client:  client,
		jobs:    jc,
		archive: rec,
		sender:  NewSender(tracker, creds, client, jc, rec, logger),
	}
}

func sendJob(t *testing.T, trackingID, tenantID string, msg provider.OutboundMessage) *jobs.Descriptor {
	t.Helper()
	payload, err := json.Marshal(sendPayload{TrackingID: trackingID, TenantID: tenantID, Message: msg})
	require.NoError(t, err)
	return &jobs.Descriptor{Kind: KindSend, Payload: payload}
}

func recordJob(t *testing.T, trackingID string) *jobs.Descriptor {
	t.Helper()
	payload, err := json.Marshal(recordPayload{TrackingID: trackingID})
	require.NoError(t, err)
	return &jobs.Descriptor{Payload: payload}
}

func TestHandleSendSuccess(t *testing.T) {
	f := newSenderFixture(t)
	ctx := context.Background()
	require.NoError(t, f.creds.SetAccessToken(ctx, "tenant-a", "token", time.Hour))
	require.NoError(t, f.tracker.Create(ctx, "rec1", []string{"u1"}, 0))

	msg := provider.OutboundMessage{Kind: provider.KindText, Recipient: "u1", Content: "hello"}
	require.NoError(t, f.sender.HandleSend(ctx, sendJob(t, "rec1", "tenant-a", msg)))

	info, err := f.tracker.Info(ctx, "rec1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.Success)
	assert.Equal(t, StateFinished, info.State())
	require.Len(t, f.client.Sends(), 1)
	assert.Equal(t, "hello", f.client.Sends()[0].Content)
}

func TestHandleSendWithoutToken(t *testing.T) {
	f := newSenderFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tracker.Create(ctx, "rec1", []string{"u1"}, 0))

	msg := provider.OutboundMessage{Kind: provider.KindText, Recipient: "u1"}
	err := f.sender.HandleSend(ctx, sendJob(t, "rec1", "tenant-a", msg))
	assert.ErrorIs(t, err, credential.ErrCredentialMissing)

	info, infoErr := f.tracker.Info(ctx, "rec1")
	require.NoError(t, infoErr)
	assert.EqualValues(t, 1, info.SendError)
	assert.Empty(t, f.client.Sends())
}

func TestHandleSendProviderRejection(t *testing.T) {
	f := newSenderFixture(t)
	ctx := context.Background()
	require.NoError(t, f.creds.SetAccessToken(ctx, "tenant-a", "token", time.Hour))
	require.NoError(t, f.tracker.Create(ctx, "rec1", []string{"u1"}, 0))
	f.client.FailCode = 40001
	f.client.FailMsg = "invalid credential"

	msg := provider.OutboundMessage{Kind: provider.KindText, Recipient: "u1"}
	err := f.sender.HandleSend(ctx, sendJob(t, "rec1", "tenant-a", msg))

	var provErr *provider.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 40001, provErr.Code)

	info, infoErr := f.tracker.Info(ctx, "rec1")
	require.NoError(t, infoErr)
	assert.EqualValues(t, 1, info.SendError)
}

func TestHandleSendTemplateAwaitsReceipt(t *testing.T) {
	f := newSenderFixture(t)
	ctx := context.Background()
	require.NoError(t, f.creds.SetAccessToken(ctx, "tenant-a", "token", time.Hour))
	require.NoError(t, f.tracker.Create(ctx, "rec1", []string{"u1"}, 0))

	msg := provider.OutboundMessage{Kind: provider.KindTemplate, Recipient: "u1", TemplateID: "tpl"}
	require.NoError(t, f.sender.HandleSend(ctx, sendJob(t, "rec1", "tenant-a", msg)))

	// The recipient stays in sent until the receipt arrives.
	info, err := f.tracker.Info(ctx, "rec1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.Sent)
	assert.EqualValues(t, 0, info.Success)
	assert.Equal(t, StateProcessing, info.State())
}

func TestHandleSendUntracked(t *testing.T) {
	f := newSenderFixture(t)
	ctx := context.Background()
	require.NoError(t, f.creds.SetAccessToken(ctx, "tenant-a", "token", time.Hour))

	msg := provider.OutboundMessage{Kind: provider.KindText, Recipient: "u1"}
	require.NoError(t, f.sender.HandleSend(ctx, sendJob(t, "", "tenant-a", msg)))
	assert.Len(t, f.client.Sends(), 1)
}

func TestResolveOutcome(t *testing.T) {
	f := newSenderFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tracker.Create(ctx, "rec1", []string{"u1"}, 0))
	require.NoError(t, f.tracker.Sent(ctx, "rec1", "u1"))
	require.NoError(t, f.tracker.SetCorrelation(ctx, "corr-1", "rec1"))

	require.NoError(t, f.sender.ResolveOutcome(ctx, "corr-1", "u1", "user-blocked"))

	info, err := f.tracker.Info(ctx, "rec1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.UserBlock)
	assert.Equal(t, StateFinished, info.State())

	// The correlation was consumed; a duplicate receipt is a no-op.
	require.NoError(t, f.sender.ResolveOutcome(ctx, "corr-1", "u1", "success"))
	info, err = f.tracker.Info(ctx, "rec1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, info.Success)
}

func TestResolveOutcomeUnknownOutcome(t *testing.T) {
	f := newSenderFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tracker.Create(ctx, "rec1", []string{"u1"}, 0))
	require.NoError(t, f.tracker.SetCorrelation(ctx, "corr-1", "rec1"))

	err := f.sender.ResolveOutcome(ctx, "corr-1", "u1", "mystery")
	assert.Error(t, err)
}

func TestHandleCancelDeletesScheduledJobs(t *testing.T) {
	f := newSenderFixture(t)
	ctx := context.Background()

	jobID, err := f.jobs.Schedule(ctx, jobs.QueueMessage, KindSend, struct{}{}, time.Hour)
	require.NoError(t, err)
	cleanerID, err := f.jobs.Schedule(ctx, jobs.QueuePlatform, KindCleanup, struct{}{}, 7*time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.tracker.Create(ctx, "rec1", []string{"u1"}, time.Now().Add(time.Hour).Unix()))
	require.NoError(t, f.tracker.AddJobID(ctx, "rec1", jobID))
	require.NoError(t, f.tracker.SetCleanupJobID(ctx, "rec1", cleanerID))

	require.NoError(t, f.sender.HandleCancel(ctx, recordJob(t, "rec1")))

	// The delivery job is gone.
	exists, err := f.rdb.Exists(ctx, "jobs:job:"+jobID).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	// The cleanup job moved to its ready list.
	ready, err := f.rdb.LRange(ctx, "jobs:queue:platform", 0, -1).Result()
	require.NoError(t, err)
	assert.Contains(t, ready, cleanerID)
}

func TestHandleCleanupArchivesAndErases(t *testing.T) {
	f := newSenderFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tracker.Create(ctx, "rec1", []string{"u1", "u2"}, 1700000000))
	require.NoError(t, f.tracker.Sent(ctx, "rec1", "u1"))
	require.NoError(t, f.tracker.Success(ctx, "rec1", "u1"))

	require.NoError(t, f.sender.HandleCleanup(ctx, recordJob(t, "rec1")))

	require.Len(t, f.archive.records, 1)
	rec := f.archive.records[0]
	assert.Equal(t, "rec1", rec.TrackingID)
	assert.EqualValues(t, 2, rec.Total)
	assert.EqualValues(t, 1, rec.Success)
	assert.EqualValues(t, 1, rec.Pending)

	info, err := f.tracker.Info(ctx, "rec1")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestHandleCleanupUnknownRecordIsNoop(t *testing.T) {
	f := newSenderFixture(t)
	require.NoError(t, f.sender.HandleCleanup(context.Background(), recordJob(t, "missing")))
	assert.Empty(t, f.archive.records)
}
