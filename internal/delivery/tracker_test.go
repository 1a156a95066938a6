package delivery

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Tracker) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb, NewTracker(rdb)
}

func TestTrackerCreateAndInfo(t *testing.T) {
	_, _, tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Create(ctx, "rec1", []string{"a", "b", "c"}, 1700000000))

	info, err := tracker.Info(ctx, "rec1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.EqualValues(t, 3, info.Total)
	assert.EqualValues(t, 3, info.Pending)
	assert.EqualValues(t, 1700000000, info.Time)
	assert.Equal(t, StatePending, info.State())
}

func TestTrackerInfoUnknownRecord(t *testing.T) {
	_, _, tracker := newTestTracker(t)
	info, err := tracker.Info(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestTrackerTransitionsKeepSetsDisjoint(t *testing.T) {
	_, _, tracker := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tracker.Create(ctx, "rec1", []string{"a", "b", "c", "d"}, 0))

	for _, r := range []string{"a", "b", "c"} {
		require.NoError(t, tracker.Sent(ctx, "rec1", r))
	}
	require.NoError(t, tracker.Success(ctx, "rec1", "a"))
	require.NoError(t, tracker.UserBlock(ctx, "rec1", "b"))
	require.NoError(t, tracker.SendError(ctx, "rec1", "c"))

	info, err := tracker.Info(ctx, "rec1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.Pending)
	assert.EqualValues(t, 0, info.Sent)
	assert.EqualValues(t, 1, info.Success)
	assert.EqualValues(t, 1, info.UserBlock)
	assert.EqualValues(t, 1, info.SendError)

	// Every recipient is in exactly one set.
	sum := info.Pending + info.Sent + info.Success + info.UserBlock + info.SystemFailed + info.SendError
	assert.Equal(t, info.Total, sum)
}

func TestStateDerivation(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"nothing sent yet", Info{Total: 3, Pending: 3}, StatePending},
		{"partially processed", Info{Total: 3, Pending: 1, Success: 2}, StateProcessing},
		{"in flight counts as processing", Info{Total: 3, Pending: 0, Sent: 1, Success: 2}, StateProcessing},
		{"all resolved", Info{Total: 3, Success: 2, SendError: 1}, StateFinished},
		{"empty record", Info{Total: 0}, StateFinished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.State())
		})
	}
}

func TestCorrelationIsSingleUse(t *testing.T) {
	_, _, tracker := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tracker.Create(ctx, "rec1", []string{"a"}, 0))
	require.NoError(t, tracker.SetCorrelation(ctx, "corr-1", "rec1"))

	id, err := tracker.ResolveCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "rec1", id)

	id, err = tracker.ResolveCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	assert.Empty(t, id, "second resolution must find nothing")
}

func TestCorrelationForCleanedRecord(t *testing.T) {
	_, _, tracker := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tracker.Create(ctx, "rec1", []string{"a"}, 0))
	require.NoError(t, tracker.SetCorrelation(ctx, "corr-1", "rec1"))
	require.NoError(t, tracker.Cleanup(ctx, "rec1"))

	id, err := tracker.ResolveCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestJobIDPool(t *testing.T) {
	_, _, tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.AddJobID(ctx, "rec1", "job-1"))
	require.NoError(t, tracker.AddJobID(ctx, "rec1", "job-2"))

	popped := map[string]bool{}
	for {
		id, err := tracker.PopJobID(ctx, "rec1")
		require.NoError(t, err)
		if id == "" {
			break
		}
		popped[id] = true
	}
	assert.Equal(t, map[string]bool{"job-1": true, "job-2": true}, popped)
}

func TestCleanupLeavesNoKeys(t *testing.T) {
	mr, _, tracker := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Create(ctx, "rec1", []string{"a", "b"}, 0))
	require.NoError(t, tracker.Sent(ctx, "rec1", "a"))
	require.NoError(t, tracker.Success(ctx, "rec1", "a"))
	require.NoError(t, tracker.AddJobID(ctx, "rec1", "job-1"))
	require.NoError(t, tracker.SetCleanupJobID(ctx, "rec1", "cleaner-1"))

	require.NoError(t, tracker.Cleanup(ctx, "rec1"))
	assert.Empty(t, mr.Keys())

	info, err := tracker.Info(ctx, "rec1")
	require.NoError(t, err)
	assert.Nil(t, info)
}
