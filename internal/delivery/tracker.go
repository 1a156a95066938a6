package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome sets of a tracking record. A recipient is in exactly one set at
// any time; every transition is a single SMOVE.
const (
	setPending      = "pending"
	setSent         = "sent"
	setSuccess      = "success"
	setUserBlock    = "user-block"
	setSystemFailed = "system-failed"
	setSendError    = "send-error"
)

const (
	statusKeyPrefix      = "status:"
	jobSetKeyPrefix      = "status:jobs:"
	cleanerKeyPrefix     = "status:cleaner:"
	correlationKeyPrefix = "status:correlation:"
)

// Derived record states reported by Info.State.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateFinished   = "finished"
)

// Info is a snapshot of one tracking record.
type Info struct {
	ID    string `json:"id"`
	Total int64  `json:"total"`
	Time  int64  `json:"time"`

	Pending      int64 `json:"pending"`
	Sent         int64 `json:"sent"`
	Success      int64 `json:"success"`
	UserBlock    int64 `json:"user_block"`
	SystemFailed int64 `json:"system_failed"`
	SendError    int64 `json:"send_error"`
}

// State derives the record state from the counts. Finished means no
// recipient is pending or in flight; processing means at least one
// recipient has left pending.
func (i *Info) State() string {
	switch {
	case i.Pending == 0 && i.Sent == 0:
		return StateFinished
	case i.Pending < i.Total:
		return StateProcessing
	default:
		return StatePending
	}
}

// Tracker maintains per-recipient delivery state in redis. Each record
// owns six outcome sets plus a total, a send time, a set of cancellable
// job ids and a cleanup job id. Records live until their cleanup job runs.
type Tracker struct {
	rdb *redis.Client
}

// NewTracker creates a tracker on the shared redis connection.
func NewTracker(rdb *redis.Client) *Tracker {
	return &Tracker{rdb: rdb}
}

func statusKey(id, field string) string {
	return statusKeyPrefix + id + ":" + field
}

// Create initialises a record: all recipients pending, total fixed for the
// record's lifetime.
func (t *Tracker) Create(ctx context.Context, id string, recipients []string, sendTime int64) error {
	members := make([]interface{}, len(recipients))
	for i, r := range recipients {
		members[i] = r
	}
	pipe := t.rdb.TxPipeline()
	pipe.Set(ctx, statusKey(id, "total"), len(recipients), 0)
	pipe.Set(ctx, statusKey(id, "time"), sendTime, 0)
	pipe.SAdd(ctx, statusKey(id, setPending), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create tracking record %s: %w", id, err)
	}
	return nil
}

func (t *Tracker) move(ctx context.Context, id, from, to, recipient string) error {
	if err := t.rdb.SMove(ctx, statusKey(id, from), statusKey(id, to), recipient).Err(); err != nil {
		return fmt.Errorf("failed to move %s from %s to %s: %w", recipient, from, to, err)
	}
	return nil
}

// Sent moves a recipient from pending to sent when its delivery job picks
// it up.
func (t *Tracker) Sent(ctx context.Context, id, recipient string) error {
	return t.move(ctx, id, setPending, setSent, recipient)
}

// Success marks a recipient delivered.
func (t *Tracker) Success(ctx context.Context, id, recipient string) error {
	return t.move(ctx, id, setSent, setSuccess, recipient)
}

// UserBlock marks a recipient as having blocked the sender.
func (t *Tracker) UserBlock(ctx context.Context, id, recipient string) error {
	return t.move(ctx, id, setSent, setUserBlock, recipient)
}

// SystemFailed marks a recipient failed on the provider side.
func (t *Tracker) SystemFailed(ctx context.Context, id, recipient string) error {
	return t.move(ctx, id, setSent, setSystemFailed, recipient)
}

// SendError marks a recipient whose send call itself failed.
func (t *Tracker) SendError(ctx context.Context, id, recipient string) error {
	return t.move(ctx, id, setSent, setSendError, recipient)
}

// AddJobID records a scheduled delivery job so cancellation can delete it.
func (t *Tracker) AddJobID(ctx context.Context, id, jobID string) error {
	if err := t.rdb.SAdd(ctx, jobSetKeyPrefix+id, jobID).Err(); err != nil {
		return fmt.Errorf("failed to record job id for %s: %w", id, err)
	}
	return nil
}

// PopJobID removes and returns one recorded job id, or "" when none
// remain.
func (t *Tracker) PopJobID(ctx context.Context, id string) (string, error) {
	jobID, err := t.rdb.SPop(ctx, jobSetKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to pop job id for %s: %w", id, err)
	}
	return jobID, nil
}

// SetCleanupJobID records the scheduled cleanup job of a record.
func (t *Tracker) SetCleanupJobID(ctx context.Context, id, jobID string) error {
	if err := t.rdb.Set(ctx, cleanerKeyPrefix+id, jobID, 0).Err(); err != nil {
		return fmt.Errorf("failed to record cleanup job for %s: %w", id, err)
	}
	return nil
}

// CleanupJobID returns the record's cleanup job id, or "" when absent.
func (t *Tracker) CleanupJobID(ctx context.Context, id string) (string, error) {
	jobID, err := t.rdb.Get(ctx, cleanerKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cleanup job of %s: %w", id, err)
	}
	return jobID, nil
}

// SetCorrelation maps a provider correlation id to a tracking record so a
// later delivery receipt can find it.
func (t *Tracker) SetCorrelation(ctx context.Context, correlationID, id string) error {
	if err := t.rdb.Set(ctx, correlationKeyPrefix+correlationID, id, 0).Err(); err != nil {
		return fmt.Errorf("failed to map correlation %s: %w", correlationID, err)
	}
	return nil
}

// ResolveCorrelation consumes a correlation mapping. The lookup is
// single-use: the mapping is deleted atomically with the read. Returns ""
// when the mapping is unknown or its record no longer exists.
func (t *Tracker) ResolveCorrelation(ctx context.Context, correlationID string) (string, error) {
	id, err := t.rdb.GetDel(ctx, correlationKeyPrefix+correlationID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve correlation %s: %w", correlationID, err)
	}
	n, err := t.rdb.Exists(ctx, statusKey(id, "total")).Result()
	if err != nil {
		return "", fmt.Errorf("failed to check record %s: %w", id, err)
	}
	if n == 0 {
		return "", nil
	}
	return id, nil
}

// Members returns the recipients currently in one outcome set.
func (t *Tracker) Members(ctx context.Context, id, set string) ([]string, error) {
	members, err := t.rdb.SMembers(ctx, statusKey(id, set)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s members of %s: %w", set, id, err)
	}
	return members, nil
}

// Sets lists the outcome set names in reporting order.
func Sets() []string {
	return []string{setPending, setSent, setSuccess, setUserBlock, setSystemFailed, setSendError}
}

// Info snapshots a record, or returns nil when the record does not exist.
func (t *Tracker) Info(ctx context.Context, id string) (*Info, error) {
	total, err := t.rdb.Get(ctx, statusKey(id, "total")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}
	info := &Info{ID: id}
	if info.Total, err = strconv.ParseInt(total, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt total of record %s: %w", id, err)
	}
	sendTime, err := t.rdb.Get(ctx, statusKey(id, "time")).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read send time of %s: %w", id, err)
	}
	if sendTime != "" {
		if info.Time, err = strconv.ParseInt(sendTime, 10, 64); err != nil {
			return nil, fmt.Errorf("corrupt send time of record %s: %w", id, err)
		}
	}

	pipe := t.rdb.Pipeline()
	counts := map[string]*redis.IntCmd{}
	for _, set := range Sets() {
		counts[set] = pipe.SCard(ctx, statusKey(id, set))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to count record %s: %w", id, err)
	}
	info.Pending = counts[setPending].Val()
	info.Sent = counts[setSent].Val()
	info.Success = counts[setSuccess].Val()
	info.UserBlock = counts[setUserBlock].Val()
	info.SystemFailed = counts[setSystemFailed].Val()
	info.SendError = counts[setSendError].Val()
	return info, nil
}

// Cleanup erases every key of a record. After cleanup the tracking id is
// unknown.
func (t *Tracker) Cleanup(ctx context.Context, id string) error {
	keys := []string{
		statusKey(id, "total"),
		statusKey(id, "time"),
		jobSetKeyPrefix + id,
		cleanerKeyPrefix + id,
	}
	for _, set := range Sets() {
		keys = append(keys, statusKey(id, set))
	}
	if err := t.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clean record %s: %w", id, err)
	}
	return nil
}

// SendTime returns a record's send time as a time.Time.
func (i *Info) SendTime() time.Time {
	return time.Unix(i.Time, 0)
}
