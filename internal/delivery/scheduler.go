package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaygate/relaygate/internal/jobs"
	"github.com/relaygate/relaygate/internal/provider"
)

// Job kinds owned by this package.
const (
	KindSend    = "message.send"
	KindCancel  = "status.cancel"
	KindCleanup = "status.cleanup"
)

// sendPayload carries one rendered message through the job queue. An empty
// TrackingID means the fan-out is untracked.
type sendPayload struct {
	TrackingID string                   `json:"tracking_id,omitempty"`
	TenantID   string                   `json:"tenant_id"`
	Message    provider.OutboundMessage `json:"message"`
}

// recordPayload addresses cancel and cleanup jobs to one record.
type recordPayload struct {
	TrackingID string `json:"tracking_id"`
}

// Scheduler turns a fan-out request into delivery jobs. The tracking
// record and its cleanup job are created before any delivery job exists,
// so a record can never outlive its cleaner.
type Scheduler struct {
	tracker   *Tracker
	jobs      *jobs.Client
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time
}

// NewScheduler wires the dispatch scheduler. retention is how long a
// tracking record survives past its send time.
func NewScheduler(tracker *Tracker, jc *jobs.Client, logger *slog.Logger, retention time.Duration) *Scheduler {
	if retention <= 0 {
		retention = 6 * time.Hour
	}
	return &Scheduler{
		tracker:   tracker,
		jobs:      jc,
		logger:    logger.With("component", "delivery_scheduler"),
		retention: retention,
		now:       time.Now,
	}
}

// Submit schedules one delivery job per unique target. It returns the
// tracking id ("" for untracked requests) and the effective send time.
func (s *Scheduler) Submit(ctx context.Context, req *Request) (string, int64, error) {
	now := s.now()
	sendTime := req.Time
	immediate := sendTime <= now.Unix()
	if immediate {
		sendTime = now.Unix()
	}
	delay := time.Unix(sendTime, 0).Sub(now)

	targets := req.UniqueTargets()

	trackingID := ""
	if req.Track {
		trackingID = uuid.NewString()
		recipients := make([]string, len(targets))
		for i, t := range targets {
			recipients[i] = t.RecipientID
		}
		if err := s.tracker.Create(ctx, trackingID, recipients, sendTime); err != nil {
			return "", 0, err
		}
		cleanerID, err := s.jobs.Schedule(ctx, jobs.QueuePlatform, KindCleanup,
			recordPayload{TrackingID: trackingID}, delay+s.retention)
		if err != nil {
			return "", 0, fmt.Errorf("failed to schedule cleanup: %w", err)
		}
		if err := s.tracker.SetCleanupJobID(ctx, trackingID, cleanerID); err != nil {
			return "", 0, err
		}
	}

	queue := jobs.QueueMessage
	if req.HighPriority {
		queue = jobs.QueueMessageHigh
	}

	for _, target := range targets {
		payload := sendPayload{
			TrackingID: trackingID,
			TenantID:   req.TenantID,
			Message:    req.Render(target),
		}
		var (
			jobID string
			err   error
		)
		if immediate {
			jobID, err = s.jobs.Enqueue(ctx, queue, KindSend, payload)
		} else {
			jobID, err = s.jobs.Schedule(ctx, queue, KindSend, payload, delay)
		}
		if err != nil {
			return "", 0, fmt.Errorf("failed to schedule delivery for %s: %w", target.RecipientID, err)
		}
		if trackingID != "" {
			if err := s.tracker.AddJobID(ctx, trackingID, jobID); err != nil {
				return "", 0, err
			}
		}
	}

	s.logger.InfoContext(ctx, "fan-out scheduled",
		"tracking_id", trackingID, "tenant_id", req.TenantID,
		"targets", len(targets), "queue", queue, "send_time", sendTime)
	return trackingID, sendTime, nil
}

// Cancel requests cancellation of a scheduled fan-out. The actual deletion
// runs as a platform job; Cancel only validates and enqueues it. Returns
// ErrNotFound for unknown records and ErrAlreadyProcessed once the send
// time has passed.
func (s *Scheduler) Cancel(ctx context.Context, trackingID string) error {
	info, err := s.tracker.Info(ctx, trackingID)
	if err != nil {
		return err
	}
	if info == nil {
		return ErrNotFound
	}
	if info.Time <= s.now().Unix() {
		return ErrAlreadyProcessed
	}
	if _, err := s.jobs.Enqueue(ctx, jobs.QueuePlatform, KindCancel, recordPayload{TrackingID: trackingID}); err != nil {
		return fmt.Errorf("failed to enqueue cancellation: %w", err)
	}
	s.logger.InfoContext(ctx, "cancellation enqueued", "tracking_id", trackingID)
	return nil
}

// Status snapshots a tracking record, optionally with per-set recipient
// lists. Returns ErrNotFound for unknown records.
func (s *Scheduler) Status(ctx context.Context, trackingID string, detail bool) (*Info, map[string][]string, error) {
	info, err := s.tracker.Info(ctx, trackingID)
	if err != nil {
		return nil, nil, err
	}
	if info == nil {
		return nil, nil, ErrNotFound
	}
	if !detail {
		return info, nil, nil
	}
	members := make(map[string][]string, 6)
	for _, set := range Sets() {
		list, err := s.tracker.Members(ctx, trackingID, set)
		if err != nil {
			return nil, nil, err
		}
		members[set] = list
	}
	return info, members, nil
}
