package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relaygate/relaygate/internal/archive"
	"github.com/relaygate/relaygate/internal/credential"
	"github.com/relaygate/relaygate/internal/jobs"
	"github.com/relaygate/relaygate/internal/provider"
)

// Sender implements the delivery job handlers: the per-recipient send, the
// cancellation sweep and the record cleanup. It also resolves asynchronous
// delivery receipts arriving on the event FIFO.
type Sender struct {
	tracker *Tracker
	creds   *credential.Store
	client  provider.Client
	jobs    *jobs.Client
	archive archive.Repository
	logger  *slog.Logger
}

// NewSender wires the delivery job handlers. archive may be nil when
// outcome archiving is disabled.
func NewSender(tracker *Tracker, creds *credential.Store, client provider.Client, jc *jobs.Client, repo archive.Repository, logger *slog.Logger) *Sender {
	return &Sender{
		tracker: tracker,
		creds:   creds,
		client:  client,
		jobs:    jc,
		archive: repo,
		logger:  logger.With("component", "delivery_sender"),
	}
}

// Register binds the delivery job kinds on the server.
func (s *Sender) Register(srv *jobs.Server) {
	srv.Register(KindSend, s.HandleSend)
	srv.Register(KindCancel, s.HandleCancel)
	srv.Register(KindCleanup, s.HandleCleanup)
}

// HandleSend delivers one rendered message to one recipient. Tracked
// recipients move pending to sent before the call; afterwards they move to
// success, to send-error, or stay in sent awaiting an asynchronous receipt.
// No retry on failure: the outcome set is the record of what happened.
func (s *Sender) HandleSend(ctx context.Context, job *jobs.Descriptor) error {
	var p sendPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode send payload: %w", err)
	}
	tracked := p.TrackingID != ""
	recipient := p.Message.Recipient

	if tracked {
		if err := s.tracker.Sent(ctx, p.TrackingID, recipient); err != nil {
			return err
		}
	}

	token, err := s.creds.AccessToken(ctx, p.TenantID)
	if err != nil {
		return err
	}
	if token == "" {
		s.recordSendError(ctx, tracked, p.TrackingID, recipient)
		sendsCounter.WithLabelValues(p.Message.Kind, "send-error").Inc()
		return fmt.Errorf("delivery to %s: access token: %w", recipient, credential.ErrCredentialMissing)
	}

	receipt, err := s.client.SendOne(ctx, token, p.Message)
	if err != nil {
		s.recordSendError(ctx, tracked, p.TrackingID, recipient)
		sendsCounter.WithLabelValues(p.Message.Kind, "send-error").Inc()
		var provErr *provider.Error
		if errors.As(err, &provErr) {
			return fmt.Errorf("delivery to %s: provider code %d: %w", recipient, provErr.Code, err)
		}
		return fmt.Errorf("delivery to %s: %w", recipient, err)
	}

	if receipt.CorrelationID != "" {
		// Outcome arrives later as a delivery receipt; the recipient
		// stays in sent until the receipt resolves it.
		if tracked {
			if err := s.tracker.SetCorrelation(ctx, receipt.CorrelationID, p.TrackingID); err != nil {
				return err
			}
		}
		sendsCounter.WithLabelValues(p.Message.Kind, "sent").Inc()
		return nil
	}

	if tracked {
		if err := s.tracker.Success(ctx, p.TrackingID, recipient); err != nil {
			return err
		}
	}
	sendsCounter.WithLabelValues(p.Message.Kind, "success").Inc()
	return nil
}

func (s *Sender) recordSendError(ctx context.Context, tracked bool, trackingID, recipient string) {
	if !tracked {
		return
	}
	if err := s.tracker.SendError(ctx, trackingID, recipient); err != nil {
		s.logger.ErrorContext(ctx, "failed to record send error", "tracking_id", trackingID, "recipient", recipient, "error", err)
	}
}

// HandleCancel deletes every scheduled delivery job of a record, then
// requeues the cleanup job so the record is erased immediately instead of
// at the end of its retention window.
func (s *Sender) HandleCancel(ctx context.Context, job *jobs.Descriptor) error {
	var p recordPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode cancel payload: %w", err)
	}
	deleted := 0
	for {
		jobID, err := s.tracker.PopJobID(ctx, p.TrackingID)
		if err != nil {
			return err
		}
		if jobID == "" {
			break
		}
		if err := s.jobs.Delete(ctx, jobID); err != nil {
			s.logger.ErrorContext(ctx, "failed to delete scheduled job", "tracking_id", p.TrackingID, "job_id", jobID, "error", err)
			continue
		}
		deleted++
	}
	cleanerID, err := s.tracker.CleanupJobID(ctx, p.TrackingID)
	if err != nil {
		return err
	}
	if cleanerID != "" {
		if err := s.jobs.Requeue(ctx, cleanerID); err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
			return fmt.Errorf("failed to requeue cleanup of %s: %w", p.TrackingID, err)
		}
	}
	cancelsCounter.Inc()
	s.logger.InfoContext(ctx, "fan-out cancelled", "tracking_id", p.TrackingID, "jobs_deleted", deleted)
	return nil
}

// HandleCleanup archives a record's final counts and erases its keys.
func (s *Sender) HandleCleanup(ctx context.Context, job *jobs.Descriptor) error {
	var p recordPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode cleanup payload: %w", err)
	}
	info, err := s.tracker.Info(ctx, p.TrackingID)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	if s.archive != nil {
		record := archive.Record{
			TrackingID:   info.ID,
			Total:        info.Total,
			SendTime:     info.SendTime(),
			Pending:      info.Pending,
			Sent:         info.Sent,
			Success:      info.Success,
			UserBlock:    info.UserBlock,
			SystemFailed: info.SystemFailed,
			SendError:    info.SendError,
		}
		if err := s.archive.Save(ctx, record); err != nil {
			// Archiving is best effort; the record is erased either way.
			s.logger.ErrorContext(ctx, "failed to archive record", "tracking_id", p.TrackingID, "error", err)
		}
	}
	if err := s.tracker.Cleanup(ctx, p.TrackingID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "tracking record cleaned", "tracking_id", p.TrackingID, "state", info.State())
	return nil
}

// ResolveOutcome applies an asynchronous delivery receipt. The correlation
// lookup is single-use; unknown or expired correlations are dropped
// silently.
func (s *Sender) ResolveOutcome(ctx context.Context, correlationID, recipient, outcome string) error {
	trackingID, err := s.tracker.ResolveCorrelation(ctx, correlationID)
	if err != nil {
		return err
	}
	if trackingID == "" {
		return nil
	}
	switch outcome {
	case "success":
		err = s.tracker.Success(ctx, trackingID, recipient)
	case "user-blocked":
		err = s.tracker.UserBlock(ctx, trackingID, recipient)
	case "system-failed":
		err = s.tracker.SystemFailed(ctx, trackingID, recipient)
	default:
		return fmt.Errorf("unknown delivery outcome %q", outcome)
	}
	if err != nil {
		return err
	}
	receiptsCounter.WithLabelValues(outcome).Inc()
	return nil
}
