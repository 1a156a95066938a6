package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc processes one job. A returned error is logged and the job is
// discarded; there is no retry path.
type HandlerFunc func(ctx context.Context, job *Descriptor) error

// Server runs a fixed pool of workers per named queue plus a mover that
// promotes due scheduled jobs onto their ready lists.
type Server struct {
	rdb          *redis.Client
	logger       *slog.Logger
	handlers     map[string]HandlerFunc
	queues       map[string]int
	pollInterval time.Duration
	now          func() time.Time
}

// NewServer creates a job server. queues maps queue name to worker count;
// queues with a non-positive count are not consumed.
func NewServer(rdb *redis.Client, logger *slog.Logger, queues map[string]int, pollInterval time.Duration) *Server {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Server{
		rdb:          rdb,
		logger:       logger.With("component", "jobs_server"),
		handlers:     make(map[string]HandlerFunc),
		queues:       queues,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// Register binds a handler to a job kind. Registration must complete before
// Run is called.
func (s *Server) Register(kind string, h HandlerFunc) {
	s.handlers[kind] = h
}

// Run starts all workers and the scheduled-job mover, blocking until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for queue, count := range s.queues {
		for i := 0; i < count; i++ {
			queue := queue
			worker := fmt.Sprintf("%s-%d", queue, i)
			g.Go(func() error {
				return s.consume(ctx, queue, worker)
			})
		}
	}
	g.Go(func() error {
		return s.moveScheduled(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) consume(ctx context.Context, queue, worker string) error {
	logger := s.logger.With("queue", queue, "worker", worker)
	logger.Info("worker started")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := s.rdb.BRPop(ctx, defaultPopTimeout, queueKey(queue)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.ErrorContext(ctx, "failed to pop job", "error", err)
			select {
			case <-time.After(defaultPopTimeout):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		// res is [key, value].
		s.execute(ctx, logger, queue, res[1])
	}
}

func (s *Server) execute(ctx context.Context, logger *slog.Logger, queue, id string) {
	raw, err := s.rdb.GetDel(ctx, jobKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		// Deleted between scheduling and execution: cancelled.
		jobsSkippedCounter.WithLabelValues(queue).Inc()
		logger.InfoContext(ctx, "skipping deleted job", "job_id", id)
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to claim job", "job_id", id, "error", err)
		return
	}

	var desc Descriptor
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		logger.ErrorContext(ctx, "failed to decode job", "job_id", id, "error", err)
		return
	}

	handler, ok := s.handlers[desc.Kind]
	if !ok {
		logger.ErrorContext(ctx, "no handler for job kind", "job_id", id, "kind", desc.Kind)
		jobsProcessedCounter.WithLabelValues(queue, desc.Kind, "unhandled").Inc()
		return
	}

	timer := prometheus.NewTimer(jobDurationHist.WithLabelValues(queue, desc.Kind))
	err = handler(ctx, &desc)
	timer.ObserveDuration()

	if err != nil {
		// No retry: the next watchdog tick or a status poll picks up the
		// consequences.
		jobsProcessedCounter.WithLabelValues(queue, desc.Kind, "error").Inc()
		logger.ErrorContext(ctx, "job failed", "job_id", id, "kind", desc.Kind, "error", err)
		return
	}
	jobsProcessedCounter.WithLabelValues(queue, desc.Kind, "success").Inc()
	logger.DebugContext(ctx, "job finished", "job_id", id, "kind", desc.Kind)
}

// moveScheduled promotes due jobs from the scheduled set to their ready
// lists. ZRem decides the winner when several movers race, so each job is
// promoted at most once.
func (s *Server) moveScheduled(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.promoteDue(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "failed to promote scheduled jobs", "error", err)
		}
	}
}

func (s *Server) promoteDue(ctx context.Context) error {
	due, err := s.rdb.ZRangeByScore(ctx, scheduledSetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().Unix(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range due {
		removed, err := s.rdb.ZRem(ctx, scheduledSetKey, id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		raw, err := s.rdb.Get(ctx, jobKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		var desc Descriptor
		if err := json.Unmarshal([]byte(raw), &desc); err != nil {
			s.logger.ErrorContext(ctx, "failed to decode scheduled job", "job_id", id, "error", err)
			continue
		}
		if err := s.rdb.LPush(ctx, queueKey(desc.Queue), id).Err(); err != nil {
			return err
		}
	}
	return nil
}
