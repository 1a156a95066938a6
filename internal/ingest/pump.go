package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// NATS subjects inbound traffic is republished to.
const (
	SubjectMessages = "gateway.messages"
	SubjectEvents   = "gateway.events"
)

// OutcomeResolver applies an asynchronously reported delivery outcome to
// its tracking record.
type OutcomeResolver interface {
	ResolveOutcome(ctx context.Context, correlationID, recipient, outcome string) error
}

// Publisher republishes inbound traffic to downstream consumers. Satisfied
// by messagebroker.NatsClient; nil disables forwarding.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Pump drains both FIFOs: delivery-outcome events feed correlation
// resolution, everything else is forwarded downstream.
type Pump struct {
	messages *Queue
	events   *Queue
	resolver OutcomeResolver
	pub      Publisher
	logger   *slog.Logger
	interval time.Duration
}

// NewPump creates a pump polling both FIFOs at the given interval.
func NewPump(messages, events *Queue, resolver OutcomeResolver, pub Publisher, logger *slog.Logger, interval time.Duration) *Pump {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Pump{
		messages: messages,
		events:   events,
		resolver: resolver,
		pub:      pub,
		logger:   logger.With("component", "ingest_pump"),
		interval: interval,
	}
}

// Run polls until ctx is cancelled. Each tick drains both FIFOs completely.
func (p *Pump) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		p.drain(ctx)
	}
}

func (p *Pump) drain(ctx context.Context) {
	for {
		ev, err := p.events.Dequeue(ctx)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to dequeue event", "error", err)
			break
		}
		if ev == nil {
			break
		}
		p.handleEvent(ctx, ev)
	}
	for {
		msg, err := p.messages.Dequeue(ctx)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to dequeue message", "error", err)
			break
		}
		if msg == nil {
			break
		}
		p.forward(ctx, SubjectMessages, msg)
	}
}

func (p *Pump) handleEvent(ctx context.Context, ev *InboundMessage) {
	if ev.Event == EventDeliveryOutcome {
		if err := p.resolver.ResolveOutcome(ctx, ev.CorrelationID, ev.From, ev.Outcome); err != nil {
			p.logger.ErrorContext(ctx, "failed to resolve delivery outcome",
				"correlation_id", ev.CorrelationID, "error", err)
		}
		return
	}
	p.forward(ctx, SubjectEvents, ev)
}

// forward republishes downstream. Forwarding is at-most-once: a publish
// failure is logged and the message dropped.
func (p *Pump) forward(ctx context.Context, subject string, msg *InboundMessage) {
	if p.pub == nil {
		p.logger.DebugContext(ctx, "no publisher configured, dropping", "subject", subject)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal inbound message", "error", err)
		return
	}
	if err := p.pub.Publish(ctx, subject, data); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish inbound message", "subject", subject, "error", err)
	}
}
