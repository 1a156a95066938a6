package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/relaygate/relaygate/internal/credential"
	"github.com/relaygate/relaygate/internal/ingest"
	"github.com/relaygate/relaygate/internal/jobs"
)

// PlatformHandler serves the push notifications of the upstream platform:
// verify tickets, tenant lifecycle changes and inbound tenant traffic.
// Everything is accepted immediately and handed to jobs or FIFOs.
type PlatformHandler struct {
	jobs     *jobs.Client
	messages *ingest.Queue
	events   *ingest.Queue
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewPlatformHandler(jc *jobs.Client, messages, events *ingest.Queue, logger *slog.Logger, validate *validator.Validate) *PlatformHandler {
	return &PlatformHandler{
		jobs:     jc,
		messages: messages,
		events:   events,
		logger:   logger.With("handler", "platform"),
		validate: validate,
		now:      time.Now,
	}
}

// RegisterRoutes registers platform push routes with the given router.
func (h *PlatformHandler) RegisterRoutes(r chi.Router) {
	r.Post("/platform/ticket", h.handleTicket)
	r.Post("/platform/authorization", h.handleAuthorization)
	r.Post("/tenants/{tenantID}/messages", h.handleInbound)
}

func (h *PlatformHandler) handleTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req TicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode ticket push", "error", err)
		jsonError(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		jsonError(w, "validation error: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := credential.EnqueueTicketUpdate(ctx, h.jobs, req.Ticket); err != nil {
		logger.ErrorContext(ctx, "failed to enqueue ticket update", "error", err)
		jsonError(w, "failed to accept ticket", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *PlatformHandler) handleAuthorization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req AuthorizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode authorization push", "error", err)
		jsonError(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		jsonError(w, "validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	switch req.Event {
	case credential.EventAuthorized:
		if req.Code == "" {
			jsonError(w, "code is required for authorized events", http.StatusBadRequest)
			return
		}
		_, err = credential.EnqueueEnroll(ctx, h.jobs, req.Code)
	case credential.EventUnauthorized:
		if req.TenantID == "" {
			jsonError(w, "tenant_id is required for unauthorized events", http.StatusBadRequest)
			return
		}
		_, err = credential.EnqueueRevoke(ctx, h.jobs, req.TenantID)
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to enqueue lifecycle job", "event", req.Event, "error", err)
		jsonError(w, "failed to accept notification", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *PlatformHandler) handleInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	tenantID := chi.URLParam(r, "tenantID")

	var req InboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode inbound message", "tenant_id", tenantID, "error", err)
		jsonError(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		jsonError(w, "validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	createdAt := req.CreatedAt
	if createdAt == 0 {
		createdAt = h.now().Unix()
	}
	msg := &ingest.InboundMessage{
		TenantID:      tenantID,
		Kind:          req.Kind,
		Event:         req.Event,
		From:          req.From,
		Content:       req.Content,
		CorrelationID: req.CorrelationID,
		Outcome:       req.Outcome,
		CreatedAt:     createdAt,
	}
	queue := h.messages
	if req.Kind == ingest.KindEvent {
		queue = h.events
	}
	if err := queue.Enqueue(ctx, msg); err != nil {
		logger.ErrorContext(ctx, "failed to enqueue inbound message", "tenant_id", tenantID, "error", err)
		jsonError(w, "failed to accept message", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
