// Package http exposes the operator and ingest surface: fan-out
// submission and status on one side, platform push notifications on the
// other. Ingest endpoints assume signature verification and payload
// decryption happened upstream.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/relaygate/relaygate/internal/delivery"
)

// MessageHandler serves fan-out submission, status and cancellation.
type MessageHandler struct {
	scheduler *delivery.Scheduler
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewMessageHandler(scheduler *delivery.Scheduler, logger *slog.Logger, validate *validator.Validate) *MessageHandler {
	return &MessageHandler{
		scheduler: scheduler,
		logger:    logger.With("handler", "message"),
		validate:  validate,
	}
}

// RegisterRoutes registers message routes with the given router.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleSubmit)
	r.Get("/messages/{trackingID}/status", h.handleStatus)
	r.Post("/messages/{trackingID}/cancel", h.handleCancel)
}

func (h *MessageHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req delivery.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode submit request", "error", err)
		jsonError(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		logger.WarnContext(ctx, "submit validation failed", "error", err)
		jsonError(w, "validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	trackingID, sendTime, err := h.scheduler.Submit(ctx, &req)
	if err != nil {
		logger.ErrorContext(ctx, "failed to schedule fan-out", "tenant_id", req.TenantID, "error", err)
		jsonError(w, "failed to schedule message", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitResponse{MessageID: trackingID, SendTime: sendTime})
}

func (h *MessageHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	trackingID := chi.URLParam(r, "trackingID")
	detail := r.URL.Query().Get("detail") == "true"

	info, members, err := h.scheduler.Status(ctx, trackingID, detail)
	if err != nil {
		if errors.Is(err, delivery.ErrNotFound) {
			jsonError(w, "message not found", http.StatusNotFound)
			return
		}
		logger.ErrorContext(ctx, "failed to read status", "tracking_id", trackingID, "error", err)
		jsonError(w, "failed to retrieve status", http.StatusInternalServerError)
		return
	}

	resp := StatusResponse{
		MessageID:    info.ID,
		State:        info.State(),
		Total:        info.Total,
		SendTime:     info.Time,
		Pending:      info.Pending,
		Sent:         info.Sent,
		Success:      info.Success,
		UserBlock:    info.UserBlock,
		SystemFailed: info.SystemFailed,
		SendError:    info.SendError,
		Recipients:   members,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *MessageHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	trackingID := chi.URLParam(r, "trackingID")

	err := h.scheduler.Cancel(ctx, trackingID)
	switch {
	case errors.Is(err, delivery.ErrNotFound):
		jsonError(w, "message not found", http.StatusNotFound)
	case errors.Is(err, delivery.ErrAlreadyProcessed):
		jsonError(w, "message already processed", http.StatusConflict)
	case err != nil:
		logger.ErrorContext(ctx, "failed to cancel fan-out", "tracking_id", trackingID, "error", err)
		jsonError(w, "failed to cancel message", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func jsonError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(GenericErrorResponse{Error: message})
}
