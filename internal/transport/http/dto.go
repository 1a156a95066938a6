package http

// SubmitResponse is returned by POST /v1/messages. MessageID is empty for
// untracked fan-outs.
type SubmitResponse struct {
	MessageID string `json:"message_id,omitempty"`
	SendTime  int64  `json:"send_time"`
}

// StatusResponse is returned by GET /v1/messages/{id}/status.
type StatusResponse struct {
	MessageID string `json:"message_id"`
	State     string `json:"state"`
	Total     int64  `json:"total"`
	SendTime  int64  `json:"send_time"`

	Pending      int64 `json:"pending"`
	Sent         int64 `json:"sent"`
	Success      int64 `json:"success"`
	UserBlock    int64 `json:"user_block"`
	SystemFailed int64 `json:"system_failed"`
	SendError    int64 `json:"send_error"`

	Recipients map[string][]string `json:"recipients,omitempty"`
}

// TicketRequest carries a pushed verify ticket.
type TicketRequest struct {
	Ticket string `json:"ticket" validate:"required"`
}

// AuthorizationRequest carries a tenant lifecycle notification. Code is
// required for authorized events, TenantID for unauthorized ones.
type AuthorizationRequest struct {
	Event    string `json:"event" validate:"required,oneof=authorized unauthorized"`
	Code     string `json:"code,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

// InboundRequest carries one inbound user message or event for a tenant.
type InboundRequest struct {
	Kind          string `json:"kind" validate:"required,oneof=message event"`
	Event         string `json:"event,omitempty"`
	From          string `json:"from" validate:"required"`
	Content       string `json:"content,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Outcome       string `json:"outcome,omitempty" validate:"omitempty,oneof=success user-blocked system-failed"`
	CreatedAt     int64  `json:"created_at"`
}

// GenericErrorResponse is the JSON body of every error status.
type GenericErrorResponse struct {
	Error string `json:"error"`
}
