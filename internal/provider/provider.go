// Package provider defines the boundary to the upstream platform API. The
// gateway core only depends on the Client interface; HTTPClient is the
// production implementation and MockClient backs tests and local runs.
package provider

import (
	"context"
	"fmt"
)

// Error is a non-zero error code returned by the platform API, together
// with its message. Code 0 is never an Error.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Msg)
}

// TokenGrant is a freshly minted access token. ExpiresIn is in seconds.
// RefreshToken is non-empty only when the platform rotated it.
type TokenGrant struct {
	AccessToken  string
	ExpiresIn    int
	RefreshToken string
}

// TicketGrant is a tenant's secondary ticket with its validity in seconds.
type TicketGrant struct {
	Ticket    string
	ExpiresIn int
}

// Authorization is the result of exchanging a tenant authorization code.
type Authorization struct {
	TenantID string
	Grant    TokenGrant
}

// SendReceipt acknowledges an accepted outbound message. CorrelationID is
// set only for channels whose final outcome arrives later as an
// asynchronous event.
type SendReceipt struct {
	CorrelationID string
}

// Message payload kinds.
const (
	KindText     = "text"
	KindNews     = "news"
	KindImage    = "image"
	KindCard     = "card"
	KindTemplate = "template"
)

// TemplateItem is one rendered field of a templated message.
type TemplateItem struct {
	Value string `json:"value"`
	Color string `json:"color,omitempty"`
}

// OutboundMessage is one fully rendered message for one recipient. All
// variable substitution happened before it was built; delivery jobs send it
// verbatim.
type OutboundMessage struct {
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`

	Content string `json:"content,omitempty"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	PicURL      string `json:"pic_url,omitempty"`

	MediaID string `json:"media_id,omitempty"`

	PagePath string `json:"page_path,omitempty"`
	AppRef   string `json:"app_ref,omitempty"`

	TemplateID   string                  `json:"template_id,omitempty"`
	TemplateData map[string]TemplateItem `json:"template_data,omitempty"`
}

// Client is the upstream platform API surface the core consumes. Every call
// blocks for at most whatever the transport imposes; the core adds no
// timeout of its own.
type Client interface {
	// PlatformToken exchanges the pushed verify ticket for a platform
	// access token.
	PlatformToken(ctx context.Context, verifyTicket string) (TokenGrant, error)

	// RefreshTenantToken mints a new tenant access token from its refresh
	// token, using the platform token for authentication.
	RefreshTenantToken(ctx context.Context, platformToken, tenantID, refreshToken string) (TokenGrant, error)

	// TenantTicket fetches a tenant's secondary ticket.
	TenantTicket(ctx context.Context, accessToken string) (TicketGrant, error)

	// ExchangeAuthCode resolves a tenant authorization code into that
	// tenant's identity and initial token pair.
	ExchangeAuthCode(ctx context.Context, platformToken, code string) (Authorization, error)

	// SendOne delivers a single rendered message. A platform-side rejection
	// is returned as *Error.
	SendOne(ctx context.Context, accessToken string, msg OutboundMessage) (SendReceipt, error)
}
