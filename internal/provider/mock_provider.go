package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient is a stand-in implementation of Client used for local runs and
// tests. Failures are simulated by setting FailCode/FailMsg.
type MockClient struct {
	logger *slog.Logger

	FailCode       int
	FailMsg        string
	SimulatedDelay time.Duration
	TokenTTL       int

	mu    sync.Mutex
	sends []OutboundMessage
}

// NewMockClient creates a MockClient issuing tokens valid for tokenTTL
// seconds.
func NewMockClient(logger *slog.Logger, tokenTTL int) *MockClient {
	if tokenTTL <= 0 {
		tokenTTL = 7200
	}
	return &MockClient{
		logger:   logger.With("provider", "mock"),
		TokenTTL: tokenTTL,
	}
}

// Sends returns a copy of every message delivered through SendOne.
func (m *MockClient) Sends() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sends))
	copy(out, m.sends)
	return out
}

func (m *MockClient) fail() error {
	if m.FailCode != 0 {
		return &Error{Code: m.FailCode, Msg: m.FailMsg}
	}
	return nil
}

func (m *MockClient) delay() {
	if m.SimulatedDelay > 0 {
		time.Sleep(m.SimulatedDelay)
	}
}

// PlatformToken simulates the verify-ticket exchange.
func (m *MockClient) PlatformToken(ctx context.Context, verifyTicket string) (TokenGrant, error) {
	m.delay()
	if err := m.fail(); err != nil {
		return TokenGrant{}, err
	}
	m.logger.InfoContext(ctx, "mock platform token issued")
	return TokenGrant{AccessToken: "platform-" + uuid.NewString(), ExpiresIn: m.TokenTTL}, nil
}

// RefreshTenantToken simulates a tenant token refresh without rotating the
// refresh token.
func (m *MockClient) RefreshTenantToken(ctx context.Context, platformToken, tenantID, refreshToken string) (TokenGrant, error) {
	m.delay()
	if err := m.fail(); err != nil {
		return TokenGrant{}, err
	}
	m.logger.InfoContext(ctx, "mock tenant token issued", "tenant_id", tenantID)
	return TokenGrant{AccessToken: "tenant-" + uuid.NewString(), ExpiresIn: m.TokenTTL}, nil
}

// TenantTicket simulates fetching a tenant's secondary ticket.
func (m *MockClient) TenantTicket(ctx context.Context, accessToken string) (TicketGrant, error) {
	m.delay()
	if err := m.fail(); err != nil {
		return TicketGrant{}, err
	}
	return TicketGrant{Ticket: "ticket-" + uuid.NewString(), ExpiresIn: m.TokenTTL}, nil
}

// ExchangeAuthCode simulates tenant enrollment; the tenant id is derived
// from the code.
func (m *MockClient) ExchangeAuthCode(ctx context.Context, platformToken, code string) (Authorization, error) {
	m.delay()
	if err := m.fail(); err != nil {
		return Authorization{}, err
	}
	return Authorization{
		TenantID: "tenant-" + code,
		Grant: TokenGrant{
			AccessToken:  "tenant-" + uuid.NewString(),
			ExpiresIn:    m.TokenTTL,
			RefreshToken: "refresh-" + uuid.NewString(),
		},
	}, nil
}

// SendOne records the message and acknowledges it. Template messages get a
// correlation id, matching channels whose outcome arrives asynchronously.
func (m *MockClient) SendOne(ctx context.Context, accessToken string, msg OutboundMessage) (SendReceipt, error) {
	m.delay()
	if err := m.fail(); err != nil {
		return SendReceipt{}, err
	}
	m.mu.Lock()
	m.sends = append(m.sends, msg)
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "mock message sent", "kind", msg.Kind, "recipient", msg.Recipient)
	if msg.Kind == KindTemplate {
		return SendReceipt{CorrelationID: uuid.NewString()}, nil
	}
	return SendReceipt{}, nil
}
