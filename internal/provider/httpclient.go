package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient talks JSON over HTTPS to the upstream platform API. Payload
// encryption and signature verification are handled upstream of this
// gateway; the client only authenticates with bearer tokens in query
// parameters, as the platform requires.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a platform API client. timeout bounds every call
// including body read.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// apiResponse is the envelope of every platform API response. A non-zero
// ErrCode means the request was rejected.
type apiResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`

	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Ticket       string `json:"ticket"`
	TenantID     string `json:"tenant_id"`
	MsgID        string `json:"msg_id"`
}

func (c *HTTPClient) post(ctx context.Context, path, token string, body any) (*apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	endpoint := c.baseURL + path
	if token != "" {
		endpoint += "?access_token=" + url.QueryEscape(token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode platform response: %w", err)
	}
	if out.ErrCode != 0 {
		return nil, &Error{Code: out.ErrCode, Msg: out.ErrMsg}
	}
	return &out, nil
}

// PlatformToken exchanges the pushed verify ticket for a platform token.
func (c *HTTPClient) PlatformToken(ctx context.Context, verifyTicket string) (TokenGrant, error) {
	resp, err := c.post(ctx, "/platform/token", "", map[string]string{"verify_ticket": verifyTicket})
	if err != nil {
		return TokenGrant{}, err
	}
	return TokenGrant{AccessToken: resp.AccessToken, ExpiresIn: resp.ExpiresIn}, nil
}

// RefreshTenantToken mints a new tenant token pair from a refresh token.
func (c *HTTPClient) RefreshTenantToken(ctx context.Context, platformToken, tenantID, refreshToken string) (TokenGrant, error) {
	resp, err := c.post(ctx, "/tenants/"+url.PathEscape(tenantID)+"/token", platformToken,
		map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return TokenGrant{}, err
	}
	return TokenGrant{
		AccessToken:  resp.AccessToken,
		ExpiresIn:    resp.ExpiresIn,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// TenantTicket fetches a tenant's secondary ticket.
func (c *HTTPClient) TenantTicket(ctx context.Context, accessToken string) (TicketGrant, error) {
	resp, err := c.post(ctx, "/ticket", accessToken, struct{}{})
	if err != nil {
		return TicketGrant{}, err
	}
	return TicketGrant{Ticket: resp.Ticket, ExpiresIn: resp.ExpiresIn}, nil
}

// ExchangeAuthCode resolves an authorization code into a tenant identity
// and its initial token pair.
func (c *HTTPClient) ExchangeAuthCode(ctx context.Context, platformToken, code string) (Authorization, error) {
	resp, err := c.post(ctx, "/authorizations", platformToken, map[string]string{"code": code})
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{
		TenantID: resp.TenantID,
		Grant: TokenGrant{
			AccessToken:  resp.AccessToken,
			ExpiresIn:    resp.ExpiresIn,
			RefreshToken: resp.RefreshToken,
		},
	}, nil
}

// SendOne delivers one rendered message on the tenant's behalf.
func (c *HTTPClient) SendOne(ctx context.Context, accessToken string, msg OutboundMessage) (SendReceipt, error) {
	resp, err := c.post(ctx, "/messages", accessToken, msg)
	if err != nil {
		return SendReceipt{}, err
	}
	return SendReceipt{CorrelationID: resp.MsgID}, nil
}
