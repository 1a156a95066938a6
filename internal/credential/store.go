// Package credential keeps platform and tenant credentials alive: a redis
// store of tokens and tickets, a periodic watchdog, and the one-shot
// refresh jobs the watchdog enqueues.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPlatformTicket = "cred:platform:verify-ticket"
	keyPlatformToken  = "cred:platform:access-token"

	keyTenantTokenPrefix   = "cred:tenant:access-token:"
	keyTenantRefreshPrefix = "cred:tenant:refresh-token:"
	keyTenantTicketPrefix  = "cred:tenant:ticket:"
	keyTicketExemptPrefix  = "cred:tenant:ticket-exempt:"
)

// Store provides access to platform and tenant credentials. Tenants are
// enumerated from their refresh-token keys; a tenant exists exactly while
// its refresh token does.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a credential store on the shared redis connection.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return val, nil
}

// state reports whether a key exists and its remaining TTL. A key without
// expiry reports ttl < 0.
func (s *Store) state(ctx context.Context, key string) (bool, time.Duration, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to check %s: %w", key, err)
	}
	if n == 0 {
		return false, 0, nil
	}
	ttl, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}
	return true, ttl, nil
}

// needsRefresh applies the watchdog margin rule: absent, or expiring within
// the margin.
func (s *Store) needsRefresh(ctx context.Context, key string, margin time.Duration) (bool, error) {
	exists, ttl, err := s.state(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}
	return ttl >= 0 && ttl < margin, nil
}

// PlatformTicket returns the pushed verify ticket, or "" when absent.
func (s *Store) PlatformTicket(ctx context.Context) (string, error) {
	return s.get(ctx, keyPlatformTicket)
}

// SetPlatformTicket stores the verify ticket. The ticket carries no TTL;
// the platform replaces it on its own cadence.
func (s *Store) SetPlatformTicket(ctx context.Context, ticket string) error {
	return s.rdb.Set(ctx, keyPlatformTicket, ticket, 0).Err()
}

// PlatformToken returns the platform access token, or "" when absent.
func (s *Store) PlatformToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyPlatformToken)
}

// SetPlatformToken stores the platform access token with its declared TTL.
func (s *Store) SetPlatformToken(ctx context.Context, token string, ttl time.Duration) error {
	return s.rdb.Set(ctx, keyPlatformToken, token, ttl).Err()
}

// PlatformTokenNeedsRefresh applies the margin rule to the platform token.
func (s *Store) PlatformTokenNeedsRefresh(ctx context.Context, margin time.Duration) (bool, error) {
	return s.needsRefresh(ctx, keyPlatformToken, margin)
}

// AccessToken returns a tenant's access token, or "" when absent.
func (s *Store) AccessToken(ctx context.Context, tenantID string) (string, error) {
	return s.get(ctx, keyTenantTokenPrefix+tenantID)
}

// SetAccessToken stores a tenant access token with its declared TTL.
func (s *Store) SetAccessToken(ctx context.Context, tenantID, token string, ttl time.Duration) error {
	return s.rdb.Set(ctx, keyTenantTokenPrefix+tenantID, token, ttl).Err()
}

// AccessTokenNeedsRefresh applies the margin rule to a tenant token.
func (s *Store) AccessTokenNeedsRefresh(ctx context.Context, tenantID string, margin time.Duration) (bool, error) {
	return s.needsRefresh(ctx, keyTenantTokenPrefix+tenantID, margin)
}

// HasAccessToken reports whether a tenant currently holds a valid token.
func (s *Store) HasAccessToken(ctx context.Context, tenantID string) (bool, error) {
	exists, _, err := s.state(ctx, keyTenantTokenPrefix+tenantID)
	return exists, err
}

// RefreshToken returns a tenant's refresh token, or "" when absent.
func (s *Store) RefreshToken(ctx context.Context, tenantID string) (string, error) {
	return s.get(ctx, keyTenantRefreshPrefix+tenantID)
}

// SetRefreshToken stores a tenant refresh token. Refresh tokens do not
// expire; their presence defines the set of known tenants.
func (s *Store) SetRefreshToken(ctx context.Context, tenantID, token string) error {
	return s.rdb.Set(ctx, keyTenantRefreshPrefix+tenantID, token, 0).Err()
}

// Ticket returns a tenant's secondary ticket, or "" when absent.
func (s *Store) Ticket(ctx context.Context, tenantID string) (string, error) {
	return s.get(ctx, keyTenantTicketPrefix+tenantID)
}

// SetTicket stores a tenant's secondary ticket with its declared TTL.
func (s *Store) SetTicket(ctx context.Context, tenantID, ticket string, ttl time.Duration) error {
	return s.rdb.Set(ctx, keyTenantTicketPrefix+tenantID, ticket, ttl).Err()
}

// TicketNeedsRefresh applies the margin rule to a tenant's ticket.
func (s *Store) TicketNeedsRefresh(ctx context.Context, tenantID string, margin time.Duration) (bool, error) {
	return s.needsRefresh(ctx, keyTenantTicketPrefix+tenantID, margin)
}

// TicketExempt reports whether the tenant is flagged as not needing a
// secondary ticket.
func (s *Store) TicketExempt(ctx context.Context, tenantID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, keyTicketExemptPrefix+tenantID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ticket exemption of %s: %w", tenantID, err)
	}
	return n > 0, nil
}

// SetTicketExempt flags a tenant as ticket-exempt.
func (s *Store) SetTicketExempt(ctx context.Context, tenantID string) error {
	return s.rdb.Set(ctx, keyTicketExemptPrefix+tenantID, "1", 0).Err()
}

// Tenants enumerates all known tenant ids by scanning refresh-token keys.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	var (
		tenants []string
		cursor  uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyTenantRefreshPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenants: %w", err)
		}
		for _, key := range keys {
			tenants = append(tenants, strings.TrimPrefix(key, keyTenantRefreshPrefix))
		}
		cursor = next
		if cursor == 0 {
			return tenants, nil
		}
	}
}

// DeleteTenant removes every credential key of a tenant. Used when the
// tenant revokes its authorization.
func (s *Store) DeleteTenant(ctx context.Context, tenantID string) error {
	keys := []string{
		keyTenantTokenPrefix + tenantID,
		keyTenantRefreshPrefix + tenantID,
		keyTenantTicketPrefix + tenantID,
		keyTicketExemptPrefix + tenantID,
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete tenant %s: %w", tenantID, err)
	}
	return nil
}
