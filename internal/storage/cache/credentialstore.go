// Package cache shares access credentials between relay replicas through Redis.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

type cachedCredential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CachedExchanger is a read-aside decorator over a relay.Exchanger. A replica
// that finds a usable credential in Redis skips the exchange entirely.
//
// Redis is an optimization only: any cache error falls through to the real
// exchanger and exchange errors are never cached.
type CachedExchanger struct {
	real   relay.Exchanger
	cache  CacheClient
	key    string
	margin time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewCachedExchanger creates the decorator. issuer scopes the cache key so that
// replicas signing as different identities never share credentials.
func NewCachedExchanger(real relay.Exchanger, cache CacheClient, issuer string, margin time.Duration, logger *slog.Logger) *CachedExchanger {
	return &CachedExchanger{
		real:   real,
		cache:  cache,
		key:    CredentialKey(issuer),
		margin: margin,
		now:    time.Now,
		logger: logger.With("component", "CachedExchanger"),
	}
}

// CredentialKey is the Redis key holding the credential for issuer.
func CredentialKey(issuer string) string {
	return "pushrelay:credential:" + issuer
}

func (s *CachedExchanger) Exchange(ctx context.Context) (relay.AccessCredential, error) {
	var cached cachedCredential
	if err := s.cache.Get(ctx, s.key, &cached); err == nil {
		cred := relay.AccessCredential{Token: cached.Token, ExpiresAt: cached.ExpiresAt}
		if cred.ValidAt(s.now(), s.margin) {
			return cred, nil
		}
		// Stale: another replica will overwrite it, but don't leave it for readers.
		_ = s.cache.Del(ctx, s.key)
	}

	cred, err := s.real.Exchange(ctx)
	if err != nil {
		return relay.AccessCredential{}, err
	}

	ttl := cred.ExpiresAt.Sub(s.now()) - s.margin
	if ttl > 0 {
		if err := s.cache.Set(ctx, s.key, cachedCredential{Token: cred.Token, ExpiresAt: cred.ExpiresAt}, ttl); err != nil {
			s.logger.Warn("Failed to share credential", "err", err)
		}
	}
	return cred, nil
}
