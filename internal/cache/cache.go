// Package cache implements the session, access-token, and idle
// rate-limiter caches the Housekeeper's Session tick evicts from (spec
// C12). Sessions and access tokens are Ristretto caches with TTL;
// rate limiters are golang.org/x/time/rate.Limiter values wrapped with a
// last-used timestamp so they can be evicted once idle past their TTL.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/time/rate"

	"github.com/caasmo/restinmail/internal/authtoken"
	"github.com/caasmo/restinmail/internal/topstats"
)

// Caches bundles the three TTL-evicted associative containers the
// Session housekeeper tick drains.
type Caches struct {
	Sessions     *ristretto.Cache[string, []byte]
	AccessTokens *ristretto.Cache[string, []byte]

	mu       sync.Mutex
	limiters map[string]*limiterEntry

	logger *slog.Logger
	hits   *topstats.Tracker
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New builds the cache bundle. numCounters/maxCost tune Ristretto's
// admission policy; logger receives diagnostics from Purge.
func New(logger *slog.Logger, numCounters, maxCost int64) (*Caches, error) {
	sessions, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	tokens, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Caches{
		Sessions:     sessions,
		AccessTokens: tokens,
		limiters:     make(map[string]*limiterEntry),
		logger:       logger,
		hits:         topstats.New(10),
	}, nil
}

// Limiter returns (creating if absent) the idle rate-limiter for key,
// recording its use for idle-eviction and for the top-offenders
// diagnostic snapshot.
func (c *Caches) Limiter(key string, rps float64, burst int) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits.Observe(key)

	e, ok := c.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		c.limiters[key] = e
	}
	e.lastUsed = time.Now()
	return e.limiter
}

// Purge waits for pending writes to the session and access-token caches
// to be applied (Ristretto expires their TTL entries on its own), logs a
// best-effort top-offenders snapshot, then evicts every rate limiter
// idle for longer than ttl. This is the method the Session housekeeper
// tick invokes.
func (c *Caches) Purge(ttl time.Duration) {
	c.Sessions.Wait()
	c.AccessTokens.Wait()

	top := c.hits.Top()
	if len(top) > 0 && c.logger != nil {
		c.logger.Debug("session purge: top rate-limited keys", "top", top)
	}

	cutoff := time.Now().Add(-ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.limiters {
		if e.lastUsed.Before(cutoff) {
			delete(c.limiters, k)
		}
	}
}

// MintAccessToken signs a new access token for subject using oauthKey
// (the seeded "oauth.key" secret) and stores it in the AccessTokens
// cache under its jti, so a later VerifyAccessToken call can confirm it
// has not been revoked.
func (c *Caches) MintAccessToken(oauthKey []byte, subject string, ttl time.Duration) (string, error) {
	token, jti, err := authtoken.Mint(oauthKey, subject, ttl)
	if err != nil {
		return "", err
	}
	c.AccessTokens.SetWithTTL(jti, []byte(subject), 1, ttl)
	c.AccessTokens.Wait()
	return token, nil
}

// VerifyAccessToken checks token's signature and confirms its jti has
// not been evicted (revoked) from the AccessTokens cache.
func (c *Caches) VerifyAccessToken(oauthKey []byte, token string) (subject string, err error) {
	subject, jti, err := authtoken.Verify(oauthKey, token)
	if err != nil {
		return "", err
	}
	if _, found := c.AccessTokens.Get(jti); !found {
		return "", authtoken.ErrInvalid
	}
	return subject, nil
}

// Close releases the underlying Ristretto caches.
func (c *Caches) Close() {
	c.Sessions.Close()
	c.AccessTokens.Close()
}
