package rbac

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type cachedResult struct {
	allowed   bool
	expiresAt time.Time
}

// CachedChecker answers capability checks from a GrantStore with a short
// TTL cache in front. It satisfies the ledger's CapabilityChecker interface.
type CachedChecker struct {
	store GrantStore
	ttl   time.Duration
	log   *logrus.Logger

	mu    sync.Mutex
	cache map[string]cachedResult

	now func() time.Time
}

// NewCachedChecker creates a checker. ttl <= 0 disables caching.
func NewCachedChecker(store GrantStore, ttl time.Duration, log *logrus.Logger) *CachedChecker {
	if log == nil {
		log = logrus.New()
	}
	return &CachedChecker{
		store: store,
		ttl:   ttl,
		log:   log,
		cache: make(map[string]cachedResult),
		now:   time.Now,
	}
}

// HasCapability reports whether the actor holds the capability in the firm.
// Store errors deny, so an outage of the grants table cannot mint elevated
// capabilities.
func (c *CachedChecker) HasCapability(ctx context.Context, firmID, actor, capability string) bool {
	key := grantKey(firmID, actor, capability)
	if c.ttl > 0 {
		c.mu.Lock()
		cached, ok := c.cache[key]
		c.mu.Unlock()
		if ok && cached.expiresAt.After(c.now()) {
			return cached.allowed
		}
	}

	allowed, err := c.store.Has(ctx, firmID, actor, capability)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"firm_id":    firmID,
			"actor":      actor,
			"capability": capability,
		}).Error("capability check failed, denying")
		return false
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.cache[key] = cachedResult{allowed: allowed, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return allowed
}

// Invalidate drops the cached answer for one actor's capability so a fresh
// grant or revocation takes effect immediately.
func (c *CachedChecker) Invalidate(firmID, actor, capability string) {
	c.mu.Lock()
	delete(c.cache, grantKey(firmID, actor, capability))
	c.mu.Unlock()
}
