package rules

import (
	"sync"
	"time"

	"github.com/fleetworks/klaxon/internal/alerts"
)

// DefaultCacheTTL bounds how stale the active-rule snapshot may get.
const DefaultCacheTTL = 5 * time.Minute

// snapshotCache holds one immutable grouped-rules snapshot. Readers get
// either the previous snapshot or the new one, never a torn view: the map is
// built fully before being published and never mutated afterwards.
type snapshotCache struct {
	mu      sync.RWMutex
	rules   map[alerts.SourceType][]Rule
	expires time.Time
	ttl     time.Duration
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &snapshotCache{ttl: ttl}
}

func (c *snapshotCache) get() (map[alerts.SourceType][]Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rules == nil || time.Now().After(c.expires) {
		return nil, false
	}
	return c.rules, true
}

func (c *snapshotCache) set(rules map[alerts.SourceType][]Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = rules
	c.expires = time.Now().Add(c.ttl)
}

// invalidate drops the snapshot unconditionally. Called on every rule
// mutation, including partially failed ones.
func (c *snapshotCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = nil
	c.expires = time.Time{}
}
