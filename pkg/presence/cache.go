package presence

import (
	"sync"
	"time"

	"presence-service/pkg/models"
)

// Cache is the client-side projection of per-user presence, built from the
// initial snapshot plus incremental and bulk events. It may be transiently
// stale between events; a forced bulk merge after reconnect corrects it.
// Consumers read presence only through the accessors here, never from raw
// push-channel events.
type Cache struct {
	mu     sync.RWMutex
	states map[string]models.UserPresence
}

func NewCache() *Cache {
	return &Cache{states: make(map[string]models.UserPresence)}
}

// ApplyUpdate applies one incremental event. Updates are monotonic per
// user: an event older than the applied state (by lastSeenAt) is discarded
// so delivery reordering can never regress a user's displayed status.
// Reports whether the update was applied.
func (c *Cache) ApplyUpdate(update models.UserPresence) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.states[update.UserID]; ok && update.LastSeenAt.Before(existing.LastSeenAt) {
		return false
	}
	c.states[update.UserID] = update
	return true
}

// ApplyBulk merges a full snapshot. Bulk is authoritative for every key it
// contains and overwrites unconditionally.
func (c *Cache) ApplyBulk(users []models.UserPresence) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, user := range users {
		c.states[user.UserID] = user
	}
}

// IsOnline reports whether the user is currently online. Unknown users are
// simply not online; absence is never an error.
func (c *Cache) IsOnline(userID string) bool {
	return c.StatusOf(userID) == models.StatusOnline
}

// StatusOf returns the user's status, offline when unknown.
func (c *Cache) StatusOf(userID string) models.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if state, ok := c.states[userID]; ok {
		return state.Status
	}
	return models.StatusOffline
}

// LastSeenOf returns the user's last-seen timestamp, zero when unknown.
func (c *Cache) LastSeenOf(userID string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.states[userID].LastSeenAt
}

// Snapshot returns a copy of the current projection.
func (c *Cache) Snapshot() map[string]models.UserPresence {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.UserPresence, len(c.states))
	for userID, state := range c.states {
		out[userID] = state
	}
	return out
}

// Len reports the number of known users.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}
