package alerting

import (
	"sync"
	"time"
)

// Cooldown suppresses repeat alerts for the same key inside a window.
// Times are record timestamps, so replays behave like live runs.
type Cooldown struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown builds a gate; a non-positive window never suppresses.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[string]time.Time)}
}

// Allow reports whether an alert for key at time at may be sent, and if so
// records it.
func (c *Cooldown) Allow(key string, at time.Time) bool {
	if c == nil || c.window <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.last[key]; ok && at.Sub(prev) < c.window {
		return false
	}
	c.last[key] = at
	return true
}
