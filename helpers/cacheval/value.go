// Value with validity window.
// Unlike plain atomics, value and its timestamp are updated consistently,
// so a fresh read never pairs new timestamp with old value.
// Usage scenario examples: last telemetry snapshot replayed to late subscribers.
package cacheval

import (
	"sync"
	"time"
)

type Value struct {
	mu      sync.Mutex
	value   interface{}
	updated time.Time
	valid   time.Duration
}

// Not thread-safe. `valid` duration cannot be changed later.
func (c *Value) Init(valid time.Duration) {
	c.valid = valid
}

func (c *Value) Valid() time.Duration { return c.valid }

// Returns current (possibly stale) value and its update time.
func (c *Value) Get() (interface{}, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.updated
}

// Returns value and true if it was set within valid duration before `now`.
func (c *Value) GetFresh(now time.Time) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return nil, false
	}
	age := now.Sub(c.updated)
	if age < 0 || age > c.valid {
		return nil, false
	}
	return c.value, true
}

func (c *Value) Set(v interface{}, at time.Time) {
	c.mu.Lock()
	c.value, c.updated = v, at
	c.mu.Unlock()
}

func (c *Value) Reset() {
	c.mu.Lock()
	c.value, c.updated = nil, time.Time{}
	c.mu.Unlock()
}
