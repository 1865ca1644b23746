// Package flowctx implements the flat key/value context that threads
// through pipeline execution, plus the Outcome and Checkpoint types that
// travel alongside it.
package flowctx

import "sync"

// Context is a flat string->string key/value store with an append-only log
// buffer. It is owned by one pipeline runner at a time; each method guards
// its own access with an internal read/write lock, so individual calls are
// safe from several goroutines.
type Context struct {
	mu     sync.RWMutex
	values map[string]string
	log    []string
}

func New() *Context {
	return &Context{values: map[string]string{}}
}

// Get returns the value and whether it was present.
func (c *Context) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// GetString returns the value, or def if the key is absent.
func (c *Context) GetString(key, def string) string {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// Set assigns key=value, overwriting any prior value.
func (c *Context) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Has reports whether key is present.
func (c *Context) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key, if present.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

// ApplyUpdates bulk-merges a mapping into the context, last-writer-wins.
func (c *Context) ApplyUpdates(updates map[string]string) {
	if len(updates) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range updates {
		c.values[k] = v
	}
}

// Snapshot returns an immutable copy of the key/value map, suitable for
// checkpointing.
func (c *Context) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Log appends a line to the append-only log buffer.
func (c *Context) Log(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, line)
}

// Logs returns a copy of the accumulated log lines.
func (c *Context) Logs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.log))
	copy(out, c.log)
	return out
}

// Keys returns all keys currently set, unordered.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	return out
}

// FromSnapshot rebuilds a Context from a prior snapshot plus log lines, as
// used when resuming from a checkpoint.
func FromSnapshot(values map[string]string, logs []string) *Context {
	c := New()
	c.ApplyUpdates(values)
	c.log = append(c.log, logs...)
	return c
}
