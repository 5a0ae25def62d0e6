package workflow

import (
	"encoding/json"
	"maps"
	"sync"
)

// RunContext is the scratch space shared by the tools of one run.
// It is safe for concurrent use.
type RunContext struct {
	mu     sync.RWMutex
	data   map[string]any
	inputs map[string]any
}

// NewRunContext creates an empty context.
func NewRunContext() *RunContext {
	return &RunContext{
		data:   make(map[string]any),
		inputs: make(map[string]any),
	}
}

// Set stores value under key.
func (c *RunContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]any)
	}
	c.data[key] = value
}

// Get returns the value stored under key.
func (c *RunContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// GetOr returns the value stored under key, or def.
func (c *RunContext) GetOr(key string, def any) any {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// Has reports whether key is set.
func (c *RunContext) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Clear removes all data. Inputs are kept.
func (c *RunContext) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.data)
}

// Data returns a snapshot of the stored data.
func (c *RunContext) Data() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.data)
}

// Inputs returns a snapshot of the run inputs.
func (c *RunContext) Inputs() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.inputs)
}

// Clone returns an independent copy. Map values are copied shallowly.
func (c *RunContext) Clone() *RunContext {
	if c == nil {
		return NewRunContext()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := &RunContext{
		data:   maps.Clone(c.data),
		inputs: maps.Clone(c.inputs),
	}
	if cp.data == nil {
		cp.data = make(map[string]any)
	}
	if cp.inputs == nil {
		cp.inputs = make(map[string]any)
	}
	return cp
}

// withInputs returns a clone whose inputs are replaced by inputs.
func (c *RunContext) withInputs(inputs map[string]any) *RunContext {
	cp := c.Clone()
	cp.inputs = maps.Clone(inputs)
	if cp.inputs == nil {
		cp.inputs = make(map[string]any)
	}
	return cp
}

type runContextJSON struct {
	Data   map[string]any `json:"data"`
	Inputs map[string]any `json:"inputs"`
}

// MarshalJSON implements json.Marshaler.
func (c *RunContext) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(runContextJSON{Data: c.data, Inputs: c.inputs})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *RunContext) UnmarshalJSON(b []byte) error {
	var v runContextJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data, c.inputs = v.Data, v.Inputs
	if c.data == nil {
		c.data = make(map[string]any)
	}
	if c.inputs == nil {
		c.inputs = make(map[string]any)
	}
	return nil
}
