package flight

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Context is the state a step sees while executing: the write-once input
// parameters set at flight creation, the read-write working map passed
// between steps, and the flight's own identity. The working map is owned by
// a single flight instance and never shared across flights; cross-flight
// coordination goes through the metadata store.
type Context struct {
	flightID string

	// inputs is write-once, set at flight creation.
	inputs map[string]json.RawMessage

	mu      sync.RWMutex
	working map[string]json.RawMessage

	// attempt is the retry attempt count of the currently executing step,
	// maintained by the runner.
	attempt int
}

// NewContext builds a step context from persisted input and working maps.
func NewContext(flightID string, inputs, working map[string]json.RawMessage) *Context {
	if inputs == nil {
		inputs = make(map[string]json.RawMessage)
	}
	if working == nil {
		working = make(map[string]json.RawMessage)
	}
	return &Context{flightID: flightID, inputs: inputs, working: working}
}

// FlightID returns the id of the owning flight.
func (c *Context) FlightID() string { return c.flightID }

// Attempt returns the 1-based retry attempt count of the current step
// invocation.
func (c *Context) Attempt() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempt
}

func (c *Context) setAttempt(n int) {
	c.mu.Lock()
	c.attempt = n
	c.mu.Unlock()
}

// workingSnapshot serializes the working map for checkpointing.
func (c *Context) workingSnapshot() (json.RawMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c.working)
}

// Input decodes a typed value from the write-once input parameters.
func Input[T any](c *Context, key string) (T, error) {
	var v T
	raw, ok := c.inputs[key]
	if !ok {
		return v, fmt.Errorf("flight %s: missing input parameter %q", c.flightID, key)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("flight %s: input parameter %q: %w", c.flightID, key, err)
	}
	return v, nil
}

// Working decodes a typed value from the working map. The boolean reports
// whether the key was present.
func Working[T any](c *Context, key string) (T, bool, error) {
	var v T
	c.mu.RLock()
	raw, ok := c.working[key]
	c.mu.RUnlock()
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, true, fmt.Errorf("flight %s: working key %q: %w", c.flightID, key, err)
	}
	return v, true, nil
}

// SetWorking stores a typed value in the working map. The value is
// persisted with the next checkpoint, so it survives a crash.
func SetWorking[T any](c *Context, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("flight %s: working key %q: %w", c.flightID, key, err)
	}
	c.mu.Lock()
	c.working[key] = raw
	c.mu.Unlock()
	return nil
}

// MarshalInputs serializes a set of input parameters for flight creation.
func MarshalInputs(params map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(params))
	for k, v := range params {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("input parameter %q: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// DecodeParamMap deserializes a persisted parameter map.
func DecodeParamMap(raw json.RawMessage) (map[string]json.RawMessage, error) {
	m := make(map[string]json.RawMessage)
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("cannot decode parameter map: %w", err)
	}
	return m, nil
}

// EncodeParamMap serializes a parameter map for storage.
func EncodeParamMap(m map[string]json.RawMessage) (json.RawMessage, error) {
	if m == nil {
		m = make(map[string]json.RawMessage)
	}
	return json.Marshal(m)
}
