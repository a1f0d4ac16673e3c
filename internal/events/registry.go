package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownEventType indicates an event type that was never registered.
var ErrUnknownEventType = errors.New("events: unknown event type")

// Payload is one variant of the event payload union. Each registered event
// type carries exactly one payload shape.
type Payload interface {
	EventType() string
}

// DecodeFunc decodes the raw payload of one event type.
type DecodeFunc func(raw json.RawMessage) (Payload, error)

// Registry maps event-type names to payload decoders. It is populated once
// during process initialization, before any event traffic, and treated as
// read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]DecodeFunc
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]DecodeFunc)}
}

// Register binds a decoder to an event type. Registering the same type again
// replaces the decoder, so startup registration is idempotent.
func (r *Registry) Register(eventType string, decode DecodeFunc) error {
	name := strings.TrimSpace(eventType)
	if name == "" {
		return fmt.Errorf("events: event type name is required")
	}
	if decode == nil {
		return fmt.Errorf("events: decoder is required for %q", name)
	}
	r.mu.Lock()
	r.codecs[name] = decode
	r.mu.Unlock()
	return nil
}

// Decode resolves the decoder for eventType and applies it to raw.
func (r *Registry) Decode(eventType string, raw json.RawMessage) (Payload, error) {
	r.mu.RLock()
	decode, ok := r.codecs[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	return decode(raw)
}

// Has reports whether eventType is registered.
func (r *Registry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.codecs[eventType]
	return ok
}

// Types returns the registered event-type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
