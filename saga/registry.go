package saga

import (
	"fmt"
	"sync"

	"github.com/evercart/tandem"
)

// Registry holds the saga definitions, keyed by saga type and by
// trigger event type. Registration happens at startup; lookups are
// concurrent.
type Registry struct {
	mu        sync.RWMutex
	byType    map[string]Definition
	byTrigger map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType:    make(map[string]Definition),
		byTrigger: make(map[string]Definition),
	}
}

// Register adds a definition. It fails when the saga type or one of its
// trigger event types is already claimed: trigger routing must be
// unambiguous.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := def.SagaType()
	if _, exists := r.byType[name]; exists {
		return fmt.Errorf("saga: type %q already registered", name)
	}
	for _, trigger := range def.TriggerEvents() {
		if prev, exists := r.byTrigger[trigger]; exists {
			return fmt.Errorf("saga: trigger event %q already claimed by %q", trigger, prev.SagaType())
		}
	}

	r.byType[name] = def
	for _, trigger := range def.TriggerEvents() {
		r.byTrigger[trigger] = def
	}
	return nil
}

// Definition resolves a saga type. Returns tandem.ErrUnknownSagaType
// for unregistered types.
func (r *Registry) Definition(sagaType string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byType[sagaType]
	if !ok {
		return nil, fmt.Errorf("saga: %q: %w", sagaType, tandem.ErrUnknownSagaType)
	}
	return def, nil
}

// TriggerFor returns the definition whose instances are created by the
// given event type, if any.
func (r *Registry) TriggerFor(eventType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byTrigger[eventType]
	return def, ok
}

// Types returns the registered saga type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byType))
	for name := range r.byType {
		out = append(out, name)
	}
	return out
}
