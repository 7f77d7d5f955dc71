package plugin

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/shredtap/internal/core"
)

// OutputFactory creates a fresh output instance.
type OutputFactory func() Output

type registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
}

func newRegistry[F any]() *registry[F] {
	return &registry[F]{factories: make(map[string]F)}
}

func (r *registry[F]) register(name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("plugin %q already registered", name))
	}
	r.factories[name] = f
}

func (r *registry[F]) get(name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return f, fmt.Errorf("%w: %s", core.ErrPluginNotFound, name)
	}
	return f, nil
}

func (r *registry[F]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears every registration. Tests only.
func (r *registry[F]) Reset() {
	r.mu.Lock()
	r.factories = make(map[string]F)
	r.mu.Unlock()
}

var outputReg = newRegistry[OutputFactory]()

// RegisterOutput registers an output type. It panics on duplicates, so call
// it from init.
func RegisterOutput(typeName string, f OutputFactory) {
	outputReg.register(typeName, f)
}

// GetOutputFactory looks up an output type.
func GetOutputFactory(typeName string) (OutputFactory, error) {
	return outputReg.get(typeName)
}

// OutputTypes lists registered output types in name order.
func OutputTypes() []string {
	return outputReg.names()
}
