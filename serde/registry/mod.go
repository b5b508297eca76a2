// Package registry defines the format registry mechanism.
//
// The default implementation always returns an engine: an unknown format
// yields an engine that fails with a meaningful error, so callers don't have
// to check the existence of the format.
package registry

import (
	"sync"

	"go.dedis.ch/keygen/serde"
	"golang.org/x/xerrors"
)

// Registry is an interface to register and get format engines for a specific
// format.
type Registry interface {
	// Register takes a format and its engine and it registers them so that the
	// engine can be looked up later.
	Register(serde.Format, serde.FormatEngine)

	// Get returns the engine associated with the format.
	Get(serde.Format) serde.FormatEngine
}

// SimpleRegistry is a default implementation of the Registry interface.
//
// - implements registry.Registry
type SimpleRegistry struct {
	sync.RWMutex
	store map[serde.Format]serde.FormatEngine
}

// NewSimpleRegistry returns a new empty registry.
func NewSimpleRegistry() *SimpleRegistry {
	return &SimpleRegistry{
		store: make(map[serde.Format]serde.FormatEngine),
	}
}

// Register implements registry.Registry.
func (r *SimpleRegistry) Register(name serde.Format, f serde.FormatEngine) {
	r.Lock()
	r.store[name] = f
	r.Unlock()
}

// Get implements registry.Registry. It returns the format engine associated
// with the format if it exists, otherwise it returns an empty format.
func (r *SimpleRegistry) Get(name serde.Format) serde.FormatEngine {
	r.RLock()
	defer r.RUnlock()

	f := r.store[name]
	if f == nil {
		return emptyFormat{name: name}
	}

	return f
}

// emptyFormat always returns an error.
//
// - implements serde.FormatEngine
type emptyFormat struct {
	name serde.Format
}

// Encode implements serde.FormatEngine. It always returns an error.
func (f emptyFormat) Encode(serde.Context, serde.Message) ([]byte, error) {
	return nil, xerrors.Errorf("format '%s' is not implemented", f.name)
}

// Decode implements serde.FormatEngine. It always returns an error.
func (f emptyFormat) Decode(serde.Context, []byte) (serde.Message, error) {
	return nil, xerrors.Errorf("format '%s' is not implemented", f.name)
}
