// Package processor owns the Processor Registry (name → version, handler,
// pricing, cancellation-aware spec) and the concrete handler
// implementations for asset-fingerprint, image-metadata, and ocr-text
// (spec.md §2 item 6, §4.3; SPEC_FULL.md §4.8).
package processor

import (
	"context"
	"fmt"
)

// Handler executes one run to completion, responsible for every status
// transition past pending (running/completed/canceled/failed) and for
// progress/partial-result checkpoints. Dispatcher guarantees a terminal
// status even if Handler returns an error.
type Handler func(ctx context.Context, runID string) error

// Spec is a registered processor's tagged-variant definition.
type Spec struct {
	Name           string
	Version        string
	PriceCents     int
	SupportsCancel bool
	Handler        Handler
}

// Registry is the name → Spec lookup the Admission Service and Dispatcher
// both consult.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a Spec, keyed by name. Registering the same name twice
// overwrites the prior entry — used only at startup wiring.
func (r *Registry) Register(spec Spec) {
	r.specs[spec.Name] = spec
}

// Lookup implements admission.ProcessorLookup: reports whether name is
// registered and, if so, its current version.
func (r *Registry) Lookup(name string) (version string, ok bool) {
	spec, ok := r.specs[name]
	if !ok {
		return "", false
	}
	return spec.Version, true
}

// Get returns the full Spec for name, or an error if unregistered.
func (r *Registry) Get(name string) (Spec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("unknown processor: %s", name)
	}
	return spec, nil
}
