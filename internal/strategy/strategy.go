// Package strategy defines the Signal interface for per-stock directional
// calls and provides a Registry for resolving signals by name.
package strategy

import (
	"fmt"
	"sort"

	"shadowdesk/internal/domain"
)

// Signal is a pluggable directional strategy. Given a stock's daily close
// history (oldest first) and its current price, it returns a BUY, SELL, or
// HOLD call.
type Signal interface {
	// Name returns the unique identifier for this signal.
	Name() string

	// Evaluate computes the call. It returns an error when the history is
	// too short or otherwise unusable; callers skip that stock.
	Evaluate(closes []float64, price float64) (domain.Call, error)
}

// Registry holds a named collection of signals for lookup and enumeration.
type Registry struct {
	signals map[string]Signal
}

// NewRegistry creates an empty signal Registry.
func NewRegistry() *Registry {
	return &Registry{
		signals: make(map[string]Signal),
	}
}

// Register adds a signal to the registry, keyed by its Name().
func (r *Registry) Register(s Signal) {
	r.signals[s.Name()] = s
}

// Get retrieves a signal by name. The second return value indicates whether
// the signal was found.
func (r *Registry) Get(name string) (Signal, bool) {
	s, ok := r.signals[name]
	return s, ok
}

// Resolve retrieves a signal by name, erroring on unknown names so a
// misconfigured algo fails at startup rather than mid-session.
func (r *Registry) Resolve(name string) (Signal, error) {
	s, ok := r.signals[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown signal %q (have %v)", name, r.List())
	}
	return s, nil
}

// List returns a sorted slice of all registered signal names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.signals))
	for name := range r.signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
