// Package watch holds the effects and calculations that react to state
// changes. Registrations are ordered; the pipeline runs them in the order they
// were added.
package watch

import (
	"context"
	"fmt"
	"sync"

	"github.com/tailored-agentic-units/appstate/state"
)

// Effect observes a snapshot after a change it watches. It produces no delta.
type Effect func(ctx context.Context, s state.State)

// Calculation derives fields from a snapshot. Its delta is merged back into
// state by the pipeline.
type Calculation func(ctx context.Context, s state.State) (state.Delta, error)

// Kind distinguishes effects from calculations.
type Kind string

const (
	KindEffect      Kind = "effect"
	KindCalculation Kind = "calculation"
)

// Registration describes one registered effect or calculation.
type Registration struct {
	ID    string
	Kind  Kind
	Watch List
}

// Key returns the registration identity: caller-supplied ID plus the canonical
// watch-list.
func (r Registration) Key() string {
	return string(r.Kind) + ":" + r.ID + "|" + r.Watch.String()
}

type effectEntry struct {
	Registration
	fn Effect
}

type calculationEntry struct {
	Registration
	fn Calculation
}

// Registry stores effects and calculations in registration order. Safe for
// concurrent use; the slices returned by Effects and Calculations are copies,
// so registering from inside a running effect does not disturb the pass.
type Registry struct {
	effects      []effectEntry
	calculations []calculationEntry
	keys         map[string]bool
	mu           sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{keys: make(map[string]bool)}
}

// AddEffect registers fn under id with the given watch-list. Registering the
// same id with the same watch-list again is a no-op; a different watch-list
// yields a distinct entry. Reports whether a new entry was added.
func (r *Registry) AddEffect(id string, fn Effect, watch List) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	if fn == nil {
		return false, fmt.Errorf("%w: effect %s", ErrNilFunc, id)
	}

	reg := Registration{ID: id, Kind: KindEffect, Watch: NewList(watch...)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.keys[reg.Key()] {
		return false, nil
	}
	r.keys[reg.Key()] = true
	r.effects = append(r.effects, effectEntry{Registration: reg, fn: fn})
	return true, nil
}

// AddCalculation registers fn under id with the given watch-list, with the same
// identity rules as AddEffect.
func (r *Registry) AddCalculation(id string, fn Calculation, watch List) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	if fn == nil {
		return false, fmt.Errorf("%w: calculation %s", ErrNilFunc, id)
	}

	reg := Registration{ID: id, Kind: KindCalculation, Watch: NewList(watch...)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.keys[reg.Key()] {
		return false, nil
	}
	r.keys[reg.Key()] = true
	r.calculations = append(r.calculations, calculationEntry{Registration: reg, fn: fn})
	return true, nil
}

// BoundEffect pairs a registration with its function.
type BoundEffect struct {
	Registration
	Run Effect
}

// BoundCalculation pairs a registration with its function.
type BoundCalculation struct {
	Registration
	Run Calculation
}

// Effects returns, in registration order, the effects whose watch-list matches
// changed.
func (r *Registry) Effects(changed []string) []BoundEffect {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []BoundEffect
	for _, e := range r.effects {
		if e.Watch.Matches(changed) {
			out = append(out, BoundEffect{Registration: e.Registration, Run: e.fn})
		}
	}
	return out
}

// Calculations returns every calculation in registration order. Matching is
// left to the caller because the changed set grows as calculations run.
func (r *Registry) Calculations() []BoundCalculation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BoundCalculation, 0, len(r.calculations))
	for _, c := range r.calculations {
		out = append(out, BoundCalculation{Registration: c.Registration, Run: c.fn})
	}
	return out
}

// List returns all registrations, effects first, each group in registration
// order.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.effects)+len(r.calculations))
	for _, e := range r.effects {
		out = append(out, e.Registration)
	}
	for _, c := range r.calculations {
		out = append(out, c.Registration)
	}
	return out
}

// Len returns the number of registered effects and calculations.
func (r *Registry) Len() (effects, calculations int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.effects), len(r.calculations)
}
