package state

import (
	"maps"
	"slices"
)

// Delta is a partial state mapping produced by a transformer or calculation.
type Delta map[string]any

// Strip returns a copy of d without reserved names.
func (d Delta) Strip() Delta {
	out := make(Delta, len(d))
	for k, v := range d {
		if IsReserved(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// Keys returns the delta keys in sorted order.
func (d Delta) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

// Transform makes a literal Delta usable as a Transformer.
func (d Delta) Transform(State) (Delta, error) {
	return d, nil
}

// Transformer produces a state delta from the current snapshot. Transformers
// must not retain or modify the snapshot they receive.
type Transformer interface {
	Transform(s State) (Delta, error)
}

// TransformFunc adapts a fallible function to Transformer.
type TransformFunc func(s State) (Delta, error)

// Transform calls f(s).
func (f TransformFunc) Transform(s State) (Delta, error) {
	return f(s)
}

// Func adapts an infallible function to Transformer.
//
// Example:
//
//	increment := state.Func(func(s state.State) state.Delta {
//	    n, _ := s.Get("count")
//	    return state.Delta{"count": n.(int) + 1}
//	})
func Func(fn func(s State) Delta) Transformer {
	return TransformFunc(func(s State) (Delta, error) {
		return fn(s), nil
	})
}
