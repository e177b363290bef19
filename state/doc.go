// Package state defines the data model of the engine: immutable State
// snapshots, partial Deltas, and the Transformers that produce them.
//
// # State
//
// State wraps a map[string]any of application data. Operations never modify
// the receiver; they return new snapshots:
//
//	s := state.New(map[string]any{"count": 0})
//	s2 := s.Merge(state.Delta{"count": 1})
//	// s still has count=0, s2 has count=1
//
// # Transformers
//
// A Transformer is either a literal Delta or a function of the current State:
//
//	reset := state.Delta{"count": 0}
//	increment := state.Func(func(s state.State) state.Delta {
//	    n, _ := s.Get("count")
//	    return state.Delta{"count": n.(int) + 1}
//	})
//
// # Reserved Names
//
// Capability names (Update, Navigate, Schedule, ...) and construction keys
// (Routes, View, LocalStorageKey, ...) are never data. They are dropped from
// initial data, from transformer output, and from persisted snapshots. The
// routed sub-tree lives in State.Content, not under a data key.
package state
