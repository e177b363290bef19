package state

import (
	"maps"
	"slices"
	"strings"
)

// State is an immutable snapshot of application data.
//
// Data holds the observable application fields. Content holds the sub-tree
// produced by the active route's view; it is transient and never persisted or
// treated as a data field. All operations return new State values, so a
// snapshot handed to a view, effect, or calculation is never modified behind
// its back.
type State struct {
	Data    map[string]any `json:"data"`
	Content any            `json:"-"`
}

// New creates a State from initial data. Reserved names are dropped and the
// input map is copied, so later changes to it do not leak into the snapshot.
func New(initial map[string]any) State {
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		if IsReserved(k) {
			continue
		}
		data[k] = v
	}
	return State{Data: data}
}

// Clone creates an independent shallow copy of the State.
func (s State) Clone() State {
	data := maps.Clone(s.Data)
	if data == nil {
		data = make(map[string]any)
	}
	return State{Data: data, Content: s.Content}
}

// Get retrieves a value by key.
func (s State) Get(key string) (any, bool) {
	val, exists := s.Data[key]
	return val, exists
}

// Set creates a new State with key set to value. Reserved names are ignored.
func (s State) Set(key string, value any) State {
	if IsReserved(key) {
		return s
	}
	next := s.Clone()
	next.Data[key] = value
	return next
}

// Merge creates a new State with delta overlaid onto the data. The overlay is
// shallow and last-write-wins; keys absent from delta keep their values.
// Reserved names in delta are ignored.
func (s State) Merge(delta Delta) State {
	next := s.Clone()
	for k, v := range delta {
		if IsReserved(k) {
			continue
		}
		next.Data[k] = v
	}
	return next
}

// WithContent creates a new State carrying the given routed sub-tree.
func (s State) WithContent(content any) State {
	next := s.Clone()
	next.Content = content
	return next
}

// Keys returns the data keys in sorted order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s.Data))
}

// Len returns the number of data keys.
func (s State) Len() int {
	return len(s.Data)
}

// Snapshot returns the persistable projection of the data: reserved names and
// every key in blocked are removed. The result is a fresh map.
func (s State) Snapshot(blocked ...string) map[string]any {
	out := make(map[string]any, len(s.Data))
	for k, v := range s.Data {
		if IsReserved(k) || slices.Contains(blocked, k) {
			continue
		}
		out[k] = v
	}
	return out
}

// ParseBlockList splits a comma-separated key list, trimming whitespace and
// dropping empty entries.
func ParseBlockList(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
