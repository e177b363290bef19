package watch

import (
	"slices"
	"strings"
)

// List is a set of watched property names in canonical (sorted, unique)
// order. An empty List watches everything.
type List []string

// ParseList parses a comma-separated watch-list such as "a, b". Whitespace is
// trimmed, empty entries are dropped, and the result is sorted and
// deduplicated so "b,a" and "a,b" are the same list.
func ParseList(s string) List {
	return NewList(strings.Split(s, ",")...)
}

// NewList builds a canonical List from property names.
func NewList(names ...string) List {
	out := make(List, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// String returns the comma-joined form used as part of a registration's
// identity.
func (l List) String() string {
	return strings.Join(l, ",")
}

// All reports whether the list watches every property.
func (l List) All() bool {
	return len(l) == 0
}

// Matches reports whether the list is empty or names any property in changed.
func (l List) Matches(changed []string) bool {
	if l.All() {
		return true
	}
	for _, name := range changed {
		if _, found := slices.BinarySearch(l, name); found {
			return true
		}
	}
	return false
}
