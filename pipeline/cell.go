package pipeline

import (
	"sync"

	"github.com/tailored-agentic-units/appstate/state"
)

// Cell holds the current snapshot. Snapshots are immutable; the Cell only
// swaps which one is current.
type Cell struct {
	current state.State
	mu      sync.RWMutex
}

// NewCell creates a Cell holding s.
func NewCell(s state.State) *Cell {
	return &Cell{current: s}
}

// Load returns the current snapshot.
func (c *Cell) Load() state.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Store replaces the current snapshot.
func (c *Cell) Store(s state.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = s
}
