package navigation

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ErrNoEntry is returned by Back and Forward at either end of the history.
var ErrNoEntry = errors.New("no history entry")

// MemoryHistory is a History held in process memory.
type MemoryHistory struct {
	id          string
	entries     []string
	index       int
	subscribers map[uint64]func(string)
	next        uint64
	mu          sync.Mutex
}

// NewMemoryHistory creates a history positioned at initial. An empty initial
// path is treated as "/". Each history is assigned a UUIDv7 identifier.
func NewMemoryHistory(initial string) *MemoryHistory {
	if initial == "" {
		initial = "/"
	}
	return &MemoryHistory{
		id:          uuid.Must(uuid.NewV7()).String(),
		entries:     []string{initial},
		subscribers: make(map[uint64]func(string)),
	}
}

// ID returns the unique history identifier.
func (h *MemoryHistory) ID() string {
	return h.id
}

func (h *MemoryHistory) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index]
}

// Push discards any forward entries, then appends path.
func (h *MemoryHistory) Push(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries[:h.index+1], path)
	h.index++
	return nil
}

func (h *MemoryHistory) Subscribe(fn func(path string)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	h.subscribers[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subscribers, id)
	}
}

// Back moves to the previous entry and notifies subscribers.
func (h *MemoryHistory) Back() error {
	return h.move(-1)
}

// Forward moves to the next entry and notifies subscribers.
func (h *MemoryHistory) Forward() error {
	return h.move(1)
}

func (h *MemoryHistory) move(step int) error {
	h.mu.Lock()
	target := h.index + step
	if target < 0 || target >= len(h.entries) {
		h.mu.Unlock()
		return ErrNoEntry
	}
	h.index = target
	path := h.entries[target]

	keys := make([]uint64, 0, len(h.subscribers))
	for k := range h.subscribers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	subs := make([]func(string), 0, len(keys))
	for _, k := range keys {
		subs = append(subs, h.subscribers[k])
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(path)
	}
	return nil
}

// Entries returns a copy of the history entries.
func (h *MemoryHistory) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.entries)
}

// MemoryTitle records the last title set.
type MemoryTitle struct {
	title string
	mu    sync.RWMutex
}

func (t *MemoryTitle) SetTitle(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.title = title
}

// Title returns the last title set.
func (t *MemoryTitle) Title() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.title
}
