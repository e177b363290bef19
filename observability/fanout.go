package observability

import "context"

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(context.Context, Event) {}

// MultiObserver delivers each event to several observers in order. The
// machine uses it to feed the same update stream to a logger and a metrics
// collector.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver fans out to observers. Nil and NoOpObserver entries are
// dropped and nested MultiObservers are flattened, so every leaf observer
// sees an event exactly once per emission.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	m := &MultiObserver{}
	for _, obs := range observers {
		m.add(obs)
	}
	return m
}

func (m *MultiObserver) add(obs Observer) {
	switch o := obs.(type) {
	case nil, NoOpObserver, *NoOpObserver:
	case *MultiObserver:
		if o != nil {
			m.observers = append(m.observers, o.observers...)
		}
	default:
		m.observers = append(m.observers, o)
	}
}

// Len returns the number of leaf observers.
func (m *MultiObserver) Len() int {
	return len(m.observers)
}

func (m *MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, obs := range m.observers {
		obs.OnEvent(ctx, event)
	}
}
