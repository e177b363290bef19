// Package publish emits state changes to a NATS subject. An Emitter's Effect
// method is registered with the machine like any other effect.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tailored-agentic-units/appstate/observability"
	"github.com/tailored-agentic-units/appstate/state"
)

// EventFailed is emitted when a snapshot cannot be published.
const EventFailed observability.EventType = "publish.failed"

// Publisher sends a message to a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials a NATS server.
func Connect(url string, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Message is the payload published for each state change.
type Message struct {
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Emitter publishes the persistable projection of each state it sees.
type Emitter struct {
	pub      Publisher
	subject  string
	blocked  []string
	observer observability.Observer
}

// NewEmitter creates an Emitter. Keys in blocked are left out of published
// messages. A nil observer discards failure events.
func NewEmitter(pub Publisher, subject string, observer observability.Observer, blocked ...string) *Emitter {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Emitter{
		pub:      pub,
		subject:  subject,
		blocked:  blocked,
		observer: observer,
	}
}

// Subject returns the subject messages are published on.
func (e *Emitter) Subject() string {
	return e.subject
}

// Publish sends s to the subject.
func (e *Emitter) Publish(s state.State) error {
	data, err := json.Marshal(Message{
		Timestamp: time.Now().UTC(),
		Data:      s.Snapshot(e.blocked...),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := e.pub.Publish(e.subject, data); err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}
	return nil
}

// Effect publishes s, reporting failures as events since effects return
// nothing.
func (e *Emitter) Effect(ctx context.Context, s state.State) {
	if err := e.Publish(s); err != nil {
		e.observer.OnEvent(ctx, observability.Event{
			Type:      EventFailed,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "publish",
			Data: map[string]any{
				"subject": e.subject,
				"error":   err.Error(),
			},
		})
	}
}
