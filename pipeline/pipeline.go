// Package pipeline applies transformers to state and runs the effects and
// calculations that watch the properties they change.
//
// Apply works against a Cell rather than a value so that nested updates, such
// as an effect that calls back into the owning Machine, commit to the same
// snapshot holder. Each step reads the latest committed snapshot before it
// runs, so nothing a nested update writes is lost.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/tailored-agentic-units/appstate/observability"
	"github.com/tailored-agentic-units/appstate/state"
	"github.com/tailored-agentic-units/appstate/watch"
)

// Pipeline applies transformer sequences and triggers the registry.
type Pipeline struct {
	registry *watch.Registry
	observer observability.Observer
	source   string
}

// New creates a Pipeline over registry. A nil registry gets an empty one; a
// nil observer becomes NoOpObserver.
func New(registry *watch.Registry, observer observability.Observer) *Pipeline {
	if registry == nil {
		registry = watch.NewRegistry()
	}
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Pipeline{
		registry: registry,
		observer: observer,
		source:   "pipeline",
	}
}

// Registry returns the registry the pipeline triggers.
func (p *Pipeline) Registry() *watch.Registry {
	return p.registry
}

// Run applies transformers to s and returns the resulting snapshot. It is the
// value-in, value-out form of Apply. On error the returned snapshot holds every
// change committed before the failing step.
func (p *Pipeline) Run(ctx context.Context, s state.State, transformers ...state.Transformer) (state.State, error) {
	cell := NewCell(s)
	err := p.Apply(ctx, cell, transformers...)
	return cell.Load(), err
}

// Apply runs each transformer in order against the latest snapshot in cell.
//
// Per transformer:
//  1. Invoke it with the latest snapshot, strip reserved names, merge, commit
//  2. Run effects watching any changed key (or everything), in order
//  3. Run calculations in order; a calculation matches against the changed
//     keys plus the keys produced by earlier calculations in this pass
//
// There is no fixed-point iteration: a calculation never re-runs within one
// pass, so registration order decides what each one can see.
//
// With no transformers Apply is a no-op. Errors stop the sequence and are
// returned as *StepError; committed snapshots are not rolled back.
func (p *Pipeline) Apply(ctx context.Context, cell *Cell, transformers ...state.Transformer) error {
	for i, t := range transformers {
		if t == nil {
			continue
		}

		delta, err := t.Transform(cell.Load())
		if err != nil {
			return p.fail(ctx, &StepError{Kind: StepTransform, Index: i, Err: err})
		}

		delta = delta.Strip()
		cell.Store(cell.Load().Merge(delta))
		changed := delta.Keys()

		p.observer.OnEvent(ctx, observability.Event{
			Type:      EventTransform,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    p.source,
			Data: map[string]any{
				"index":   i,
				"changed": changed,
			},
		})

		p.runEffects(ctx, cell, changed)

		if err := p.runCalculations(ctx, cell, changed); err != nil {
			return p.fail(ctx, err)
		}
	}
	return nil
}

func (p *Pipeline) runEffects(ctx context.Context, cell *Cell, changed []string) {
	for _, e := range p.registry.Effects(changed) {
		p.observer.OnEvent(ctx, observability.Event{
			Type:      EventEffect,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    p.source,
			Data: map[string]any{
				"id":    e.ID,
				"watch": e.Watch.String(),
			},
		})

		e.Run(ctx, cell.Load())
	}
}

func (p *Pipeline) runCalculations(ctx context.Context, cell *Cell, changed []string) *StepError {
	seen := make(map[string]bool, len(changed))
	grown := make([]string, 0, len(changed))
	for _, k := range changed {
		seen[k] = true
		grown = append(grown, k)
	}

	for i, c := range p.registry.Calculations() {
		if !c.Watch.Matches(grown) {
			continue
		}

		delta, err := c.Run(ctx, cell.Load())
		if err != nil {
			return &StepError{Kind: StepCalculation, Index: i, ID: c.ID, Err: err}
		}

		delta = delta.Strip()
		cell.Store(cell.Load().Merge(delta))

		produced := delta.Keys()
		for _, k := range produced {
			if !seen[k] {
				seen[k] = true
				grown = append(grown, k)
			}
		}

		p.observer.OnEvent(ctx, observability.Event{
			Type:      EventCalculation,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    p.source,
			Data: map[string]any{
				"id":       c.ID,
				"watch":    c.Watch.String(),
				"produced": produced,
			},
		})
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, err *StepError) error {
	p.observer.OnEvent(ctx, observability.Event{
		Type:      EventError,
		Level:     observability.LevelError,
		Timestamp: time.Now(),
		Source:    p.source,
		Data: map[string]any{
			"kind":  string(err.Kind),
			"index": err.Index,
			"id":    err.ID,
			"error": err.Err.Error(),
		},
	})
	return err
}

// StepKind names the pipeline step that failed.
type StepKind string

const (
	StepTransform   StepKind = "transform"
	StepCalculation StepKind = "calculation"
)

// StepError captures which step of a pipeline pass failed.
type StepError struct {
	Kind  StepKind
	Index int
	ID    string
	Err   error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s failed: %v", e.Kind, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %d failed: %v", e.Kind, e.Index, e.Err)
}

// Unwrap enables error unwrapping for errors.Is and errors.As.
func (e *StepError) Unwrap() error {
	return e.Err
}
