package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tailored-agentic-units/appstate/observability"
	"github.com/tailored-agentic-units/appstate/state"
	"github.com/tailored-agentic-units/appstate/storage"
)

// Update applies transformers and then persists and renders. It is
// UpdateContext with a background context.
func (m *Machine) Update(transformers ...state.Transformer) error {
	return m.UpdateContext(context.Background(), transformers...)
}

// UpdateContext runs, in order: the Before hook, transformers, the After hook,
// persistence, the debug dump and the render cycle. The first failing step
// stops the sequence and is returned as *UpdateError; changes committed by
// earlier steps stay committed.
//
// ctx is checked before each stage. A cancelled context stops the update at
// the next stage boundary with an *UpdateError wrapping ctx.Err(); a stage
// already running completes.
//
// Update may be called from inside an effect, calculation or route
// transformer. Callers are responsible for not creating update cycles.
func (m *Machine) UpdateContext(ctx context.Context, transformers ...state.Transformer) error {
	m.emit(ctx, EventUpdateStart, observability.LevelVerbose, map[string]any{
		"transformers": len(transformers),
	})

	if err := ctx.Err(); err != nil {
		return m.fail(ctx, StageBefore, err)
	}
	if m.before != nil {
		if err := m.pipeline.Apply(ctx, m.cell, m.before); err != nil {
			return m.fail(ctx, StageBefore, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return m.fail(ctx, StageTransform, err)
	}
	if err := m.pipeline.Apply(ctx, m.cell, transformers...); err != nil {
		return m.fail(ctx, StageTransform, err)
	}

	if err := ctx.Err(); err != nil {
		return m.fail(ctx, StageAfter, err)
	}
	if m.after != nil {
		if err := m.pipeline.Apply(ctx, m.cell, m.after); err != nil {
			return m.fail(ctx, StageAfter, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return m.fail(ctx, StagePersist, err)
	}
	if err := m.persist(ctx); err != nil {
		return m.fail(ctx, StagePersist, err)
	}

	if m.debug {
		m.dump(ctx)
	}

	if err := ctx.Err(); err != nil {
		return m.fail(ctx, StageRender, err)
	}
	if err := m.render(ctx); err != nil {
		return m.fail(ctx, StageRender, err)
	}

	m.emit(ctx, EventUpdateComplete, observability.LevelVerbose, map[string]any{
		"keys": m.cell.Load().Len(),
	})
	return nil
}

func (m *Machine) fail(ctx context.Context, stage Stage, err error) error {
	m.emit(ctx, EventError, observability.LevelError, map[string]any{
		"stage": string(stage),
		"error": err.Error(),
	})
	return &UpdateError{Stage: stage, Err: err}
}

// persist writes the snapshot minus block-listed keys. Serialization errors
// (funcs, channels, cycles) are reported, never dropped.
func (m *Machine) persist(ctx context.Context) error {
	if m.storageKey == "" || m.store == nil {
		return nil
	}

	data, err := json.Marshal(m.cell.Load().Snapshot(m.blocked...))
	if err != nil {
		return &PersistError{Key: m.storageKey, Err: err}
	}

	if err := m.store.Set(ctx, m.storageKey, string(data)); err != nil {
		return &PersistError{Key: m.storageKey, Err: err}
	}

	m.emit(ctx, EventPersist, observability.LevelVerbose, map[string]any{
		"key":   m.storageKey,
		"bytes": len(data),
	})
	return nil
}

// restore merges the persisted snapshot over s. Failures fall back to s and
// emit a warning.
func (m *Machine) restore(ctx context.Context, s state.State) state.State {
	if m.storageKey == "" || m.store == nil {
		return s
	}

	raw, err := m.store.Get(ctx, m.storageKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return s
	}
	if err != nil {
		m.restoreFailed(ctx, err)
		return s
	}

	var snapshot map[string]any
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		m.restoreFailed(ctx, fmt.Errorf("corrupt snapshot: %w", err))
		return s
	}

	delta := state.Delta(snapshot).Strip()
	m.emit(ctx, EventRestore, observability.LevelInfo, map[string]any{
		"key":  m.storageKey,
		"keys": delta.Keys(),
	})
	return s.Merge(delta)
}

func (m *Machine) restoreFailed(ctx context.Context, err error) {
	m.emit(ctx, EventRestoreFailed, observability.LevelWarning, map[string]any{
		"key":   m.storageKey,
		"error": err.Error(),
	})
}

func (m *Machine) dump(ctx context.Context) {
	out, err := m.JSON()
	if err != nil {
		m.emitError(ctx, EventDebugState, err)
		return
	}
	m.emit(ctx, EventDebugState, observability.LevelInfo, map[string]any{
		"state": out,
	})
}
