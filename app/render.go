package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/tailored-agentic-units/appstate/navigation"
	"github.com/tailored-agentic-units/appstate/observability"
)

// render resolves the current route, applies its transformer and view, and
// hands the top-level view to the renderer. An unmatched path keeps the
// previous content.
func (m *Machine) render(ctx context.Context) error {
	path := m.Path()

	if m.router != nil {
		match, ok := m.router.Resolve(path)
		if !ok {
			m.emit(ctx, EventRouteUnmatched, observability.LevelWarning, map[string]any{
				"path": path,
			})
		} else {
			if match.Route.Title != "" && m.title != nil {
				m.title.SetTitle(match.Route.Title)
			}
			if t := match.Transformer(); t != nil {
				if err := m.pipeline.Apply(ctx, m.cell, t); err != nil {
					return fmt.Errorf("route %s: %w", match.Path, err)
				}
			}
			if match.Route.View != nil {
				m.cell.Store(m.cell.Load().WithContent(match.Route.View(m.cell.Load())))
			}
		}
	}

	if m.view == nil || m.renderer == nil {
		return nil
	}

	if err := m.renderer.Render(m.element, m.view(m.cell.Load())); err != nil {
		return fmt.Errorf("render %s: %w", m.element, err)
	}

	m.emit(ctx, EventRender, observability.LevelVerbose, map[string]any{
		"path":    path,
		"element": m.element,
	})
	return nil
}

// Navigate returns an event handler that cancels the event's default action
// and moves to path. With an empty path the target is read from a
// navigation.Link event. Navigation errors are reported as events.
func (m *Machine) Navigate(path string) navigation.Handler {
	return func(ev navigation.Event) {
		if ev != nil {
			ev.PreventDefault()
		}
		target := path
		if target == "" {
			if link, ok := ev.(navigation.Link); ok {
				target = link.Href()
			}
		}
		if target == "" {
			m.emitError(context.Background(), EventError, errors.New("navigate: no target path"))
			return
		}
		if err := m.Go(target); err != nil {
			m.emitError(context.Background(), EventError, err)
		}
	}
}

// Go pushes path onto the history, makes it current and renders.
func (m *Machine) Go(path string) error {
	ctx := context.Background()

	if err := m.history.Push(path); err != nil {
		return fmt.Errorf("navigate to %s: %w", path, err)
	}
	m.setPath(path)

	m.emit(ctx, EventNavigate, observability.LevelInfo, map[string]any{
		"path": path,
	})

	if err := m.render(ctx); err != nil {
		return &UpdateError{Stage: StageRender, Err: err}
	}
	return nil
}
