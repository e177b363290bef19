package app

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/tailored-agentic-units/appstate/navigation"
	"github.com/tailored-agentic-units/appstate/observability"
	"github.com/tailored-agentic-units/appstate/router"
	"github.com/tailored-agentic-units/appstate/state"
	"github.com/tailored-agentic-units/appstate/storage"
	"github.com/tailored-agentic-units/appstate/view"
	"github.com/tailored-agentic-units/appstate/watch"
)

// Timers runs deferred callbacks for Schedule and Delay. The default is a
// schedule.Scheduler created on first use.
type Timers interface {
	Every(interval time.Duration, fn func()) (uuid.UUID, error)
	After(timeout time.Duration, fn func()) (uuid.UUID, error)
	Cancel(id uuid.UUID) error
}

// Option configures a Machine before its construction sequence runs.
// Options override both Config and construction keys found in the initial
// state.
type Option func(*Machine)

// WithRoutes sets the route table.
func WithRoutes(routes ...router.Route) Option {
	return func(m *Machine) { m.routes = routes }
}

// WithView sets the top-level view.
func WithView(v router.View) Option {
	return func(m *Machine) { m.view = v }
}

// WithInitiate sets the transformer run once during construction.
func WithInitiate(t state.Transformer) Option {
	return func(m *Machine) { m.initiate = t }
}

// WithBefore sets the transformer run before the caller's transformers on
// every update.
func WithBefore(t state.Transformer) Option {
	return func(m *Machine) { m.before = t }
}

// WithAfter sets the transformer run after the caller's transformers on
// every update.
func WithAfter(t state.Transformer) Option {
	return func(m *Machine) { m.after = t }
}

// WithEffect registers an effect during construction, before Initiate and
// the first render. watchList has the same form as in Machine.Effect.
func WithEffect(id string, fn watch.Effect, watchList string) Option {
	return WithSetup(func(m *Machine) error {
		_, err := m.Effect(id, fn, watchList)
		return err
	})
}

// WithCalculation registers a calculation during construction. Its output is
// present in the state the first render sees.
func WithCalculation(id string, fn watch.Calculation, watchList string) Option {
	return WithSetup(func(m *Machine) error {
		_, err := m.Calculate(id, fn, watchList)
		return err
	})
}

// WithSetup runs fn during construction, after the observer and registry
// exist and before the initial state is built. fn may register effects and
// calculations or keep m for use inside transformers; it must not call
// Update. Setup functions run in option order.
func WithSetup(fn func(m *Machine) error) Option {
	return func(m *Machine) { m.setup = append(m.setup, fn) }
}

// WithStore overrides the config-created store.
func WithStore(s storage.Store) Option {
	return func(m *Machine) { m.store = s }
}

// WithHistory overrides the default in-memory history.
func WithHistory(h navigation.History) Option {
	return func(m *Machine) { m.history = h }
}

// WithTitle sets the document-title port.
func WithTitle(t navigation.Title) Option {
	return func(m *Machine) { m.title = t }
}

// WithRenderer sets the render port.
func WithRenderer(r view.Renderer) Option {
	return func(m *Machine) { m.renderer = r }
}

// WithTimers overrides the default gocron-backed timers.
func WithTimers(t Timers) Option {
	return func(m *Machine) { m.timers = t }
}

// WithObserver overrides the config-selected observer.
func WithObserver(o observability.Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// fromInitial reads construction keys carried in the initial state. Scalar
// keys are merged into cfg; function-valued keys become Options. Values of
// the wrong type are ignored.
func fromInitial(initial map[string]any, cfg *Config) []Option {
	var opts []Option

	if v, ok := initial[state.KeyLocalStorageKey].(string); ok {
		cfg.LocalStorageKey = v
	}
	if v, ok := initial[state.KeyLocalStorageBlackList].(string); ok {
		cfg.LocalStorageBlackList = v
	}
	if v, ok := initial[state.KeyDebug].(bool); ok {
		cfg.Debug = v
	}
	if v, ok := initial[state.KeyElement].(string); ok && v != "" {
		cfg.Element = v
	}

	if routes, ok := initial[state.KeyRoutes].([]router.Route); ok {
		opts = append(opts, WithRoutes(routes...))
	}
	if v := asView(initial[state.KeyView]); v != nil {
		opts = append(opts, WithView(v))
	}
	if t := asTransformer(initial[state.KeyInitiate]); t != nil {
		opts = append(opts, WithInitiate(t))
	}
	if t := asTransformer(initial[state.KeyBefore]); t != nil {
		opts = append(opts, WithBefore(t))
	}
	if t := asTransformer(initial[state.KeyAfter]); t != nil {
		opts = append(opts, WithAfter(t))
	}
	return opts
}

func asView(v any) router.View {
	switch fn := v.(type) {
	case router.View:
		return fn
	case func(state.State) *html.Node:
		return fn
	}
	return nil
}

func asTransformer(v any) state.Transformer {
	switch t := v.(type) {
	case state.Transformer:
		return t
	case map[string]any:
		return state.Delta(t)
	case func(state.State) state.Delta:
		return state.Func(t)
	case func(state.State) (state.Delta, error):
		return state.TransformFunc(t)
	}
	return nil
}
