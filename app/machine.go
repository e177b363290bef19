// Package app implements the state machine that owns an application's state.
//
// A Machine holds exactly one live snapshot. Every change goes through the
// update pipeline, after which the machine persists the snapshot, resolves
// the current route and renders. Browser collaborators (history, title,
// render target, local storage) are injected ports.
//
//	m, err := app.New(&cfg, map[string]any{"count": 0},
//	    app.WithView(counterView),
//	    app.WithRenderer(renderer),
//	)
//	err = m.Update(state.Delta{"count": 1})
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/appstate/navigation"
	"github.com/tailored-agentic-units/appstate/observability"
	"github.com/tailored-agentic-units/appstate/pipeline"
	"github.com/tailored-agentic-units/appstate/router"
	"github.com/tailored-agentic-units/appstate/schedule"
	"github.com/tailored-agentic-units/appstate/state"
	"github.com/tailored-agentic-units/appstate/storage"
	"github.com/tailored-agentic-units/appstate/view"
	"github.com/tailored-agentic-units/appstate/watch"
)

// Machine owns a single application state and drives persistence, routing
// and rendering after every update.
type Machine struct {
	id      string
	name    string
	element string
	debug   bool

	storageKey string
	blocked    []string

	cell     *pipeline.Cell
	pipeline *pipeline.Pipeline
	registry *watch.Registry
	router   *router.Router

	routes   []router.Route
	view     router.View
	initiate state.Transformer
	before   state.Transformer
	after    state.Transformer
	setup    []func(*Machine) error

	store     storage.Store
	ownsStore bool
	history   navigation.History
	title     navigation.Title
	renderer  view.Renderer
	observer  observability.Observer

	timers     Timers
	ownsTimers bool
	timersMu   sync.Mutex

	path   string
	pathMu sync.RWMutex

	tasks   []func()
	tasksMu sync.Mutex
	wake    chan struct{}

	unsubscribe func()
	closed      bool
	closeMu     sync.Mutex
}

// New creates a Machine and runs the construction sequence: resolve the
// observer and store, register construction-time effects and calculations,
// build the router, build the initial state, merge any persisted snapshot
// over it, read the current path, apply Initiate, run one pass over every
// data field so derived fields exist, and render once.
//
// Construction keys present in initial (Routes, LocalStorageKey, View, ...)
// configure the machine and are never stored as data. Options take precedence
// over both cfg and those keys.
func New(cfg *Config, initial map[string]any, opts ...Option) (*Machine, error) {
	resolved := DefaultConfig()
	if cfg != nil {
		resolved.Merge(cfg)
	}
	opts = append(fromInitial(initial, &resolved), opts...)

	m := &Machine{
		id:         uuid.Must(uuid.NewV7()).String(),
		name:       resolved.Name,
		element:    resolved.Element,
		debug:      resolved.Debug,
		storageKey: resolved.LocalStorageKey,
		blocked:    state.ParseBlockList(resolved.LocalStorageBlackList),
		registry:   watch.NewRegistry(),
		wake:       make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(m)
	}

	if err := m.init(&resolved, initial); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Machine) init(cfg *Config, initial map[string]any) error {
	if m.observer == nil {
		obs, err := observability.GetObserver(cfg.Observer)
		if err != nil {
			return fmt.Errorf("failed to resolve observer: %w", err)
		}
		m.observer = obs
	}
	m.pipeline = pipeline.New(m.registry, m.observer)

	for _, fn := range m.setup {
		if err := fn(m); err != nil {
			return fmt.Errorf("setup failed: %w", err)
		}
	}

	if m.store == nil {
		store, err := storage.NewStore(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		m.store = store
		m.ownsStore = store != nil
	}
	if m.storageKey != "" && m.store == nil {
		m.store = storage.NewMemoryStore()
		m.ownsStore = true
	}

	if len(m.routes) > 0 {
		r, err := router.New(m.routes...)
		if err != nil {
			return fmt.Errorf("failed to build router: %w", err)
		}
		m.router = r
	}

	if m.history == nil {
		m.history = navigation.NewMemoryHistory("/")
	}

	ctx := context.Background()
	m.cell = pipeline.NewCell(m.restore(ctx, state.New(initial)))
	m.setPath(m.history.Path())

	m.unsubscribe = m.history.Subscribe(func(string) {
		m.Post(func() {
			m.setPath(m.history.Path())
			if err := m.render(ctx); err != nil {
				m.emitError(ctx, EventTaskError, err)
			}
		})
	})

	m.emit(ctx, EventInit, observability.LevelInfo, map[string]any{
		"name":    m.name,
		"path":    m.Path(),
		"keys":    m.cell.Load().Keys(),
		"routes":  len(m.routes),
		"persist": m.storageKey != "",
	})

	if m.initiate != nil {
		if err := m.pipeline.Apply(ctx, m.cell, m.initiate); err != nil {
			return fmt.Errorf("initiate failed: %w", err)
		}
	}

	if err := m.settle(ctx); err != nil {
		return fmt.Errorf("initial pass failed: %w", err)
	}

	if m.debug {
		m.dump(ctx)
	}

	if err := m.render(ctx); err != nil {
		return fmt.Errorf("initial render failed: %w", err)
	}
	return nil
}

// settle applies the whole data set as one delta, so every effect and
// calculation whose watch-list names an existing field runs against the
// constructed state. Skipped when nothing is registered.
func (m *Machine) settle(ctx context.Context) error {
	if effects, calcs := m.registry.Len(); effects+calcs == 0 {
		return nil
	}
	return m.pipeline.Apply(ctx, m.cell, state.Func(func(s state.State) state.Delta {
		return state.Delta(maps.Clone(s.Data))
	}))
}

// ID returns the unique machine identifier.
func (m *Machine) ID() string {
	return m.id
}

// State returns the current snapshot.
func (m *Machine) State() state.State {
	return m.cell.Load()
}

// JSON serializes the current state data.
func (m *Machine) JSON() (string, error) {
	data, err := json.Marshal(m.cell.Load().Snapshot())
	if err != nil {
		return "", fmt.Errorf("failed to serialize state: %w", err)
	}
	return string(data), nil
}

// Path returns the current path.
func (m *Machine) Path() string {
	m.pathMu.RLock()
	defer m.pathMu.RUnlock()
	return m.path
}

func (m *Machine) setPath(path string) {
	m.pathMu.Lock()
	defer m.pathMu.Unlock()
	m.path = path
}

// Registry returns the machine's effect and calculation registry.
func (m *Machine) Registry() *watch.Registry {
	return m.registry
}

// Effect registers fn to run when any property in watch (comma-separated)
// changes, or on every update when watch is empty. Reports whether a new
// entry was added; registering the same id and watch-list again is a no-op.
func (m *Machine) Effect(id string, fn watch.Effect, watchList string) (bool, error) {
	return m.registry.AddEffect(id, fn, watch.ParseList(watchList))
}

// Calculate registers a calculation whose output is merged into state when
// any property in watch changes.
func (m *Machine) Calculate(id string, fn watch.Calculation, watchList string) (bool, error) {
	return m.registry.AddCalculation(id, fn, watch.ParseList(watchList))
}

// Schedule runs Update(transformers...) every interval on the task queue
// until cancelled.
func (m *Machine) Schedule(interval time.Duration, transformers ...state.Transformer) (uuid.UUID, error) {
	timers, err := m.timerPort()
	if err != nil {
		return uuid.Nil, err
	}
	return timers.Every(interval, m.updateTask(transformers))
}

// Delay runs Update(transformers...) once on the task queue after timeout.
func (m *Machine) Delay(timeout time.Duration, transformers ...state.Transformer) (uuid.UUID, error) {
	timers, err := m.timerPort()
	if err != nil {
		return uuid.Nil, err
	}
	return timers.After(timeout, m.updateTask(transformers))
}

// Cancel stops a timer created by Schedule or Delay.
func (m *Machine) Cancel(id uuid.UUID) error {
	timers, err := m.timerPort()
	if err != nil {
		return err
	}
	return timers.Cancel(id)
}

func (m *Machine) updateTask(transformers []state.Transformer) func() {
	return func() {
		m.Post(func() {
			if err := m.Update(transformers...); err != nil {
				m.emitError(context.Background(), EventTaskError, err)
			}
		})
	}
}

func (m *Machine) timerPort() (Timers, error) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()

	if m.isClosed() {
		return nil, ErrClosed
	}
	if m.timers == nil {
		s, err := schedule.New()
		if err != nil {
			return nil, err
		}
		m.timers = s
		m.ownsTimers = true
	}
	return m.timers, nil
}

func (m *Machine) isClosed() bool {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	return m.closed
}

// Close stops history notifications, shuts down timers the machine created,
// and closes a store created from configuration. Pending tasks are dropped.
func (m *Machine) Close() error {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return nil
	}
	m.closed = true
	m.closeMu.Unlock()

	var errs []error

	if m.unsubscribe != nil {
		m.unsubscribe()
	}

	m.timersMu.Lock()
	if s, ok := m.timers.(*schedule.Scheduler); ok && m.ownsTimers {
		if err := s.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("shutdown timers: %w", err))
		}
	}
	m.timersMu.Unlock()

	if c, ok := m.store.(io.Closer); ok && m.ownsStore {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}

	m.tasksMu.Lock()
	m.tasks = nil
	m.tasksMu.Unlock()

	return errors.Join(errs...)
}

func (m *Machine) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	data["machine_id"] = m.id

	m.observer.OnEvent(ctx, observability.Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    m.name,
		Data:      data,
	})
}

func (m *Machine) emitError(ctx context.Context, typ observability.EventType, err error) {
	m.emit(ctx, typ, observability.LevelError, map[string]any{
		"error": err.Error(),
	})
}
