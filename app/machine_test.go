package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/tailored-agentic-units/appstate/app"
	"github.com/tailored-agentic-units/appstate/observability"
	"github.com/tailored-agentic-units/appstate/pipeline"
	"github.com/tailored-agentic-units/appstate/state"
	"github.com/tailored-agentic-units/appstate/storage"
	"github.com/tailored-agentic-units/appstate/view"
	"github.com/tailored-agentic-units/appstate/watch"
)

type captureObserver struct {
	events []observability.Event
	mu     sync.Mutex
}

func (c *captureObserver) OnEvent(ctx context.Context, event observability.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureObserver) count(typ observability.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (c *captureObserver) last(typ observability.EventType) (observability.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == typ {
			return c.events[i], true
		}
	}
	return observability.Event{}, false
}

func newMachine(t *testing.T, cfg app.Config, initial map[string]any, opts ...app.Option) *app.Machine {
	t.Helper()
	if cfg.Observer == "" {
		cfg.Observer = "noop"
	}
	m, err := app.New(&cfg, initial, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func counterView(s state.State) *html.Node {
	n, _ := s.Get("count")
	return view.HTML("p", nil, view.Text(fmt.Sprint(n)))
}

func TestMachine_EndToEndCounter(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := view.NewRecorder()

	m := newMachine(t, app.Config{LocalStorageKey: "counter"},
		map[string]any{"count": 0},
		app.WithView(counterView),
		app.WithRenderer(rec),
		app.WithStore(store),
	)

	if got := rec.Last("body"); got != "<p>0</p>" {
		t.Errorf("initial render = %q, want <p>0</p>", got)
	}

	if err := m.Update(state.Delta{"count": 1}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if got := rec.Last("body"); got != "<p>1</p>" {
		t.Errorf("render = %q, want <p>1</p>", got)
	}
	if rec.Count() != 2 {
		t.Errorf("render count = %d, want 2", rec.Count())
	}

	raw, err := store.Get(context.Background(), "counter")
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if raw != `{"count":1}` {
		t.Errorf("snapshot = %s, want {\"count\":1}", raw)
	}
}

func TestMachine_PersistRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := app.Config{LocalStorageKey: "app"}

	first := newMachine(t, cfg, map[string]any{"a": 0}, app.WithStore(store))
	if err := first.Update(state.Delta{"a": 1, "b": 2}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	second := newMachine(t, cfg, map[string]any{"b": 9, "c": 3}, app.WithStore(store))

	want := map[string]any{"a": float64(1), "b": float64(2), "c": 3}
	if diff := cmp.Diff(want, second.State().Data); diff != "" {
		t.Errorf("restored state mismatch (-want +got):\n%s", diff)
	}
}

func TestMachine_BlockList(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newMachine(t,
		app.Config{LocalStorageKey: "app", LocalStorageBlackList: "token, secret"},
		map[string]any{"token": "t0", "secret": "s0", "name": "x"},
		app.WithStore(store),
	)

	if err := m.Update(state.Delta{"token": "t1", "secret": "s1", "name": "y"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	raw, err := store.Get(context.Background(), "app")
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(map[string]any{"name": "y"}, snapshot); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if v, _ := m.State().Get("token"); v != "t1" {
		t.Errorf("live token = %v, want t1", v)
	}
}

func TestMachine_DefaultStoreWhenKeyConfigured(t *testing.T) {
	m := newMachine(t, app.Config{LocalStorageKey: "app"}, nil)

	if err := m.Update(state.Delta{"x": 1}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestMachine_ConfigStorageBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := app.Config{
		LocalStorageKey: "app",
		Storage:         storage.Config{Backend: "file", Path: dir},
	}

	m := newMachine(t, cfg, nil)
	if err := m.Update(state.Delta{"x": "persisted"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	m.Close()

	again := newMachine(t, cfg, nil)
	if v, _ := again.State().Get("x"); v != "persisted" {
		t.Errorf("x = %v, want persisted", v)
	}
}

func TestMachine_RestoreFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Set(context.Background(), "app", "{not json")
	obs := &captureObserver{}

	m := newMachine(t, app.Config{LocalStorageKey: "app"},
		map[string]any{"count": 5},
		app.WithStore(store),
		app.WithObserver(obs),
	)

	if v, _ := m.State().Get("count"); v != 5 {
		t.Errorf("count = %v, want initial 5", v)
	}
	if obs.count(app.EventRestoreFailed) != 1 {
		t.Error("restore failure not reported")
	}
}

func TestMachine_ReservedNamesNeverData(t *testing.T) {
	m := newMachine(t, app.Config{}, map[string]any{
		"count":  1,
		"Update": "shadow",
		"Routes": "x",
	})

	if err := m.Update(state.Delta{"JSON": 1, "content": "c", "n": 2}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	want := map[string]any{"count": 1, "n": 2}
	if diff := cmp.Diff(want, m.State().Data); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestMachine_ConstructionKeysInInitialState(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := view.NewRecorder()

	m := newMachine(t, app.Config{}, map[string]any{
		"count":           0,
		"LocalStorageKey": "counter",
		"Element":         "#app",
		"View":            counterView,
		"Initiate":        map[string]any{"count": 10},
	}, app.WithStore(store), app.WithRenderer(rec))

	if got := rec.Last("#app"); got != "<p>10</p>" {
		t.Errorf("render = %q, want <p>10</p>", got)
	}

	m.Update(state.Delta{"count": 11})
	if raw, _ := store.Get(context.Background(), "counter"); raw != `{"count":11}` {
		t.Errorf("snapshot = %s", raw)
	}
}

func TestMachine_HookOrder(t *testing.T) {
	var order []string
	step := func(name string) state.Transformer {
		return state.Func(func(state.State) state.Delta {
			order = append(order, name)
			return nil
		})
	}

	m := newMachine(t, app.Config{}, nil,
		app.WithBefore(step("before")),
		app.WithAfter(step("after")),
	)

	if err := m.Update(step("first"), step("second")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	want := []string{"before", "first", "second", "after"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestMachine_Initiate(t *testing.T) {
	calls := 0
	m := newMachine(t, app.Config{}, map[string]any{"ready": false},
		app.WithInitiate(state.Func(func(state.State) state.Delta {
			calls++
			return state.Delta{"ready": true}
		})),
	)

	m.Update(state.Delta{"x": 1})
	m.Update(state.Delta{"x": 2})

	if calls != 1 {
		t.Errorf("initiate ran %d times, want 1", calls)
	}
	if v, _ := m.State().Get("ready"); v != true {
		t.Errorf("ready = %v, want true", v)
	}
}

func TestMachine_DerivedFieldsBeforeFirstRender(t *testing.T) {
	rec := view.NewRecorder()
	var seen []any

	m := newMachine(t, app.Config{}, map[string]any{"count": 2},
		app.WithCalculation("double", func(_ context.Context, s state.State) (state.Delta, error) {
			n, _ := s.Get("count")
			return state.Delta{"double": n.(int) * 2}, nil
		}, "count"),
		app.WithEffect("watch", func(_ context.Context, s state.State) {
			n, _ := s.Get("count")
			seen = append(seen, n)
		}, "count"),
		app.WithRenderer(rec),
		app.WithView(func(s state.State) *html.Node {
			d, _ := s.Get("double")
			return view.Text(fmt.Sprint("double ", d))
		}),
	)

	if got := rec.Last("body"); got != "double 4" {
		t.Errorf("initial render = %q, want double 4", got)
	}
	if rec.Count() != 1 {
		t.Errorf("rendered %d times during construction, want 1", rec.Count())
	}
	if diff := cmp.Diff([]any{2}, seen); diff != "" {
		t.Errorf("effect runs at construction (-want +got):\n%s", diff)
	}

	added, err := m.Calculate("double", func(context.Context, state.State) (state.Delta, error) {
		return nil, nil
	}, "count")
	if err != nil || added {
		t.Errorf("re-registering construction calculation: added=%v err=%v", added, err)
	}

	m.Update(state.Delta{"count": 5})
	if v, _ := m.State().Get("double"); v != 10 {
		t.Errorf("double = %v, want 10", v)
	}
}

func TestMachine_DerivedFieldsSeeInitiateAndRestore(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Set(context.Background(), "k", `{"count":3}`)

	m := newMachine(t, app.Config{LocalStorageKey: "k"}, map[string]any{"count": 0},
		app.WithStore(store),
		app.WithInitiate(state.Delta{"label": "ready"}),
		app.WithCalculation("summary", func(_ context.Context, s state.State) (state.Delta, error) {
			n, _ := s.Get("count")
			l, _ := s.Get("label")
			return state.Delta{"summary": fmt.Sprint(l, " ", n)}, nil
		}, "count,label"),
	)

	if v, _ := m.State().Get("summary"); v != "ready 3" {
		t.Errorf("summary = %v, want ready 3", v)
	}
}

func TestMachine_SetupRegistrationError(t *testing.T) {
	_, err := app.New(&app.Config{Observer: "noop"}, nil,
		app.WithEffect("", func(context.Context, state.State) {}, "count"),
	)
	if !errors.Is(err, watch.ErrEmptyID) {
		t.Errorf("got %v, want ErrEmptyID", err)
	}
}

func TestMachine_SetupHandle(t *testing.T) {
	var handle *app.Machine

	m := newMachine(t, app.Config{}, map[string]any{"n": 1},
		app.WithSetup(func(m *app.Machine) error {
			handle = m
			return nil
		}),
		app.WithInitiate(state.Func(func(state.State) state.Delta {
			handle.Effect("late", func(context.Context, state.State) {}, "n")
			return nil
		})),
	)

	if handle != m {
		t.Error("setup received a different machine")
	}
	if effects, _ := m.Registry().Len(); effects != 1 {
		t.Errorf("effects = %d, want 1 registered from initiate", effects)
	}
}

func TestMachine_UpdateContextCancelled(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := view.NewRecorder()
	m := newMachine(t, app.Config{LocalStorageKey: "k"}, map[string]any{"n": 0},
		app.WithStore(store),
		app.WithRenderer(rec),
		app.WithView(counterView),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.UpdateContext(ctx, state.Delta{"n": 1})
	var ue *app.UpdateError
	if !errors.As(err, &ue) || ue.Stage != app.StageBefore || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want cancelled before stage", err)
	}
	if v, _ := m.State().Get("n"); v != 0 {
		t.Errorf("n = %v, transformers ran after cancellation", v)
	}

	ctx, cancel = context.WithCancel(context.Background())
	renders := rec.Count()
	err = m.UpdateContext(ctx, state.Func(func(state.State) state.Delta {
		cancel()
		return state.Delta{"n": 2}
	}))
	if !errors.As(err, &ue) || ue.Stage != app.StageAfter {
		t.Fatalf("got %v, want cancelled at after stage", err)
	}
	if v, _ := m.State().Get("n"); v != 2 {
		t.Errorf("n = %v, want committed 2", v)
	}
	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Error("snapshot persisted after cancellation")
	}
	if rec.Count() != renders {
		t.Error("rendered after cancellation")
	}
}

func TestMachine_TransformerErrorKeepsEarlierChanges(t *testing.T) {
	sentinel := errors.New("bad input")
	m := newMachine(t, app.Config{}, nil)

	err := m.Update(
		state.Delta{"a": 1},
		state.TransformFunc(func(state.State) (state.Delta, error) { return nil, sentinel }),
		state.Delta{"c": 1},
	)

	var ue *app.UpdateError
	if !errors.As(err, &ue) || ue.Stage != app.StageTransform {
		t.Fatalf("got %v, want transform UpdateError", err)
	}
	var se *pipeline.StepError
	if !errors.As(err, &se) || se.Index != 1 {
		t.Errorf("got %v, want StepError at index 1", err)
	}
	if !errors.Is(err, sentinel) {
		t.Error("sentinel not wrapped")
	}

	if _, ok := m.State().Get("a"); !ok {
		t.Error("committed change rolled back")
	}
	if _, ok := m.State().Get("c"); ok {
		t.Error("transformer after failure ran")
	}
}

func TestMachine_PersistErrorAfterCommit(t *testing.T) {
	m := newMachine(t, app.Config{LocalStorageKey: "app"}, nil)

	err := m.Update(state.Delta{"fn": func() {}})

	var ue *app.UpdateError
	if !errors.As(err, &ue) || ue.Stage != app.StagePersist {
		t.Fatalf("got %v, want persist UpdateError", err)
	}
	var pe *app.PersistError
	if !errors.As(err, &pe) || pe.Key != "app" {
		t.Errorf("got %v, want PersistError for app", err)
	}
	if _, ok := m.State().Get("fn"); !ok {
		t.Error("in-memory state rolled back")
	}
}

func TestMachine_EffectsAndCalculations(t *testing.T) {
	m := newMachine(t, app.Config{}, map[string]any{"count": 0})

	var seen []int
	added, err := m.Effect("log", func(_ context.Context, s state.State) {
		n, _ := s.Get("count")
		seen = append(seen, n.(int))
	}, "count")
	if err != nil || !added {
		t.Fatalf("Effect = %v, %v", added, err)
	}

	added, _ = m.Effect("log", func(context.Context, state.State) {}, "count")
	if added {
		t.Error("duplicate effect registered")
	}

	m.Calculate("double", func(_ context.Context, s state.State) (state.Delta, error) {
		n, _ := s.Get("count")
		return state.Delta{"double": n.(int) * 2}, nil
	}, "count")

	m.Update(state.Delta{"count": 3})
	m.Update(state.Delta{"other": true})
	m.Update(state.Delta{"count": 4})

	if diff := cmp.Diff([]int{3, 4}, seen); diff != "" {
		t.Errorf("effect runs mismatch (-want +got):\n%s", diff)
	}
	if v, _ := m.State().Get("double"); v != 8 {
		t.Errorf("double = %v, want 8", v)
	}
}

func TestMachine_ReentrantUpdateFromEffect(t *testing.T) {
	rec := view.NewRecorder()
	var m *app.Machine
	m = newMachine(t, app.Config{}, nil,
		app.WithRenderer(rec),
		app.WithView(func(s state.State) *html.Node {
			return view.Text(fmt.Sprint(s.Len()))
		}),
	)

	m.Effect("sync", func(context.Context, state.State) {
		if err := m.Update(state.Delta{"b": 1}); err != nil {
			t.Errorf("nested Update failed: %v", err)
		}
	}, "a")

	if err := m.Update(state.Delta{"a": 1}, state.Delta{"c": 1}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	want := map[string]any{"a": 1, "b": 1, "c": 1}
	if diff := cmp.Diff(want, m.State().Data); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	if got := rec.Last("body"); got != "3" {
		t.Errorf("last render = %q, want 3", got)
	}
}

func TestMachine_Debug(t *testing.T) {
	obs := &captureObserver{}
	m := newMachine(t, app.Config{Debug: true}, nil, app.WithObserver(obs))

	m.Update(state.Delta{"x": 1})

	ev, ok := obs.last(app.EventDebugState)
	if !ok {
		t.Fatal("debug event not emitted")
	}
	if ev.Data["state"] != `{"x":1}` {
		t.Errorf("state = %v, want {\"x\":1}", ev.Data["state"])
	}
}

func TestMachine_JSON(t *testing.T) {
	m := newMachine(t, app.Config{}, map[string]any{"b": 2, "a": "x"})

	out, err := m.JSON()
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	if out != `{"a":"x","b":2}` {
		t.Errorf("got %s", out)
	}
}

func TestMachine_UnknownObserver(t *testing.T) {
	_, err := app.New(&app.Config{Observer: "missing"}, nil)
	if err == nil {
		t.Error("expected error for unknown observer")
	}
}

type fakeTimers struct {
	fns      map[uuid.UUID]func()
	interval map[uuid.UUID]time.Duration
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{
		fns:      make(map[uuid.UUID]func()),
		interval: make(map[uuid.UUID]time.Duration),
	}
}

func (f *fakeTimers) Every(d time.Duration, fn func()) (uuid.UUID, error) {
	id := uuid.New()
	f.fns[id] = fn
	f.interval[id] = d
	return id, nil
}

func (f *fakeTimers) After(d time.Duration, fn func()) (uuid.UUID, error) {
	return f.Every(d, fn)
}

func (f *fakeTimers) Cancel(id uuid.UUID) error {
	if _, ok := f.fns[id]; !ok {
		return errors.New("unknown timer")
	}
	delete(f.fns, id)
	return nil
}

func (f *fakeTimers) fire(id uuid.UUID) {
	if fn, ok := f.fns[id]; ok {
		fn()
	}
}

func TestMachine_ScheduleAndDelay(t *testing.T) {
	timers := newFakeTimers()
	m := newMachine(t, app.Config{}, map[string]any{"ticks": 0}, app.WithTimers(timers))

	tick := state.Func(func(s state.State) state.Delta {
		n, _ := s.Get("ticks")
		return state.Delta{"ticks": n.(int) + 1}
	})

	every, err := m.Schedule(time.Second, tick)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if timers.interval[every] != time.Second {
		t.Errorf("interval = %v, want 1s", timers.interval[every])
	}

	once, err := m.Delay(time.Minute, state.Delta{"done": true})
	if err != nil {
		t.Fatalf("Delay failed: %v", err)
	}

	timers.fire(every)
	timers.fire(every)
	timers.fire(once)

	if v, _ := m.State().Get("ticks"); v != 0 {
		t.Error("timer callback touched state before the task ran")
	}
	if m.Pending() != 3 {
		t.Errorf("pending = %d, want 3", m.Pending())
	}

	if n := m.Drain(); n != 3 {
		t.Errorf("drained %d tasks, want 3", n)
	}
	if v, _ := m.State().Get("ticks"); v != 2 {
		t.Errorf("ticks = %v, want 2", v)
	}
	if v, _ := m.State().Get("done"); v != true {
		t.Errorf("done = %v, want true", v)
	}

	if err := m.Cancel(every); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	timers.fire(every)
	if m.Pending() != 0 {
		t.Error("cancelled timer still posts tasks")
	}
}

func TestMachine_TaskErrorsReported(t *testing.T) {
	timers := newFakeTimers()
	obs := &captureObserver{}
	m := newMachine(t, app.Config{}, nil, app.WithTimers(timers), app.WithObserver(obs))

	id, _ := m.Delay(0, state.TransformFunc(func(state.State) (state.Delta, error) {
		return nil, errors.New("boom")
	}))
	timers.fire(id)
	m.Drain()

	if obs.count(app.EventTaskError) != 1 {
		t.Error("task error not reported")
	}
}

func TestMachine_Run(t *testing.T) {
	m := newMachine(t, app.Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	go m.Post(func() {
		m.Update(state.Delta{"ran": true})
		cancel()
	})

	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if v, _ := m.State().Get("ran"); v != true {
		t.Error("posted task did not run")
	}
}

func TestMachine_Close(t *testing.T) {
	m := newMachine(t, app.Config{}, nil)

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	m.Post(func() {})
	if m.Pending() != 0 {
		t.Error("task queued after Close")
	}
	if _, err := m.Schedule(time.Second); !errors.Is(err, app.ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}
