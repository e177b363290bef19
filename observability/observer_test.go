package observability_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/appstate/observability"
	"github.com/tailored-agentic-units/appstate/pipeline"
	"github.com/tailored-agentic-units/appstate/state"
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

func (c *captureObserver) types() []observability.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]observability.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

// counterPipeline registers an effect on count and a calculation deriving
// even from count, then applies a single count change.
func counterPipeline(t *testing.T, obs observability.Observer, transformers ...state.Transformer) error {
	t.Helper()

	reg := watch.NewRegistry()
	if _, err := reg.AddEffect("audit", func(context.Context, state.State) {}, watch.ParseList("count")); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.AddCalculation("parity", func(_ context.Context, s state.State) (state.Delta, error) {
		n, _ := s.Get("count")
		return state.Delta{"even": n.(int)%2 == 0}, nil
	}, watch.ParseList("count")); err != nil {
		t.Fatal(err)
	}

	_, err := pipeline.New(reg, obs).Run(context.Background(), state.New(nil), transformers...)
	return err
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("invalid log line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestSlogObserver_PipelineEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := counterPipeline(t, observability.NewSlogObserver(logger), state.Delta{"count": 2}); err != nil {
		t.Fatal(err)
	}

	lines := decodeLines(t, &buf)

	var msgs []string
	for _, l := range lines {
		msgs = append(msgs, l["msg"].(string))
	}
	want := []string{"pipeline.transform", "pipeline.effect", "pipeline.calculation"}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Fatalf("log messages mismatch (-want +got):\n%s", diff)
	}

	effect := lines[1]
	if effect["source"] != "pipeline" || effect["id"] != "audit" || effect["watch"] != "count" {
		t.Errorf("effect record = %v", effect)
	}
	if effect["level"] != "DEBUG" {
		t.Errorf("effect level = %v, want DEBUG", effect["level"])
	}

	calc := lines[2]
	if diff := cmp.Diff([]any{"even"}, calc["produced"]); diff != "" {
		t.Errorf("produced mismatch (-want +got):\n%s", diff)
	}
}

func TestSlogObserver_InfoLoggerOnlySeesFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	obs := observability.NewSlogObserver(logger)

	if err := counterPipeline(t, obs, state.Delta{"count": 1}); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("verbose pipeline events logged at info: %s", buf.String())
	}

	failing := state.TransformFunc(func(state.State) (state.Delta, error) {
		return nil, errors.New("boom")
	})
	if err := counterPipeline(t, obs, failing); err == nil {
		t.Fatal("expected transformer error")
	}

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["msg"] != "pipeline.error" || lines[0]["level"] != "ERROR" || lines[0]["error"] != "boom" {
		t.Errorf("error record = %v", lines[0])
	}
}

func TestSlogObserver_SortedAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	observability.NewSlogObserver(logger).OnEvent(context.Background(), observability.Event{
		Type:  "app.persist",
		Level: observability.LevelInfo,
		Data:  map[string]any{"key": "counter", "bytes": 12, "machine_id": "m1"},
	})

	out := buf.String()
	if strings.Contains(out, "source=") {
		t.Errorf("empty source logged: %s", out)
	}
	if !strings.Contains(out, "msg=app.persist bytes=12 key=counter machine_id=m1") {
		t.Errorf("attributes not sorted: %s", out)
	}
}

func TestSlogObserver_NilLoggerFollowsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	obs, err := observability.GetObserver("slog")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))

	obs.OnEvent(context.Background(), observability.Event{Type: "app.init", Level: observability.LevelInfo})

	if !strings.Contains(buf.String(), "msg=app.init") {
		t.Errorf("registered slog observer ignored the current default logger: %q", buf.String())
	}
}

func TestMultiObserver_FansOutPipelineEvents(t *testing.T) {
	a, b := &captureObserver{}, &captureObserver{}
	nested := observability.NewMultiObserver(b, observability.NoOpObserver{})
	multi := observability.NewMultiObserver(nil, a, nested, observability.NoOpObserver{})

	if multi.Len() != 2 {
		t.Errorf("Len() = %d, want 2 leaf observers", multi.Len())
	}

	if err := counterPipeline(t, multi, state.Delta{"count": 3}); err != nil {
		t.Fatal(err)
	}

	want := []observability.EventType{pipeline.EventTransform, pipeline.EventEffect, pipeline.EventCalculation}
	if diff := cmp.Diff(want, a.types()); diff != "" {
		t.Errorf("first observer (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, b.types()); diff != "" {
		t.Errorf("nested observer (-want +got):\n%s", diff)
	}
}

func TestRegistry(t *testing.T) {
	if _, err := observability.GetObserver("missing"); !errors.Is(err, observability.ErrUnknownObserver) {
		t.Errorf("GetObserver(missing) = %v, want ErrUnknownObserver", err)
	}

	custom := &captureObserver{}
	observability.RegisterObserver("capture", custom)

	names := observability.Observers()
	if diff := cmp.Diff([]string{"capture", "noop", "slog"}, names); diff != "" {
		t.Errorf("Observers() (-want +got):\n%s", diff)
	}

	obs, err := observability.GetObserver("capture")
	if err != nil {
		t.Fatal(err)
	}
	if err := counterPipeline(t, obs, state.Delta{"count": 4}); err != nil {
		t.Fatal(err)
	}
	if len(custom.types()) != 3 {
		t.Errorf("registered observer received %v", custom.types())
	}
}
