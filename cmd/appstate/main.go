package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tailored-agentic-units/appstate/app"
	"github.com/tailored-agentic-units/appstate/observability"
	"github.com/tailored-agentic-units/appstate/publish"
	"github.com/tailored-agentic-units/appstate/router"
	"github.com/tailored-agentic-units/appstate/state"
	"github.com/tailored-agentic-units/appstate/storage"
	"github.com/tailored-agentic-units/appstate/view"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path (JSON or YAML)" type:"path"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`
	Storage string `help:"Storage backend: ${backends} (default file)"`
	Path    string `help:"Storage path, a directory for file or a database file for bolt and sqlite (default .appstate)"`
	Key     string `help:"Storage key the snapshot is written under (default counter)"`

	Run struct {
		Interval    time.Duration `short:"i" help:"Tick interval" default:"1s"`
		Ticks       int           `short:"n" help:"Stop after the count reaches this value; 0 runs until interrupted" default:"10"`
		Route       string        `short:"r" help:"Path to navigate to before ticking" default:"/"`
		NATSURL     string        `name:"nats-url" help:"Publish state changes to this NATS server"`
		Subject     string        `help:"NATS subject for state changes" default:"appstate.counter"`
		MetricsAddr string        `name:"metrics-addr" help:"Serve Prometheus metrics on this address"`
	} `cmd:"" default:"withargs" help:"Run the counter application"`

	Show struct{} `cmd:"" help:"Print the persisted snapshot"`

	Reset struct{} `cmd:"" help:"Delete the persisted snapshot"`

	Routes struct{} `cmd:"" help:"List the counter routes"`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("appstate"),
		kong.Description("Application-state engine demo."),
		kong.Vars{"backends": strings.Join(storage.Backends(), ", ")},
		kong.UsageOnError(),
	)

	slog.SetDefault(newLogger(CLI.Verbose))

	cfg, err := loadConfig(CLI.Config, app.Config{
		LocalStorageKey: CLI.Key,
		Storage:         storage.Config{Backend: CLI.Storage, Path: CLI.Path},
	})
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	switch ctx.Command() {
	case "run":
		err = runCounter(cfg)
	case "show":
		err = runShow(cfg)
	case "reset":
		err = runReset(cfg)
	case "routes":
		err = runRoutes()
	default:
		err = fmt.Errorf("unknown command %q", ctx.Command())
	}
	if err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}

// newLogger writes text to a terminal and JSON otherwise.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// counterDefaults holds the values used when neither the config file nor a
// flag sets them.
func counterDefaults() app.Config {
	cfg := app.DefaultConfig()
	cfg.Name = "counter"
	cfg.LocalStorageKey = "counter"
	cfg.Storage = storage.Config{Backend: "file", Path: ".appstate"}
	return cfg
}

// loadConfig layers the optional config file over the counter defaults and
// the flags that were set over both.
func loadConfig(file string, flags app.Config) (*app.Config, error) {
	cfg := counterDefaults()
	if file != "" {
		loaded, err := app.ReadConfig(file)
		if err != nil {
			return nil, err
		}
		cfg.Merge(loaded)
	}
	cfg.Merge(&flags)
	return &cfg, nil
}

func runCounter(cfg *app.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observer := observability.Observer(observability.NewSlogObserver(slog.Default()))
	opts := []app.Option{app.WithRenderer(&view.WriterRenderer{W: os.Stdout})}

	if CLI.Run.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics, err := observability.NewPrometheusObserver(reg)
		if err != nil {
			return err
		}
		observer = observability.NewMultiObserver(observer, metrics)

		srv := &http.Server{
			Addr:              CLI.Run.MetricsAddr,
			Handler:           observability.MetricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		slog.Info("Serving metrics", "addr", CLI.Run.MetricsAddr)
	}
	opts = append(opts, app.WithObserver(observer))

	m, err := newCounter(cfg, opts...)
	if err != nil {
		return err
	}
	defer m.Close()

	if CLI.Run.NATSURL != "" {
		conn, err := publish.Connect(CLI.Run.NATSURL, "appstate-"+m.ID())
		if err != nil {
			return err
		}
		defer conn.Close()

		emitter := publish.NewEmitter(conn, CLI.Run.Subject, observer, state.ParseBlockList(cfg.LocalStorageBlackList)...)
		if _, err := m.Effect("publish", emitter.Effect, "count,step"); err != nil {
			return err
		}
		slog.Info("Publishing state changes", "url", CLI.Run.NATSURL, "subject", emitter.Subject())
	}

	if CLI.Run.Ticks > 0 {
		target := CLI.Run.Ticks
		if _, err := m.Effect("stop", func(_ context.Context, s state.State) {
			if number(s, "count") >= target {
				stop()
			}
		}, "count"); err != nil {
			return err
		}
	}

	if err := m.Go(CLI.Run.Route); err != nil {
		return err
	}

	if _, err := m.Schedule(CLI.Run.Interval, tick); err != nil {
		return err
	}

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	out, err := m.JSON()
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func openStore(cfg *app.Config) (storage.Store, func(), error) {
	s, err := storage.NewStore(&cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, errors.New("no storage backend configured")
	}
	closer := func() {}
	if c, ok := s.(interface{ Close() error }); ok {
		closer = func() { c.Close() }
	}
	return s, closer, nil
}

func runShow(cfg *app.Config) error {
	s, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	raw, err := s.Get(context.Background(), cfg.LocalStorageKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		fmt.Println("{}")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(raw)
	return nil
}

func runReset(cfg *app.Config) error {
	s, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := s.Delete(context.Background(), cfg.LocalStorageKey); err != nil {
		return err
	}
	slog.Info("Snapshot deleted", "key", cfg.LocalStorageKey)
	return nil
}

func runRoutes() error {
	routes, err := counterRoutes()
	if err != nil {
		return err
	}
	r, err := router.New(routes...)
	if err != nil {
		return err
	}
	for _, p := range r.Routes() {
		fmt.Println(p)
	}
	return nil
}
