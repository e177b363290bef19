package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "appstate"

// PrometheusObserver counts events by type and severity. Event data is not
// exported; label cardinality stays bounded by the set of event types.
type PrometheusObserver struct {
	events *prometheus.CounterVec
	errors prometheus.Counter
}

// NewPrometheusObserver creates a PrometheusObserver and registers its
// collectors with reg. A nil reg uses prometheus.DefaultRegisterer.
// Registering twice against the same registry reuses the existing collectors.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "events_total",
		Help:      "Events emitted by the state engine, by type and level.",
	}, []string{"type", "level"})

	errs := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "errors_total",
		Help:      "Events emitted at error level or above.",
	})

	var err error
	if events, err = registerOrReuse(reg, events); err != nil {
		return nil, err
	}
	if errs, err = registerOrReuse(reg, errs); err != nil {
		return nil, err
	}

	return &PrometheusObserver{events: events, errors: errs}, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metrics collector: %w", err)
	}
	return c, nil
}

func (o *PrometheusObserver) OnEvent(_ context.Context, event Event) {
	o.events.WithLabelValues(string(event.Type), event.Level.String()).Inc()
	if event.Level >= LevelError {
		o.errors.Inc()
	}
}

// MetricsHandler serves the metrics gathered by g in the OpenMetrics format.
// A nil g serves prometheus.DefaultGatherer.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
