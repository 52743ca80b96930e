package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter publishes live process counters in Prometheus format. It
// owns its registry so the default one stays untouched.
type Exporter struct {
	registry *prometheus.Registry

	messagesIngested *prometheus.CounterVec
	generations      *prometheus.CounterVec
	generationErrors *prometheus.CounterVec
	filterBlocks     *prometheus.CounterVec
	inferenceLatency *prometheus.HistogramVec

	connState    prometheus.Gauge
	serviceState prometheus.Gauge
	circuitState prometheus.Gauge
}

// NewExporter creates and registers the metric set.
func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()
	e := &Exporter{registry: registry}

	e.messagesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clank",
			Subsystem: "chat",
			Name:      "messages_ingested_total",
			Help:      "Messages accepted into the transcript",
		},
		[]string{"channel"},
	)

	e.generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clank",
			Subsystem: "chat",
			Name:      "generations_total",
			Help:      "Messages emitted, by generation kind",
		},
		[]string{"channel", "kind"},
	)

	e.generationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clank",
			Subsystem: "chat",
			Name:      "generation_errors_total",
			Help:      "Failed generation attempts, by reason",
		},
		[]string{"channel", "kind", "reason"},
	)

	e.filterBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clank",
			Subsystem: "chat",
			Name:      "filter_blocks_total",
			Help:      "Messages blocked by the content filter, by direction",
		},
		[]string{"channel", "direction"},
	)

	e.inferenceLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clank",
			Subsystem: "inference",
			Name:      "latency_seconds",
			Help:      "Inference request latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model", "kind"},
	)

	e.connState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "clank",
		Subsystem: "transport",
		Name:      "connection_state",
		Help:      "Transport connection state (0 disconnected .. 4 failed)",
	})

	e.serviceState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "clank",
		Subsystem: "inference",
		Name:      "service_state",
		Help:      "Inference service state (0 healthy .. 3 recovering)",
	})

	e.circuitState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "clank",
		Subsystem: "store",
		Name:      "circuit_open",
		Help:      "1 when the persistence circuit breaker is open",
	})

	registry.MustRegister(
		e.messagesIngested,
		e.generations,
		e.generationErrors,
		e.filterBlocks,
		e.inferenceLatency,
		e.connState,
		e.serviceState,
		e.circuitState,
	)
	return e
}

func (e *Exporter) ObserveIngest(channel string) {
	e.messagesIngested.WithLabelValues(channel).Inc()
}

func (e *Exporter) ObserveGeneration(channel, kind, model string, latency time.Duration, errReason string) {
	e.inferenceLatency.WithLabelValues(model, kind).Observe(latency.Seconds())
	if errReason == "" {
		e.generations.WithLabelValues(channel, kind).Inc()
		return
	}
	e.generationErrors.WithLabelValues(channel, kind, errReason).Inc()
}

func (e *Exporter) ObserveFilterBlock(channel, direction string) {
	e.filterBlocks.WithLabelValues(channel, direction).Inc()
}

func (e *Exporter) SetConnState(state int)    { e.connState.Set(float64(state)) }
func (e *Exporter) SetServiceState(state int) { e.serviceState.Set(float64(state)) }
func (e *Exporter) SetCircuitOpen(open bool) {
	if open {
		e.circuitState.Set(1)
	} else {
		e.circuitState.Set(0)
	}
}

// Serve runs the scrape endpoint at addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
