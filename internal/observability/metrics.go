// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"Compounder/internal/model"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Cycle metrics
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	CycleErrors    prometheus.Counter
	Consolidations prometheus.Counter

	// Step metrics
	Checkpoints         *prometheus.CounterVec
	ConfirmationLatency *prometheus.HistogramVec

	// Balance metrics
	SpendableBalance prometheus.Gauge
	TokenBalance     prometheus.Gauge

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "compounder"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of compounding cycles by action",
		}, []string{"action"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Compounding cycle duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		CycleErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "errors_total",
			Help:      "Total number of failed compounding cycles",
		}),
		Consolidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "consolidation_transfers_total",
			Help:      "Total number of account-to-account consolidation transfers",
		}),

		Checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "steps_total",
			Help:      "Total number of ledger steps by step and status",
		}, []string{"step", "status"}),
		ConfirmationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "confirmation_seconds",
			Help:      "Time until a submitted step became visible",
			Buckets:   []float64{5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"step", "outcome"}),

		SpendableBalance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "spendable_balance",
			Help:      "Spendable base token balance seen at the last cycle",
		}),
		TokenBalance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "token_balance",
			Help:      "Account base token balance seen at the last cycle",
		}),

		LastSuccessfulCycle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last cycle that finished without error",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(r *model.CycleReport) {
	m.CyclesTotal.WithLabelValues(string(r.Action)).Inc()
	m.CycleDuration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	m.Consolidations.Add(float64(r.Consolidated))
	if r.Error != "" {
		m.CycleErrors.Inc()
		return
	}
	m.SpendableBalance.Set(r.Spendable.InexactFloat64())
	m.TokenBalance.Set(r.TokenBalance.InexactFloat64())
	m.LastSuccessfulCycle.Set(float64(r.FinishedAt.Unix()))
}

// ObserveCheckpoint counts a ledger step transition.
func (m *Metrics) ObserveCheckpoint(step string, status model.CheckpointStatus) {
	m.Checkpoints.WithLabelValues(step, string(status)).Inc()
}

// ObserveConfirmation records how long a confirmation wait took.
func (m *Metrics) ObserveConfirmation(step string, d time.Duration, err error) {
	outcome := "confirmed"
	if err != nil {
		outcome = "aborted"
	}
	m.ConfirmationLatency.WithLabelValues(step, outcome).Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
