// Package metrics exposes Prometheus metrics for the insider-risk
// pipeline on a dedicated registry (never the global default, to avoid
// collisions with other instrumented libraries sharing the process).
//
// Metric naming convention: irm_<subsystem>_<name>_<unit>.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric descriptor for the daemon.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Ingestion ────────────────────────────────────────────────────────────

	IngestRequestsTotal  *prometheus.CounterVec // labels: source_key, status
	IngestLatency        prometheus.Histogram
	RateLimitRejections  *prometheus.CounterVec // labels: source_key

	// ─── Baseline ─────────────────────────────────────────────────────────────

	BaselineComputeTotal   *prometheus.CounterVec // labels: result (ok, error, defaulted)
	BaselineComputeLatency prometheus.Histogram

	// ─── Scoring ──────────────────────────────────────────────────────────────

	ScoringRunsTotal   *prometheus.CounterVec // labels: result
	ScoringRuleHits    *prometheus.CounterVec // labels: rule_key
	RiskScoreHistogram prometheus.Histogram

	// ─── Alerting ─────────────────────────────────────────────────────────────

	AlertsCreatedTotal     *prometheus.CounterVec // labels: severity
	AlertsDeduplicatedTotal prometheus.Counter

	// ─── Scheduler ────────────────────────────────────────────────────────────

	JobRunsTotal  *prometheus.CounterVec // labels: job, result
	JobSkippedTotal *prometheus.CounterVec // labels: job (overlap skip)

	// ─── Retention ────────────────────────────────────────────────────────────

	RetentionEventsDeletedTotal prometheus.Counter

	// ─── Process ──────────────────────────────────────────────────────────────

	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// New creates and registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		IngestRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irm",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Total ingestion requests, by source key and outcome status.",
		}, []string{"source_key", "status"}),

		IngestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "irm",
			Subsystem: "ingest",
			Name:      "latency_seconds",
			Help:      "Ingestion request handling latency.",
			Buckets:   prometheus.DefBuckets,
		}),

		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irm",
			Subsystem: "ingest",
			Name:      "rate_limit_rejections_total",
			Help:      "Total requests rejected by the rate limiter, by source key.",
		}, []string{"source_key"}),

		BaselineComputeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irm",
			Subsystem: "baseline",
			Name:      "compute_total",
			Help:      "Total baseline computations, by result.",
		}, []string{"result"}),

		BaselineComputeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "irm",
			Subsystem: "baseline",
			Name:      "compute_latency_seconds",
			Help:      "Baseline computation latency.",
			Buckets:   prometheus.DefBuckets,
		}),

		ScoringRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irm",
			Subsystem: "scoring",
			Name:      "runs_total",
			Help:      "Total scoring passes, by result.",
		}, []string{"result"}),

		ScoringRuleHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irm",
			Subsystem: "scoring",
			Name:      "rule_hits_total",
			Help:      "Total times each rule contributed points, by rule key.",
		}, []string{"rule_key"}),

		RiskScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "irm",
			Subsystem: "scoring",
			Name:      "total_score",
			Help:      "Distribution of computed total risk scores.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		AlertsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irm",
			Subsystem: "alerting",
			Name:      "created_total",
			Help:      "Total alerts created, by severity.",
		}, []string{"severity"}),

		AlertsDeduplicatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "irm",
			Subsystem: "alerting",
			Name:      "deduplicated_total",
			Help:      "Total alert-worthy scores suppressed by deduplication.",
		}),

		JobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irm",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total scheduled job runs, by job name and result.",
		}, []string{"job", "result"}),

		JobSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "irm",
			Subsystem: "scheduler",
			Name:      "job_skipped_total",
			Help:      "Total ticks skipped because the previous run was still in flight.",
		}, []string{"job"}),

		RetentionEventsDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "irm",
			Subsystem: "retention",
			Name:      "events_deleted_total",
			Help:      "Total events deleted by retention sweeps.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "irm",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Seconds since the daemon started.",
		}),
	}

	reg.MustRegister(
		m.IngestRequestsTotal,
		m.IngestLatency,
		m.RateLimitRejections,
		m.BaselineComputeTotal,
		m.BaselineComputeLatency,
		m.ScoringRunsTotal,
		m.ScoringRuleHits,
		m.RiskScoreHistogram,
		m.AlertsCreatedTotal,
		m.AlertsDeduplicatedTotal,
		m.JobRunsTotal,
		m.JobSkippedTotal,
		m.RetentionEventsDeletedTotal,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the http.Handler serving this registry's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Serve starts a loopback-bindable metrics+health HTTP server. Blocks
// until ctx is cancelled or the server fails.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
