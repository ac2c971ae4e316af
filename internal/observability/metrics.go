// Package observability — metrics.go
//
// Prometheus metrics for the ldtcguard measurement harness.
//
// Endpoint: GET /metrics on 127.0.0.1:9096 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: ldtcguard_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process. Every metric below is a derived,
// already-public quantity (tick count, jitter, flips, invalidations,
// exporter emissions, audit chain length) — never raw L_loop/L_ex or their
// CIs, consistent with the LREG enclave boundary.
//
// Cardinality control:
//   - Method/event labels use small fixed string sets.
//   - No per-window or per-sample label (unbounded cardinality).
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for ldtcguard.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Scheduler ────────────────────────────────────────────────────────────

	// TicksTotal counts scheduler ticks delivered to the pipeline.
	TicksTotal prometheus.Counter

	// JitterSecondsHistogram records the distribution of per-tick jitter
	// (actual - nominal Δt), in seconds.
	JitterSecondsHistogram prometheus.Histogram

	// DtChangesTotal counts Δt mutation requests, by outcome.
	// Labels: outcome (accepted, refused)
	DtChangesTotal *prometheus.CounterVec

	// ─── Windows / estimators ─────────────────────────────────────────────────

	// WindowsMeasuredTotal counts completed window measurements.
	WindowsMeasuredTotal prometheus.Counter

	// MDbGauge is the most recent derived loop-dominance margin in dB.
	MDbGauge prometheus.Gauge

	// NC1PassTotal counts windows where NC1 held, by pass/fail.
	// Labels: pass (true, false)
	NC1PassTotal *prometheus.CounterVec

	// EstimatorFallbacksTotal counts TE/DI-to-KSG-MI proxy substitutions.
	EstimatorFallbacksTotal prometheus.Counter

	// ─── Partition ────────────────────────────────────────────────────────────

	// PartitionFlipsTotal counts accepted partition regrowth commits.
	PartitionFlipsTotal prometheus.Counter

	// PartitionSizeGauge is the current |C| (loop partition) size.
	PartitionSizeGauge prometheus.Gauge

	// ─── Smell tests ──────────────────────────────────────────────────────────

	// RunInvalidationsTotal counts run invalidations, by reason code.
	RunInvalidationsTotal *prometheus.CounterVec

	// ─── Refusal arbiter ──────────────────────────────────────────────────────

	// RefusalDecisionsTotal counts arbiter decisions, by reason.
	RefusalDecisionsTotal *prometheus.CounterVec

	// ─── Indicator exporter ───────────────────────────────────────────────────

	// IndicatorsExportedTotal counts signed indicator bundles written.
	IndicatorsExportedTotal prometheus.Counter

	// IndicatorsRateLimitedTotal counts emit attempts dropped by the rate
	// limiter.
	IndicatorsRateLimitedTotal prometheus.Counter

	// ─── Audit log ────────────────────────────────────────────────────────────

	// AuditAppendLatency records audit.Log.Append latency in seconds.
	AuditAppendLatency prometheus.Histogram

	// AuditChainLength is the current audit record counter.
	AuditChainLength prometheus.Gauge

	// ─── Agent ────────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since the run started.
	AgentUptimeSeconds prometheus.Gauge

	// startTime records when the run started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all ldtcguard Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ldtcguard",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total scheduler ticks delivered to the pipeline.",
		}),

		JitterSecondsHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ldtcguard",
			Subsystem: "scheduler",
			Name:      "jitter_seconds",
			Help:      "Per-tick jitter (actual minus nominal Δt), in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		DtChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ldtcguard",
			Subsystem: "scheduler",
			Name:      "dt_changes_total",
			Help:      "Total Δt mutation requests, by outcome.",
		}, []string{"outcome"}),

		WindowsMeasuredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ldtcguard",
			Subsystem: "window",
			Name:      "measured_total",
			Help:      "Total completed window measurements.",
		}),

		MDbGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ldtcguard",
			Subsystem: "metrics",
			Name:      "m_db",
			Help:      "Most recent loop-dominance margin M_db (derived; never raw L_loop/L_ex).",
		}),

		NC1PassTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ldtcguard",
			Subsystem: "metrics",
			Name:      "nc1_total",
			Help:      "Total NC1 decisions, by pass/fail.",
		}, []string{"pass"}),

		EstimatorFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ldtcguard",
			Subsystem: "estimators",
			Name:      "fallbacks_total",
			Help:      "Total TE/DI-to-KSG-MI proxy substitutions recorded this run.",
		}),

		PartitionFlipsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ldtcguard",
			Subsystem: "partition",
			Name:      "flips_total",
			Help:      "Total accepted partition regrowth commits.",
		}),

		PartitionSizeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ldtcguard",
			Subsystem: "partition",
			Name:      "loop_size",
			Help:      "Current size of the loop partition C.",
		}),

		RunInvalidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ldtcguard",
			Subsystem: "smelltest",
			Name:      "invalidations_total",
			Help:      "Total run invalidations, by reason code.",
		}, []string{"reason"}),

		RefusalDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ldtcguard",
			Subsystem: "arbiter",
			Name:      "decisions_total",
			Help:      "Total refusal-arbiter decisions, by reason.",
		}, []string{"reason"}),

		IndicatorsExportedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ldtcguard",
			Subsystem: "exporter",
			Name:      "exported_total",
			Help:      "Total signed indicator bundles written.",
		}),

		IndicatorsRateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ldtcguard",
			Subsystem: "exporter",
			Name:      "rate_limited_total",
			Help:      "Total indicator emit attempts dropped by the rate limiter.",
		}),

		AuditAppendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ldtcguard",
			Subsystem: "audit",
			Name:      "append_latency_seconds",
			Help:      "Audit log append latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		AuditChainLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ldtcguard",
			Subsystem: "audit",
			Name:      "chain_length",
			Help:      "Current audit record counter.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ldtcguard",
			Subsystem: "run",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the run started.",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.JitterSecondsHistogram,
		m.DtChangesTotal,
		m.WindowsMeasuredTotal,
		m.MDbGauge,
		m.NC1PassTotal,
		m.EstimatorFallbacksTotal,
		m.PartitionFlipsTotal,
		m.PartitionSizeGauge,
		m.RunInvalidationsTotal,
		m.RefusalDecisionsTotal,
		m.IndicatorsExportedTotal,
		m.IndicatorsRateLimitedTotal,
		m.AuditAppendLatency,
		m.AuditChainLength,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails. Binds to addr
// (e.g. "127.0.0.1:9096") and serves GET /metrics and GET /healthz.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
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

// updateUptime periodically updates the AgentUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
