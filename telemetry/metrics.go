// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	HandshakesStarted   prometheus.Counter
	HandshakesCompleted prometheus.Counter
	HandshakesFailed    prometheus.Counter
	MediaUploads        prometheus.Counter
	MediaUploadsFailed  prometheus.Counter
	UpstreamErrors      prometheus.Counter

	// Commands dispatched, labelled by command kind and outcome (ok|error).
	CommandsDispatched *prometheus.CounterVec

	// Histograms (seconds)
	DispatchDuration prometheus.Observer

	// Gauges
	LinkedAccountsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		HandshakesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "tender_handshakes_started_total", Help: "Number of OAuth handshakes started"})
		HandshakesCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "tender_handshakes_completed_total", Help: "Number of OAuth handshakes completed"})
		HandshakesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "tender_handshakes_failed_total", Help: "Number of OAuth handshakes failed"})
		MediaUploads = promauto.NewCounter(prometheus.CounterOpts{Name: "tender_media_uploads_total", Help: "Number of media uploads attempted"})
		MediaUploadsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "tender_media_uploads_failed_total", Help: "Number of media uploads failed"})
		UpstreamErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "tender_upstream_errors_total", Help: "Number of upstream API error responses"})
		CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tender_commands_dispatched_total", Help: "Number of chat commands dispatched"}, []string{"kind", "outcome"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tender_dispatch_duration_seconds", Help: "Command dispatch duration seconds", Buckets: prometheus.DefBuckets})
		LinkedAccountsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tender_linked_accounts", Help: "Current number of linked accounts"})
	})
}

// ObserveCommand records one dispatched command by kind and outcome.
func ObserveCommand(kind string, err error) {
	if CommandsDispatched == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CommandsDispatched.WithLabelValues(kind, outcome).Inc()
}

// SetLinkedAccounts records the current linked-account count.
func SetLinkedAccounts(n int) {
	if LinkedAccountsGauge != nil {
		LinkedAccountsGauge.Set(float64(n))
	}
}

// ObserveDispatchDuration records how long one command dispatch took.
func ObserveDispatchDuration(d time.Duration) {
	if DispatchDuration != nil {
		DispatchDuration.Observe(d.Seconds())
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
