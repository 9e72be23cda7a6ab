// Package telemetry provides Prometheus metrics, OpenTelemetry tracing setup,
// and correlation-id aware logging helpers.
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

	// Inbound pipeline counters
	EventsReceived     prometheus.Counter
	EventsRejected     prometheus.Counter // bad signature
	EventsDuplicate    prometheus.Counter
	EventsUnresolved   prometheus.Counter // no identity link
	EventsTranslated   prometheus.Counter
	CommandsSubmitted  prometheus.Counter
	CommandsDropped    prometheus.Counter // queue overflow
	ConsoleReconnects  prometheus.Counter
	ConsoleAuthFailure prometheus.Counter

	// Outbound pipeline counters
	LogLinesRead      prometheus.Counter
	LogRotations      prometheus.Counter
	ChatDelivered     prometheus.Counter
	ChatDeliveryError prometheus.Counter

	// Histograms (seconds)
	CommandDuration prometheus.Observer

	// Gauges
	CommandQueueDepth prometheus.Gauge
	ConsoleReady      prometheus.Gauge // 1=ready,0=not ready
	TailOffset        prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_events_received_total", Help: "Webhook deliveries received"})
		EventsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_events_rejected_total", Help: "Webhook deliveries rejected for invalid signature"})
		EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_events_duplicate_total", Help: "Webhook deliveries dropped as duplicates"})
		EventsUnresolved = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_events_unresolved_total", Help: "Events dropped because no identity link exists"})
		EventsTranslated = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_events_translated_total", Help: "Events translated into at least one console command"})
		CommandsSubmitted = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_commands_submitted_total", Help: "Console commands successfully executed"})
		CommandsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_commands_dropped_total", Help: "Console commands dropped due to queue overflow"})
		ConsoleReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_console_reconnects_total", Help: "Console session reconnect attempts"})
		ConsoleAuthFailure = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_console_auth_failures_total", Help: "Console authentication rejections (fatal)"})
		LogLinesRead = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_log_lines_total", Help: "Game log lines read by the tailer"})
		LogRotations = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_log_rotations_total", Help: "Game log rotations/truncations detected"})
		ChatDelivered = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_chat_delivered_total", Help: "Outbound chat messages delivered"})
		ChatDeliveryError = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_chat_delivery_errors_total", Help: "Outbound chat delivery failures"})
		CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_command_duration_seconds", Help: "Console command round-trip duration seconds", Buckets: prometheus.DefBuckets})
		CommandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_command_queue_depth", Help: "Commands waiting in the console queue"})
		ConsoleReady = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_console_ready", Help: "Console session ready=1 not-ready=0"})
		TailOffset = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_tail_offset_bytes", Help: "Current byte offset into the game log"})
	})
}

// SetConsoleReady sets the console readiness gauge.
func SetConsoleReady(ready bool) {
	if ConsoleReady != nil {
		if ready {
			ConsoleReady.Set(1)
		} else {
			ConsoleReady.Set(0)
		}
	}
}

// SetQueueDepth records the current console command queue depth.
func SetQueueDepth(n int) {
	if CommandQueueDepth != nil {
		CommandQueueDepth.Set(float64(n))
	}
}

// SetTailOffset records the tailer's current byte offset.
func SetTailOffset(n int64) {
	if TailOffset != nil {
		TailOffset.Set(float64(n))
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

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
