// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	IPCCommands      prometheus.Counter
	IPCCommandErrors prometheus.Counter
	IPCReconnects    prometheus.Counter
	IPCEvents        prometheus.Counter
	PagesFetched     prometheus.Counter
	FetchErrors      prometheus.Counter
	BufferTrims      prometheus.Counter
	MessagesPrinted  prometheus.Counter
	PrinterResyncs   prometheus.Counter
	PrinterJumps     prometheus.Counter

	// Histograms (seconds)
	FetchPassDuration prometheus.Observer

	// Gauges
	MessagesBuffered prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		IPCCommands = promauto.NewCounter(prometheus.CounterOpts{Name: "mpv_ipc_commands_total", Help: "Number of IPC commands sent to the player"})
		IPCCommandErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "mpv_ipc_command_errors_total", Help: "Number of IPC commands that failed or timed out"})
		IPCReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "mpv_ipc_reconnects_total", Help: "Number of IPC socket connect attempts after the first"})
		IPCEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "mpv_ipc_events_total", Help: "Number of event messages dispatched to handlers"})
		PagesFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_pages_fetched_total", Help: "Number of comment pages fetched from the chat API"})
		FetchErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_fetch_errors_total", Help: "Number of failed chat fetch passes"})
		BufferTrims = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_buffer_trims_total", Help: "Number of times old messages were trimmed from the buffer"})
		MessagesPrinted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_printed_total", Help: "Number of chat messages printed"})
		PrinterResyncs = promauto.NewCounter(prometheus.CounterOpts{Name: "printer_resyncs_total", Help: "Number of playback position resyncs"})
		PrinterJumps = promauto.NewCounter(prometheus.CounterOpts{Name: "printer_jumps_total", Help: "Number of resyncs treated as discontinuities (seeks)"})
		FetchPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_fetch_pass_duration_seconds", Help: "Duration of a full chat fetch pass", Buckets: prometheus.DefBuckets})
		MessagesBuffered = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_messages_buffered", Help: "Current number of chat messages held in the buffer"})
	})
}

// SetBufferSize records the current buffered message count.
func SetBufferSize(n int) {
	if MessagesBuffered != nil {
		MessagesBuffered.Set(float64(n))
	}
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
