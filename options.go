package collector

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	databaseBackend    string
	databaseURL        string
	commitGrain        time.Duration
	destinationURI     string
	queueCapacityBytes int
	chunkSize          int
	compressionEnabled bool
	logger             *slog.Logger
	metricsRegisterer  prometheus.Registerer
	prefaceSources     []PrefaceSource
}

// WithDatabaseURL overrides the storage backend's connection string.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithDatabaseBackend selects "postgres" (default) or "sqlite".
func WithDatabaseBackend(backend string) Option {
	return func(o *resolvedOptions) { o.databaseBackend = backend }
}

// WithCommitGrain records a transaction-window commit grain in the App's
// options. New does not pass it to the storage adapter, whose transaction
// window rolls over on a fixed one-second grain.
func WithCommitGrain(d time.Duration) Option {
	return func(o *resolvedOptions) { o.commitGrain = d }
}

// WithDestinations sets the collection URI the buffered writer drains to,
// e.g. "tcp:collector.internal:3003" or "file:/var/log/readings.oml".
func WithDestinations(uri string) Option {
	return func(o *resolvedOptions) { o.destinationURI = uri }
}

// WithQueueCapacity overrides the writer's data-lane byte budget before
// the oldest-drop policy engages.
func WithQueueCapacity(bytes int) Option {
	return func(o *resolvedOptions) { o.queueCapacityBytes = bytes }
}

// WithCompressionEnabled wraps the writer's sink in a gzip-framing stream.
func WithCompressionEnabled(enabled bool) Option {
	return func(o *resolvedOptions) { o.compressionEnabled = enabled }
}

// WithLogger sets the structured logger for the App. If not set, the
// default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithMetricsRegisterer sets the Prometheus registerer the writer
// package's metrics are registered against. If unset, the App runs with
// no-op metrics.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *resolvedOptions) { o.metricsRegisterer = reg }
}

// WithPrefaceSource registers a PrefaceSource the App consults for each
// new session's meta-lane preface. Multiple sources may be registered;
// all are called in registration order and their output concatenated.
func WithPrefaceSource(ps PrefaceSource) Option {
	return func(o *resolvedOptions) { o.prefaceSources = append(o.prefaceSources, ps) }
}
