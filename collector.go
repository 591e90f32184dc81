// Package collector is the embeddable public API: an App that owns one
// storage Adapter, one BufferedWriter, and the option-driven wiring between
// them. The on-wire protocol, TCP listener, and per-client session thread
// are out of scope (spec §1) — SessionSink and PrefaceSource are the seams
// those collaborators call through.
package collector

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/tuplestream/collector/internal/config"
	"github.com/tuplestream/collector/internal/outstream"
	"github.com/tuplestream/collector/internal/storage"
	"github.com/tuplestream/collector/internal/uri"
	"github.com/tuplestream/collector/internal/writer"
)

// App is a constructed, ready-to-run collector instance: one storage
// adapter plus one buffered writer draining to the configured destination.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	adapter storage.Adapter
	closer  func()
	writer  *writer.Writer

	prefaceSources []PrefaceSource
}

// New builds an App from cfg and any option overrides. It opens the
// configured storage backend's shared pool and dials the configured
// destination, but does not open any experiment database — that happens
// per-session through the out-of-scope session layer calling AddSenderID,
// TableCreate, and Insert against the returned App's Adapter.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &resolvedOptions{
		databaseBackend:    cfg.Database.Backend,
		databaseURL:        cfg.Database.DSN,
		commitGrain:        cfg.Database.CommitGrain(),
		destinationURI:     cfg.Destination.URI,
		queueCapacityBytes: cfg.Destination.QueueCapacityBytes,
		chunkSize:          cfg.Destination.ChunkSize,
		compressionEnabled: cfg.Destination.CompressionEnabled,
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	adapter, closer, err := openAdapter(ctx, o.databaseBackend, o.databaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("collector: open storage: %w", err)
	}

	sink, err := openSink(ctx, o.destinationURI, o.compressionEnabled)
	if err != nil {
		closer()
		return nil, fmt.Errorf("collector: open sink: %w", err)
	}

	var metrics *writer.Metrics
	if o.metricsRegisterer != nil {
		metrics = writer.NewMetrics(o.metricsRegisterer, o.destinationURI)
	}

	w := writer.New(sink, o.queueCapacityBytes, logger, metrics)

	return &App{
		cfg:            cfg,
		logger:         logger,
		adapter:        adapter,
		closer:         closer,
		writer:         w,
		prefaceSources: o.prefaceSources,
	}, nil
}

// openAdapter constructs the Adapter for backend and returns it alongside a
// closer function that releases the backend's shared resources (the pool,
// for Postgres; a no-op for SQLite, which has no shared pool to close).
func openAdapter(ctx context.Context, backend, dsn string, logger *slog.Logger) (storage.Adapter, func(), error) {
	switch backend {
	case "sqlite":
		return storage.NewSQLiteAdapter(dsn, logger), func() {}, nil
	case "postgres", "":
		a, err := storage.NewPostgresAdapter(ctx, dsn, logger)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	default:
		return nil, nil, fmt.Errorf("collector: unknown database backend %q", backend)
	}
}

// openSink parses destURI and opens the corresponding outstream.Stream,
// wrapping it in a gzip-framing decorator if compress is set.
func openSink(ctx context.Context, destURI string, compress bool) (outstream.Stream, error) {
	dest, err := uri.Parse(destURI)
	if err != nil {
		return nil, err
	}

	addr := dest.Host
	if dest.IsNetwork() {
		port := uri.ResolveService(dest.Service, 3003)
		addr = fmt.Sprintf("%s:%d", dest.Host, port)
	}

	sink, err := outstream.Open(ctx, dest, addr)
	if err != nil {
		return nil, err
	}
	if compress {
		sink = outstream.NewGzipStream(sink)
	}
	return sink, nil
}

// Adapter returns the App's storage adapter, for session layers that open
// and drive their own experiment Database handles.
func (a *App) Adapter() storage.Adapter { return a.adapter }

// Writer returns the App's buffered writer, for session layers that push
// serialized tuples to the configured destination.
func (a *App) Writer() *writer.Writer { return a.writer }

// Preface concatenates every registered PrefaceSource's output, in
// registration order, and pushes it to the writer's meta lane. Call once
// per session at connection start.
func (a *App) Preface(ctx context.Context) error {
	var combined []byte
	for _, ps := range a.prefaceSources {
		b, err := ps.Preface(ctx)
		if err != nil {
			return fmt.Errorf("collector: preface source: %w", err)
		}
		combined = append(combined, b...)
	}
	if len(combined) == 0 {
		return nil
	}
	_, err := a.writer.PushMeta(combined)
	return err
}

// RunMigrations applies the cluster-wide bootstrap migrations in
// migrationsFS. Only meaningful for the Postgres backend; a no-op (with a
// log line) for SQLite, which has no cluster-level bootstrap step.
func (a *App) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	pg, ok := a.adapter.(*storage.PostgresAdapter)
	if !ok {
		a.logger.Info("collector: skipping migrations, backend has no cluster-wide bootstrap step")
		return nil
	}
	return storage.RunMigrations(ctx, pg.Pool(), migrationsFS, a.logger)
}

// Run blocks until ctx is cancelled, then performs an orderly Shutdown.
func (a *App) Run(ctx context.Context) error {
	<-ctx.Done()
	return a.Shutdown(context.Background())
}

// Shutdown closes the writer (draining whatever is queued to the sink)
// before releasing storage resources, per spec §5's "SIGTERM at the
// session layer must close writers before databases" — reversing that
// order risks the writer retrying against a sink whose backing database
// has already gone away.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("collector shutting down")

	if err := a.writer.Close(); err != nil {
		a.logger.Error("writer close error", "error", err)
	}

	if a.closer != nil {
		a.closer()
	}

	a.logger.Info("collector stopped")
	return nil
}
