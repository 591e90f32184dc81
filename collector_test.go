package collector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tuplestream/collector/internal/config"
)

func testConfig(t *testing.T, destURI string) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{
			Backend:            "sqlite",
			DSN:                t.TempDir(),
			CommitGrainSeconds: 1,
		},
		Destination: config.DestinationConfig{
			URI:                destURI,
			QueueCapacityBytes: 4096,
			ChunkSize:          256,
		},
		Logging: config.LoggingConfig{Level: "info"},
		Metrics: config.MetricsConfig{Enabled: false},
	}
}

func TestNewOpensSQLiteBackendAndFileSink(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.oml")
	cfg := testConfig(t, "file:"+dest)

	app, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if app.Adapter() == nil {
		t.Fatal("expected non-nil adapter")
	}
	if app.Writer() == nil {
		t.Fatal("expected non-nil writer")
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t, "file:"+filepath.Join(t.TempDir(), "out.oml"))
	cfg.Database.Backend = "oracle"

	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown backend, got nil")
	}
}

func TestNewRejectsMalformedDestination(t *testing.T) {
	cfg := testConfig(t, "")

	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for empty destination, got nil")
	}
}

func TestWithDatabaseBackendOverridesConfig(t *testing.T) {
	cfg := testConfig(t, "file:"+filepath.Join(t.TempDir(), "out.oml"))
	cfg.Database.Backend = "postgres" // would fail to dial; overridden below

	app, err := New(context.Background(), cfg, WithDatabaseBackend("sqlite"), WithDatabaseURL(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
}

type fakePrefaceSource struct{ body []byte }

func (f fakePrefaceSource) Preface(context.Context) ([]byte, error) { return f.body, nil }

func TestPrefaceConcatenatesRegisteredSources(t *testing.T) {
	cfg := testConfig(t, "file:"+filepath.Join(t.TempDir(), "out.oml"))

	app, err := New(context.Background(), cfg,
		WithPrefaceSource(fakePrefaceSource{body: []byte("protocol: 4\n")}),
		WithPrefaceSource(fakePrefaceSource{body: []byte("schema: 1 x:int32\n")}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	if err := app.Preface(context.Background()); err != nil {
		t.Fatalf("preface: %v", err)
	}
}

func TestShutdownIsIdempotentAfterWriterClose(t *testing.T) {
	cfg := testConfig(t, "file:"+filepath.Join(t.TempDir(), "out.oml"))
	app, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestRunReturnsAfterContextCancellation(t *testing.T) {
	cfg := testConfig(t, "file:"+filepath.Join(t.TempDir(), "out.oml"))
	app, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}
