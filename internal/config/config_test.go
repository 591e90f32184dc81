package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Backend != "postgres" {
		t.Fatalf("expected default backend postgres, got %s", cfg.Database.Backend)
	}
	if cfg.Destination.QueueCapacityBytes != 8*1024*1024 {
		t.Fatalf("expected default queue capacity 8MiB, got %d", cfg.Destination.QueueCapacityBytes)
	}
	if cfg.Database.CommitGrain().Seconds() != 1 {
		t.Fatalf("expected default commit grain 1s, got %v", cfg.Database.CommitGrain())
	}
}

func TestLoadReadsEnvOverride(t *testing.T) {
	t.Setenv("COLLECTOR_DATABASE_BACKEND", "sqlite")
	t.Setenv("COLLECTOR_DESTINATION_URI", "udp:example.org:3003")

	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Backend != "sqlite" {
		t.Fatalf("expected env override sqlite, got %s", cfg.Database.Backend)
	}
	if cfg.Destination.URI != "udp:example.org:3003" {
		t.Fatalf("expected env override uri, got %s", cfg.Destination.URI)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("COLLECTOR_DATABASE_BACKEND", "oracle")
	if _, err := LoadWithPath(t.TempDir()); err == nil {
		t.Fatal("expected validation error for unknown backend, got nil")
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Setenv("COLLECTOR_LOGGING_LEVEL", "verbose")
	if _, err := LoadWithPath(t.TempDir()); err == nil {
		t.Fatal("expected validation error for invalid log level, got nil")
	}
}

func TestLoadRejectsZeroQueueCapacity(t *testing.T) {
	t.Setenv("COLLECTOR_DESTINATION_QUEUECAPACITYBYTES", "0")
	if _, err := LoadWithPath(t.TempDir()); err == nil {
		t.Fatal("expected validation error for zero queue capacity, got nil")
	}
}
