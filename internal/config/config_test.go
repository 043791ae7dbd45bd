package config

import "testing"

func TestNewAppliesDefaults(t *testing.T) {
	c := New()
	if c.DSN() != "archive.sqlite3" {
		t.Errorf("expected default DSN, got %q", c.DSN())
	}
	if c.Workers() != 4 {
		t.Errorf("expected default worker count 4, got %d", c.Workers())
	}
	if c.AssumeImmutable() {
		t.Errorf("expected AssumeImmutable to default false")
	}
	if c.Chunking() {
		t.Errorf("expected Chunking to default false")
	}
}

func TestWithOptionsOverrideDefaults(t *testing.T) {
	c := New(
		WithDSN("custom.sqlite3"),
		WithAssumeImmutable(true),
		WithIncremental(false),
		WithChunking(true),
		WithWorkers(8),
	)
	if c.DSN() != "custom.sqlite3" {
		t.Errorf("expected custom DSN, got %q", c.DSN())
	}
	if !c.AssumeImmutable() {
		t.Errorf("expected AssumeImmutable true")
	}
	if c.Incremental() {
		t.Errorf("expected Incremental false")
	}
	if !c.Chunking() {
		t.Errorf("expected Chunking true")
	}
	if c.Workers() != 8 {
		t.Errorf("expected 8 workers, got %d", c.Workers())
	}
}

func TestWithWorkersClampsBelowOne(t *testing.T) {
	c := New(WithWorkers(0))
	if c.Workers() != 1 {
		t.Errorf("expected worker count clamped to 1, got %d", c.Workers())
	}
	c = New(WithWorkers(-5))
	if c.Workers() != 1 {
		t.Errorf("expected negative worker count clamped to 1, got %d", c.Workers())
	}
}
