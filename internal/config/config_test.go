package config

import (
	"testing"
	"time"
)

func TestLoadIncludesPipelineDefaults(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("CHUNK_OVERLAP", "")
	t.Setenv("MIN_CHUNK_SIZE", "")
	t.Setenv("QUEUE_CONCURRENCY", "")
	t.Setenv("QUEUE_RETRY_DELAY", "")
	t.Setenv("DEAD_PROCESS_THRESHOLD", "")

	cfg := Load()
	if cfg.ChunkSize != 1024 {
		t.Fatalf("expected default chunk size 1024, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap != 200 {
		t.Fatalf("expected default chunk overlap 200, got %d", cfg.ChunkOverlap)
	}
	if cfg.MinChunkSize != 100 {
		t.Fatalf("expected default min chunk size 100, got %d", cfg.MinChunkSize)
	}
	if cfg.QueueConcurrency != 4 {
		t.Fatalf("expected default queue concurrency 4, got %d", cfg.QueueConcurrency)
	}
	if cfg.QueueRetryDelay != 5*time.Second {
		t.Fatalf("expected default queue retry delay 5s, got %v", cfg.QueueRetryDelay)
	}
	if cfg.DeadProcessThreshold != 5*time.Minute {
		t.Fatalf("expected default dead process threshold 5m, got %v", cfg.DeadProcessThreshold)
	}
}

func TestLoadParsesPipelineOverrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "2048")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "5")
	t.Setenv("QUEUE_RETRY_DELAY", "250ms")
	t.Setenv("SCHEDULER_BATCH_SIZE", "20")
	t.Setenv("PROCESS_TIMEOUT", "30m")

	cfg := Load()
	if cfg.ChunkSize != 2048 {
		t.Fatalf("expected chunk size override, got %d", cfg.ChunkSize)
	}
	if cfg.QueueMaxAttempts != 5 {
		t.Fatalf("expected queue max attempts 5, got %d", cfg.QueueMaxAttempts)
	}
	if cfg.QueueRetryDelay != 250*time.Millisecond {
		t.Fatalf("expected queue retry delay 250ms, got %v", cfg.QueueRetryDelay)
	}
	if cfg.SchedulerBatchSize != 20 {
		t.Fatalf("expected scheduler batch size 20, got %d", cfg.SchedulerBatchSize)
	}
	if cfg.ProcessTimeout != 30*time.Minute {
		t.Fatalf("expected process timeout 30m, got %v", cfg.ProcessTimeout)
	}
}

func TestLoadParsesHumanReadableMaxFileSize(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE", "10MB")

	cfg := Load()
	if cfg.MaxFileSize != 10*1024*1024 {
		t.Fatalf("expected 10MB in bytes, got %d", cfg.MaxFileSize)
	}

	t.Setenv("MAX_FILE_SIZE", "not-a-size")
	cfg = Load()
	if cfg.MaxFileSize != 100*1024*1024 {
		t.Fatalf("expected fallback 100MB in bytes for malformed value, got %d", cfg.MaxFileSize)
	}
}
