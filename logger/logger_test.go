package logger

import (
	"bytes"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureReportLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure(ReportLevel, "text", "stderr", 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if log.GetLevel().String() != "info" {
		t.Fatalf("report level should log at info, got %s", log.GetLevel())
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestErrorsAreCountedPerLoop(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	beforeMarket := atomic.LoadInt64(&errorsMarket)
	beforeUser := atomic.LoadInt64(&errorsUser)

	log.WithComponent("order_book_reader").Error("boom")
	log.WithComponent("user_stream_reader").Error("boom")
	log.WithComponent("user_stream_reader").Warn("careful")

	if got := atomic.LoadInt64(&errorsMarket) - beforeMarket; got != 1 {
		t.Fatalf("market errors=%d", got)
	}
	if got := atomic.LoadInt64(&errorsUser) - beforeUser; got != 1 {
		t.Fatalf("user errors=%d", got)
	}
}

func TestLogPerformanceEntry(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	LogPerformanceEntry(log.WithComponent("rest"), "rest_client", "depth", 1500*time.Microsecond, nil)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["operation"] != "depth" || line["duration_ms"].(float64) != 1.5 {
		t.Fatalf("unexpected performance entry: %v", line)
	}
}

func TestRecordFlowAndMetricName(t *testing.T) {
	IncrementSnapshotRead(10)
	IncrementSnapshotRead(5)
	stats := flowSnapshot()["depth_rest"]
	if stats["messages"] < 2 || stats["bytes"] < 15 {
		t.Fatalf("flow not recorded: %v", stats)
	}
	if got := metricName("snapshot_reads"); got != "SnapshotReads" {
		t.Fatalf("metricName=%s", got)
	}
}
