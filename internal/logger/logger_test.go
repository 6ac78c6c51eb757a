package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestInitWriter_JSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	log := InitWriter(&buf, "signalengine", slog.LevelInfo, "json")
	log.Info("hello", "k", 1)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "signalengine" {
		t.Errorf("expected service attr, got %v", rec["service"])
	}
}

func TestInitWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := InitWriter(&buf, "svc", slog.LevelInfo, "text")
	log.Info("hello")
	if !strings.Contains(buf.String(), "service=svc") {
		t.Errorf("expected text handler output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No run ID set
	if rid := RunID(ctx); rid != "" {
		t.Errorf("expected empty run id, got %q", rid)
	}

	ctx = WithRunID(ctx, "01HRUN")
	if rid := RunID(ctx); rid != "01HRUN" {
		t.Errorf("expected '01HRUN', got %q", rid)
	}
}

func TestWith_AddsRunID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	With(WithRunID(context.Background(), "abc-123"), base).Info("x")
	if !strings.Contains(buf.String(), `"run_id":"abc-123"`) {
		t.Errorf("expected run_id attr, got %q", buf.String())
	}
}
