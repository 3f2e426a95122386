package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestInitLevelFiltersMessages(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})

	Info().Msg("should be filtered")
	if buf.Len() != 0 {
		t.Fatalf("expected info message to be filtered at warn level, got %q", buf.String())
	}

	Warn().Msg("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn message in output, got %q", buf.String())
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithNewCorrelationID(context.Background())
	id := CorrelationIDFromContext(ctx)
	if len(id) != 8 {
		t.Fatalf("expected 8-char correlation id, got %q", id)
	}
}

func TestCtxFallsBackWithoutCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})

	Ctx(context.Background()).Info().Msg("no correlation id")
	if strings.Contains(buf.String(), "correlation_id") {
		t.Fatalf("did not expect a correlation_id field, got %q", buf.String())
	}
}
