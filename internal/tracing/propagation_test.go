package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRunID(ctx, "run-456")
	ctx = WithSessionID(ctx, "session-abc")
	ctx = WithRequestID(ctx, "request-789")

	var buf bytes.Buffer
	logger := PropagateToLogger(ctx, zerolog.New(&buf))

	logger.Info().Msg("test message")

	output := buf.String()
	for _, want := range []string{"trace-123", "run-456", "session-abc", "request-789"} {
		if !strings.Contains(output, want) {
			t.Errorf("%s not in log output: %s", want, output)
		}
	}
}

func TestLoggerFromContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-xyz")

	var buf bytes.Buffer
	logger := LoggerFromContext(ctx, zerolog.New(&buf))

	logger.Info().Msg("test")

	if !strings.Contains(buf.String(), "trace-xyz") {
		t.Error("Trace ID not in log output")
	}
	if strings.Contains(buf.String(), "run_id") {
		t.Error("Empty run ID should not be logged")
	}
}

func TestMergeContext(t *testing.T) {
	source := context.Background()
	source = WithTraceID(source, "trace-source")
	source = WithRunID(source, "run-source")

	merged := MergeContext(context.Background(), source)

	if GetTraceID(merged) != "trace-source" {
		t.Error("Trace ID not merged")
	}
	if GetRunID(merged) != "run-source" {
		t.Error("Run ID not merged")
	}
}

func TestMergeContextNoOverwrite(t *testing.T) {
	source := WithTraceID(context.Background(), "trace-source")
	target := WithTraceID(context.Background(), "trace-target")

	merged := MergeContext(target, source)

	if GetTraceID(merged) != "trace-target" {
		t.Error("Trace ID was overwritten")
	}
}

func TestDetach(t *testing.T) {
	reqCtx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	reqCtx = WithTraceID(reqCtx, "trace-req")
	reqCtx = WithSessionID(reqCtx, "session-req")
	cancel()

	detached := Detach(context.Background(), reqCtx)

	if detached.Err() != nil {
		t.Error("Detached context inherited cancellation")
	}
	if _, ok := detached.Deadline(); ok {
		t.Error("Detached context inherited deadline")
	}
	if GetTraceID(detached) != "trace-req" {
		t.Error("Trace ID not carried over")
	}
	if GetSessionID(detached) != "session-req" {
		t.Error("Session ID not carried over")
	}
}
