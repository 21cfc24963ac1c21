package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()

	if id1 == "" {
		t.Error("NewRunID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewRunID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "test-trace-id")

	if got := GetTraceID(ctx); got != "test-trace-id" {
		t.Errorf("Expected trace ID test-trace-id, got %s", got)
	}
}

func TestWithRunID(t *testing.T) {
	ctx := WithRunID(context.Background(), "test-run-id")

	if got := GetRunID(ctx); got != "test-run-id" {
		t.Errorf("Expected run ID test-run-id, got %s", got)
	}
}

func TestWithSessionID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "01j0000000session")

	if got := GetSessionID(ctx); got != "01j0000000session" {
		t.Errorf("Expected session ID 01j0000000session, got %s", got)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("Expected request ID req-1, got %s", got)
	}
}

func TestGettersEmpty(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("Expected empty trace ID")
	}
	if GetRunID(ctx) != "" {
		t.Error("Expected empty run ID")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Expected empty session ID")
	}
	if GetRequestID(ctx) != "" {
		t.Error("Expected empty request ID")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithSessionID(ctx, "session-1")
	ctx = WithRequestID(ctx, "request-1")

	tc := FromContext(ctx)

	if tc.TraceID != "trace-1" {
		t.Errorf("Expected trace ID trace-1, got %s", tc.TraceID)
	}
	if tc.RunID != "run-1" {
		t.Errorf("Expected run ID run-1, got %s", tc.RunID)
	}
	if tc.SessionID != "session-1" {
		t.Errorf("Expected session ID session-1, got %s", tc.SessionID)
	}
	if tc.RequestID != "request-1" {
		t.Errorf("Expected request ID request-1, got %s", tc.RequestID)
	}
}

func TestNewContextPartial(t *testing.T) {
	ctx := NewContext(context.Background(), &TraceContext{TraceID: "trace-only"})

	if GetTraceID(ctx) != "trace-only" {
		t.Error("Trace ID not set")
	}
	if GetRunID(ctx) != "" {
		t.Error("Run ID should be empty")
	}
	if GetSessionID(ctx) != "" {
		t.Error("Session ID should be empty")
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())

	if GetTraceID(ctx) == "" {
		t.Error("Trace ID not generated")
	}
}

func TestNewRunContext(t *testing.T) {
	ctx := NewRunContext(context.Background(), "session-42")

	if GetTraceID(ctx) == "" {
		t.Error("Trace ID not generated")
	}
	if GetRunID(ctx) == "" {
		t.Error("Run ID not generated")
	}
	if GetSessionID(ctx) != "session-42" {
		t.Errorf("Expected session ID session-42, got %s", GetSessionID(ctx))
	}
}

func TestNewRunContextKeepsTraceID(t *testing.T) {
	parent := WithTraceID(context.Background(), "inbound-trace")

	ctx := NewRunContext(parent, "session-42")

	if GetTraceID(ctx) != "inbound-trace" {
		t.Errorf("Expected trace ID inbound-trace, got %s", GetTraceID(ctx))
	}
}
