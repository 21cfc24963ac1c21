package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func readAuditLines(t *testing.T, path string) []map[string]any {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestAuditLogger_WritesEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() { _ = InitAuditLogger("") })

	RecordSessionAudit(context.Background(), "create", "sess-1", "success", map[string]interface{}{"model": "m1"})
	RecordRunAudit(context.Background(), "sess-1", "failure", nil)
	RecordConfigAudit(context.Background(), "storage_path", "agentrelay", map[string]interface{}{"path": "/tmp/x"})

	lines := readAuditLines(t, path)
	require.Len(t, lines, 3)

	assert.Equal(t, "session", lines[0]["type"])
	assert.Equal(t, "create", lines[0]["action"])
	assert.Equal(t, "sess-1", lines[0]["actor"])
	assert.Equal(t, "audit", lines[0]["stream"])
	assert.Equal(t, map[string]any{"model": "m1"}, lines[0]["metadata"])

	assert.Equal(t, "agent_run", lines[1]["action"])
	assert.Equal(t, "failure", lines[1]["status"])
	assert.NotContains(t, lines[1], "metadata")

	assert.Equal(t, "config", lines[2]["type"])
	assert.Equal(t, "success", lines[2]["status"])
}

func TestAuditLogger_TraceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() { _ = InitAuditLogger("") })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordRunAudit(ctx, "sess-2", "success", nil)
	span.End()

	lines := readAuditLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, span.SpanContext().TraceID().String(), lines[0]["trace_id"])
}

func TestAuditLogger_EmptyPathDiscards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	require.NoError(t, InitAuditLogger(""))

	RecordSessionAudit(context.Background(), "delete", "sess-3", "success", nil)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestInitAuditLogger_BadPath(t *testing.T) {
	err := InitAuditLogger(filepath.Join(t.TempDir(), "missing", "audit.log"))
	assert.Error(t, err)
}
