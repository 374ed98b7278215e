package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickchristie/sqlgate-mcp/internal/pool"
)

type fixedStat pool.Stat

func (f fixedStat) Stat() pool.Stat { return pool.Stat(f) }

func TestRecordToolCall(t *testing.T) {
	t.Parallel()
	m := New()
	m.RecordToolCall("execute_query", false, 10*time.Millisecond)
	m.RecordToolCall("execute_query", false, 20*time.Millisecond)
	m.RecordToolCall("execute_query", true, time.Millisecond)

	if got := testutil.ToFloat64(m.toolCalls.WithLabelValues("execute_query", "success")); got != 2 {
		t.Fatalf("expected 2 successful calls, got %v", got)
	}
	if got := testutil.ToFloat64(m.toolCalls.WithLabelValues("execute_query", "error")); got != 1 {
		t.Fatalf("expected 1 failed call, got %v", got)
	}
}

func TestRecordQueryAndRejection(t *testing.T) {
	t.Parallel()
	m := New()
	m.RecordQuery("execute", 5*time.Millisecond, 7)
	m.RecordQuery("execute", 5*time.Millisecond, 3)
	m.RecordRejection("classifier")
	m.RecordError("execute", "timeout")
	m.RecordExport("csv", "inline", 128)

	if got := testutil.ToFloat64(m.rowsReturned.WithLabelValues("execute")); got != 10 {
		t.Fatalf("expected 10 rows, got %v", got)
	}
	if got := testutil.ToFloat64(m.policyRejections.WithLabelValues("classifier")); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("execute", "timeout")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(m.exportBytes.WithLabelValues("csv", "inline")); got != 128 {
		t.Fatalf("expected 128 bytes, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.RecordToolCall("x", false, time.Second)
	m.RecordQuery("x", time.Second, 1)
	m.RecordRejection("x")
	m.RecordError("x", "y")
	m.RecordExport("json", "inline", 1)
	m.RegisterPool("primary", fixedStat{})
}

func TestHandlerExposesPoolGauges(t *testing.T) {
	t.Parallel()
	m := New()
	src := fixedStat{Name: "primary", Total: 4, Idle: 1, Leased: 3, Max: 10, Evicted: 2}
	m.RegisterPool("primary", src)
	m.RegisterPool("primary", src)
	m.RecordToolCall("list_tables", false, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`sqlgate_pool_sessions_leased{pool="primary"} 3`,
		`sqlgate_pool_sessions_max{pool="primary"} 10`,
		`sqlgate_pool_sessions_evicted_total{pool="primary"} 2`,
		`sqlgate_tool_calls_total{status="success",tool="list_tables"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
