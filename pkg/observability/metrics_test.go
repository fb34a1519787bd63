package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
)

func TestSessionMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(reg)

	m.RecordCall("tools/call", 10*time.Millisecond, nil)
	m.RecordCall("tools/call", 20*time.Millisecond, mcperrors.CallTimeout("tools/call", time.Second))
	m.RecordCall("ping", time.Millisecond, errors.New("plain"))

	if got := testutil.ToFloat64(m.calls.WithLabelValues("tools/call", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.calls.WithLabelValues("tools/call", "timeout")); got != 1 {
		t.Errorf("timeout count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.calls.WithLabelValues("ping", "error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}

	m.RecordServerRequest("sampling/createMessage")
	if got := testutil.ToFloat64(m.serverRequests.WithLabelValues("sampling/createMessage")); got != 1 {
		t.Errorf("server request count = %v, want 1", got)
	}

	m.RecordNotification("notifications/message", "inbound")
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("notifications/message", "inbound")); got != 1 {
		t.Errorf("notification count = %v, want 1", got)
	}

	m.SetPendingCalls(3)
	if got := testutil.ToFloat64(m.pendingCalls); got != 3 {
		t.Errorf("pending calls = %v, want 3", got)
	}
}

func TestConnectionStateGaugeIsExclusive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(reg)

	m.SetConnectionState("ready")
	if got := testutil.ToFloat64(m.connectionState.WithLabelValues("ready")); got != 1 {
		t.Errorf("ready = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectionState.WithLabelValues("idle")); got != 0 {
		t.Errorf("idle = %v, want 0", got)
	}

	m.SetConnectionState("closed")
	if got := testutil.ToFloat64(m.connectionState.WithLabelValues("ready")); got != 0 {
		t.Errorf("ready after close = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.connectionState.WithLabelValues("closed")); got != 1 {
		t.Errorf("closed = %v, want 1", got)
	}
}

func TestNoopTracingProvider(t *testing.T) {
	tp, err := NewTracingProvider(TracingConfig{ExporterType: ExporterTypeNoop})
	if err != nil {
		t.Fatalf("NewTracingProvider: %v", err)
	}
	if tp.Tracer() == nil {
		t.Error("Tracer() should not be nil")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
