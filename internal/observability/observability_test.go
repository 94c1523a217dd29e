package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetupLoggingFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogging(LogConfig{Level: "debug", Format: "json", Output: &buf})
	logger.Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), `"k":"v"`) {
		t.Fatalf("json output = %q", buf.String())
	}

	buf.Reset()
	logger = SetupLogging(LogConfig{Level: "warn", Format: "text", Output: &buf})
	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("info leaked past warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn missing: %q", buf.String())
	}

	// Restore a sane default for other tests.
	SetupLogging(LogConfig{Level: "info", Format: "text"})
	_ = slog.Default()
}

func TestMetricsRegisterAndCount(t *testing.T) {
	m, reg := NewMetrics()

	m.RequestCounter.WithLabelValues("process/spawn", "ok").Inc()
	m.ToolExecutions.WithLabelValues("echo", "success").Add(2)
	m.ActiveSupervisors.Set(1)

	if got := testutil.ToFloat64(m.RequestCounter.WithLabelValues("process/spawn", "ok")); got != 1 {
		t.Fatalf("request counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("echo", "success")); got != 2 {
		t.Fatalf("tool counter = %v, want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"ndp_workspace_requests_total", "ndp_tool_executions_total", "ndp_active_supervisors"} {
		if !names[want] {
			t.Fatalf("metric %s not registered", want)
		}
	}
}
