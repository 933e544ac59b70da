package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestWritePrometheus_IncludesRegisteredMetrics(t *testing.T) {
	TasksEmittedTotal.WithLabelValues("exec_node").Inc()
	SuccessfulNodeCacheTotal.WithLabelValues("hit").Inc()
	TickDuration.Observe(0.05)

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, name := range []string{
		"orchestrator_tick_duration_seconds",
		"orchestrator_tasks_emitted_total",
		"orchestrator_successful_node_cache_total",
	} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected output to contain metric %q, got:\n%s", name, out)
		}
	}
}
