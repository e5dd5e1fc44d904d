package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestWritePrometheus(t *testing.T) {
	m := newMetrics()
	m.ObserveAPI("GET", "/api/scenarios", "200", 20*time.Millisecond)
	m.ObservePrepTask("debate", "openings", "succeeded", 3*time.Second)
	m.IncClassifierMemo(true)
	m.SetLastOverall("debate", 72.5)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`sp_api_requests_total{method="GET",route="/api/scenarios",status="200"} 1.000000`,
		`sp_prep_tasks_total{scenario="debate",category="openings",status="succeeded"} 1.000000`,
		`sp_prep_task_duration_seconds_bucket{scenario="debate",category="openings",status="succeeded",le="5"} 1`,
		`sp_classifier_memo_total{result="hit"} 1.000000`,
		`sp_analysis_last_overall{scenario="debate"} 72.500000`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/", "200", time.Millisecond)
	m.ObservePrepRun("debate", "complete", time.Second)
	m.LiveSessionStarted()
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("nil write: %v", err)
	}
}
