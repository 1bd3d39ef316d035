package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestObserveRequestAccumulates(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("get", "/streams/whip", 200, 50*time.Millisecond)
	recorder.ObserveRequest("GET", "/streams/whip", 200, 25*time.Millisecond)
	recorder.ObserveRequest("POST", "/streams/whip", 201, 10*time.Millisecond)

	label := requestLabel{method: "GET", path: "/streams/whip", status: "200"}
	if got := recorder.requestCount[label]; got != 2 {
		t.Fatalf("expected count 2, got %d", got)
	}
	if got := recorder.requestDuration[label]; got != 75*time.Millisecond {
		t.Fatalf("expected cumulative duration 75ms, got %s", got)
	}

	otherLabel := requestLabel{method: "POST", path: "/streams/whip", status: "201"}
	if got := recorder.requestCount[otherLabel]; got != 1 {
		t.Fatalf("expected count 1, got %d", got)
	}
}

func TestStageAllocationGauge(t *testing.T) {
	recorder := New()

	recorder.StageAllocated()
	recorder.StageAllocated()
	recorder.StageReleased()

	if got := recorder.ActiveAllocations(); got != 1 {
		t.Fatalf("expected 1 active allocation, got %d", got)
	}

	recorder.StageReleased()
	recorder.StageReleased() // should not go negative
	if got := recorder.ActiveAllocations(); got != 0 {
		t.Fatalf("expected gauge to floor at 0, got %d", got)
	}
}

func TestSessionLifecycleGauge(t *testing.T) {
	recorder := New()

	recorder.SessionStarted("webrtc")
	recorder.SessionStarted("rtmps")
	recorder.SessionEnded("caller_ended")

	if got := recorder.ActiveSessions(); got != 1 {
		t.Fatalf("expected 1 active session, got %d", got)
	}

	if got := recorder.sessionEvents["start_webrtc"]; got != 1 {
		t.Fatalf("expected start_webrtc=1, got %d", got)
	}
	if got := recorder.sessionEvents["end_caller_ended"]; got != 1 {
		t.Fatalf("expected end_caller_ended=1, got %d", got)
	}

	recorder.SessionReconciled()
	if got := recorder.sessionEvents["reconciled"]; got != 1 {
		t.Fatalf("expected reconciled=1, got %d", got)
	}
}

func TestUpstreamCounts(t *testing.T) {
	recorder := New()

	recorder.ObserveUpstreamAttempt("create_stage")
	recorder.ObserveUpstreamAttempt("create_stage")
	recorder.ObserveUpstreamFailure("create_stage")

	attempts, failures := recorder.UpstreamCounts()
	if attempts["create_stage"] != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts["create_stage"])
	}
	if failures["create_stage"] != 1 {
		t.Fatalf("expected 1 failure, got %d", failures["create_stage"])
	}
}

func TestReplenishBatch(t *testing.T) {
	recorder := New()

	recorder.ReplenishBatch(5, 1)

	if recorder.replenishBatches != 1 {
		t.Fatalf("expected 1 batch, got %d", recorder.replenishBatches)
	}
	if recorder.replenishFailed != 1 {
		t.Fatalf("expected 1 failure, got %d", recorder.replenishFailed)
	}
	if recorder.poolEvents["replenish_created"] != 5 {
		t.Fatalf("expected 5 created, got %d", recorder.poolEvents["replenish_created"])
	}
}

func TestReset(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("GET", "/x", 200, time.Millisecond)
	recorder.StageAllocated()
	recorder.SessionStarted("webrtc")
	recorder.ObserveUpstreamAttempt("create_stage")

	recorder.Reset()

	if len(recorder.requestCount) != 0 {
		t.Fatalf("expected requestCount cleared")
	}
	if recorder.ActiveAllocations() != 0 || recorder.ActiveSessions() != 0 {
		t.Fatalf("expected gauges reset to 0")
	}
	attempts, _ := recorder.UpstreamCounts()
	if len(attempts) != 0 {
		t.Fatalf("expected upstream counters cleared")
	}
}

func TestWriteProducesPrometheusExposition(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("GET", "/streams/whip", 200, 10*time.Millisecond)
	recorder.StageAllocated()
	recorder.SessionStarted("webrtc")
	recorder.ObserveUpstreamAttempt("create_stage")

	var buf strings.Builder
	recorder.Write(&buf)
	out := buf.String()

	for _, want := range []string{
		"ingress_http_requests_total",
		"ingress_stage_pool_active_allocations 1",
		"ingress_active_sessions 1",
		"ingress_upstream_attempts_total{operation=\"create_stage\"} 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestDefaultReturnsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatalf("expected Default() to return the same instance across calls")
	}
}
