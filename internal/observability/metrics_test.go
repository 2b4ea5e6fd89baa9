package observability

import (
	"testing"
	"time"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/tickets", "POST", 201, time.Millisecond)
	m.RecordRequest("/tickets", "POST", 201, time.Millisecond)
	m.RecordError("/tickets", "POST", "VALIDATION_FAILED")
	m.RecordSync(SyncOutcomeCreated, 40*time.Millisecond)
	m.RecordSync(SyncOutcomeFailed, 10*time.Millisecond)
	m.RecordPoll(true)
	m.RecordPoll(false)
	m.RecordIngest(false)
	m.RecordIngest(true)
	m.RecordIngest(true)
	m.RecordNotifyFailure()

	snap := m.Snapshot()
	if got := snap.Requests["/tickets|POST|201"]; got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	if got := snap.Errors["/tickets|POST|VALIDATION_FAILED"]; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	if snap.Sync["created"] != 1 || snap.Sync["failed"] != 1 {
		t.Errorf("unexpected sync counters %v", snap.Sync)
	}
	if snap.SyncLatencyMs != 50 {
		t.Errorf("latency = %d, want 50", snap.SyncLatencyMs)
	}
	if snap.PollsOK != 1 || snap.PollsFailed != 1 {
		t.Errorf("unexpected poll counters %+v", snap)
	}
	if snap.IngestCreated != 1 || snap.IngestDuplicate != 2 || snap.NotifyFailed != 1 {
		t.Errorf("unexpected ingest counters %+v", snap)
	}

	snap.Requests["/tickets|POST|201"] = 99
	if m.Snapshot().Requests["/tickets|POST|201"] != 2 {
		t.Error("snapshot must be a copy")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordSync(SyncOutcomeCreated, time.Second)
	m.RecordPoll(true)
	if len(m.Snapshot().Sync) != 0 {
		t.Error("nil metrics should produce empty snapshot")
	}
}
