package observability

import (
	"strconv"
	"sync"
	"time"
)

// SyncOutcome labels the result of a single sync attempt.
type SyncOutcome string

const (
	SyncOutcomeCreated  SyncOutcome = "created"
	SyncOutcomeRetrying SyncOutcome = "retrying"
	SyncOutcomeFailed   SyncOutcome = "failed"
	SyncOutcomeSkipped  SyncOutcome = "skipped"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu            sync.Mutex
	requestCount  map[string]int64
	errorCount    map[string]int64
	syncCount     map[SyncOutcome]int64
	pollCount     map[bool]int64
	ingestCount   map[bool]int64
	notifyFailed  int64
	syncLatencyMs int64
}

// MetricsSnapshot is a point-in-time copy suitable for JSON output.
type MetricsSnapshot struct {
	Requests        map[string]int64 `json:"requests"`
	Errors          map[string]int64 `json:"errors"`
	Sync            map[string]int64 `json:"sync"`
	PollsOK         int64            `json:"polls_ok"`
	PollsFailed     int64            `json:"polls_failed"`
	IngestCreated   int64            `json:"ingest_created"`
	IngestDuplicate int64            `json:"ingest_duplicate"`
	NotifyFailed    int64            `json:"notify_failed"`
	SyncLatencyMs   int64            `json:"sync_latency_ms_total"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		syncCount:    make(map[SyncOutcome]int64),
		pollCount:    make(map[bool]int64),
		ingestCount:  make(map[bool]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordSync counts a sync attempt outcome.
func (m *Metrics) RecordSync(outcome SyncOutcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCount[outcome]++
	m.syncLatencyMs += duration.Milliseconds()
}

// RecordPoll counts a remote status poll.
func (m *Metrics) RecordPoll(ok bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollCount[ok]++
}

// RecordIngest counts an ingestion; duplicate reports an already known uid.
func (m *Metrics) RecordIngest(duplicate bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingestCount[duplicate]++
}

// RecordNotifyFailure counts a tolerated reply failure.
func (m *Metrics) RecordNotifyFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyFailed++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Requests: map[string]int64{},
		Errors:   map[string]int64{},
		Sync:     map[string]int64{},
	}
	if m == nil {
		return snap
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.requestCount {
		snap.Requests[k] = v
	}
	for k, v := range m.errorCount {
		snap.Errors[k] = v
	}
	for k, v := range m.syncCount {
		snap.Sync[string(k)] = v
	}
	snap.PollsOK = m.pollCount[true]
	snap.PollsFailed = m.pollCount[false]
	snap.IngestCreated = m.ingestCount[false]
	snap.IngestDuplicate = m.ingestCount[true]
	snap.NotifyFailed = m.notifyFailed
	snap.SyncLatencyMs = m.syncLatencyMs
	return snap
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
