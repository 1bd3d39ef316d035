// Package metrics aggregates in-memory counters and gauges for the ingress
// provisioning core and exposes them in Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates HTTP request counters, stage-pool allocation/
// replenishment counters, and session lifecycle counters. It coordinates
// concurrent writers via a RWMutex while exposing thread-safe gauges for
// active allocations and in-progress sessions.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration

	poolEvents       map[string]uint64
	activeAllocated  atomic.Int64
	replenishBatches uint64
	replenishFailed  uint64

	sessionEvents  map[string]uint64
	activeSessions atomic.Int64

	upstreamAttempts map[string]uint64
	upstreamFailures map[string]uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		poolEvents:       make(map[string]uint64),
		sessionEvents:    make(map[string]uint64),
		upstreamAttempts: make(map[string]uint64),
		upstreamFailures: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by packages that do not
// require a custom instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates totals for request count and cumulative
// duration by HTTP method, path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   path,
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// StageAllocated records a successful stage allocation and increments the
// active-allocation gauge.
func (r *Recorder) StageAllocated() {
	r.incrementPoolEvent("allocate")
	r.activeAllocated.Add(1)
}

// StageReleased records a stage release and decrements the active-allocation
// gauge.
func (r *Recorder) StageReleased() {
	r.incrementPoolEvent("release")
	r.decrementGauge(&r.activeAllocated)
}

// StageAllocationExhausted records a failed allocation attempt against an
// empty pool.
func (r *Recorder) StageAllocationExhausted() {
	r.incrementPoolEvent("exhausted")
}

func (r *Recorder) incrementPoolEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.poolEvents[normalized]++
	r.mu.Unlock()
}

// ReplenishBatch records a completed replenishment batch of the given size
// and failure count.
func (r *Recorder) ReplenishBatch(created, failed int) {
	r.mu.Lock()
	r.replenishBatches++
	r.poolEvents["replenish_created"] += uint64(created)
	if failed > 0 {
		r.replenishFailed += uint64(failed)
	}
	r.mu.Unlock()
}

// SessionStarted records a session lifecycle start and increments the
// active-session gauge.
func (r *Recorder) SessionStarted(mode string) {
	r.incrementSessionEvent("start_" + normalizeName(mode))
	r.activeSessions.Add(1)
}

// SessionEnded records a session lifecycle end and decrements the
// active-session gauge.
func (r *Recorder) SessionEnded(reason string) {
	r.incrementSessionEvent("end_" + normalizeName(reason))
	r.decrementGauge(&r.activeSessions)
}

// SessionReconciled records a reconcile-on-conflict correction, where a
// stale in-progress session row was force-closed against the upstream
// activity signal.
func (r *Recorder) SessionReconciled() {
	r.incrementSessionEvent("reconciled")
}

func (r *Recorder) incrementSessionEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.sessionEvents[normalized]++
	r.mu.Unlock()
}

// ObserveUpstreamAttempt records an upstream API call attempt keyed by
// operation name (e.g. "create_stage", "create_participant_token").
func (r *Recorder) ObserveUpstreamAttempt(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.upstreamAttempts[op]++
	r.mu.Unlock()
}

// ObserveUpstreamFailure records a failed upstream API call keyed by
// operation name. The caller should also record the attempt separately.
func (r *Recorder) ObserveUpstreamFailure(operation string) {
	op := normalizeName(operation)
	r.mu.Lock()
	r.upstreamFailures[op]++
	r.mu.Unlock()
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			if gauge.CompareAndSwap(current, 0) {
				return
			}
			continue
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ActiveAllocations exposes the current gauge of allocated stages.
func (r *Recorder) ActiveAllocations() int64 {
	return r.activeAllocated.Load()
}

// ActiveSessions exposes the current gauge of in-progress sessions.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// UpstreamCounts returns copies of upstream attempt and failure counters for
// testing and reporting purposes.
func (r *Recorder) UpstreamCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.upstreamAttempts))
	for k, v := range r.upstreamAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.upstreamFailures))
	for k, v := range r.upstreamFailures {
		failures[k] = v
	}
	return attempts, failures
}

// Reset clears all counters and gauges on the recorder. Intended for test
// setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.poolEvents = make(map[string]uint64)
	r.sessionEvents = make(map[string]uint64)
	r.upstreamAttempts = make(map[string]uint64)
	r.upstreamFailures = make(map[string]uint64)
	r.replenishBatches = 0
	r.replenishFailed = 0
	r.activeAllocated.Store(0)
	r.activeSessions.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets for stable output across scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	poolEvents := r.sortedKeys(r.poolEvents)
	sessionEvents := r.sortedKeys(r.sessionEvents)
	upstreamOperations := r.sortedUpstreamOperations()

	fmt.Fprintln(w, "# HELP ingress_http_requests_total Total number of HTTP requests processed by the ingress API")
	fmt.Fprintln(w, "# TYPE ingress_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "ingress_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP ingress_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE ingress_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "ingress_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP ingress_stage_pool_events_total Stage pool allocation/release/replenishment events by type")
	fmt.Fprintln(w, "# TYPE ingress_stage_pool_events_total counter")
	for _, event := range poolEvents {
		fmt.Fprintf(w, "ingress_stage_pool_events_total{event=\"%s\"} %d\n", event, r.poolEvents[event])
	}

	fmt.Fprintln(w, "# HELP ingress_stage_pool_active_allocations Current number of allocated stages")
	fmt.Fprintln(w, "# TYPE ingress_stage_pool_active_allocations gauge")
	fmt.Fprintf(w, "ingress_stage_pool_active_allocations %d\n", r.activeAllocated.Load())

	fmt.Fprintln(w, "# HELP ingress_stage_pool_replenish_batches_total Completed replenishment batches")
	fmt.Fprintln(w, "# TYPE ingress_stage_pool_replenish_batches_total counter")
	fmt.Fprintf(w, "ingress_stage_pool_replenish_batches_total %d\n", r.replenishBatches)

	fmt.Fprintln(w, "# HELP ingress_stage_pool_replenish_failures_total Stages that failed to provision during replenishment")
	fmt.Fprintln(w, "# TYPE ingress_stage_pool_replenish_failures_total counter")
	fmt.Fprintf(w, "ingress_stage_pool_replenish_failures_total %d\n", r.replenishFailed)

	fmt.Fprintln(w, "# HELP ingress_session_events_total Session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE ingress_session_events_total counter")
	for _, event := range sessionEvents {
		fmt.Fprintf(w, "ingress_session_events_total{event=\"%s\"} %d\n", event, r.sessionEvents[event])
	}

	fmt.Fprintln(w, "# HELP ingress_active_sessions Current number of in-progress sessions")
	fmt.Fprintln(w, "# TYPE ingress_active_sessions gauge")
	fmt.Fprintf(w, "ingress_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP ingress_upstream_attempts_total Total upstream API calls attempted by operation")
	fmt.Fprintln(w, "# TYPE ingress_upstream_attempts_total counter")
	for _, op := range upstreamOperations {
		fmt.Fprintf(w, "ingress_upstream_attempts_total{operation=\"%s\"} %d\n", op, r.upstreamAttempts[op])
	}

	fmt.Fprintln(w, "# HELP ingress_upstream_failures_total Total upstream API call failures by operation")
	fmt.Fprintln(w, "# TYPE ingress_upstream_failures_total counter")
	for _, op := range upstreamOperations {
		fmt.Fprintf(w, "ingress_upstream_failures_total{operation=\"%s\"} %d\n", op, r.upstreamFailures[op])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Recorder) sortedUpstreamOperations() []string {
	seen := make(map[string]struct{}, len(r.upstreamAttempts)+len(r.upstreamFailures))
	for k := range r.upstreamAttempts {
		seen[k] = struct{}{}
	}
	for k := range r.upstreamFailures {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
