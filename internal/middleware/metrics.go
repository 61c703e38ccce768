package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application counters. The zero value is not usable; call NewMetrics.
type Metrics struct {
	requestsTotal      atomic.Uint64
	requestsInProgress atomic.Int64
	requestsSuccess    atomic.Uint64
	requestsFailed     atomic.Uint64

	analysesTotal     atomic.Uint64
	analysesRunning   atomic.Int64
	analysesFailed    atomic.Uint64
	analysisLatencyMS atomic.Int64

	startTime time.Time
	sessions  func() int
}

// NewMetrics creates counters; sessions reports the active session gauge and may be nil.
func NewMetrics(sessions func() int) *Metrics {
	return &Metrics{startTime: time.Now(), sessions: sessions}
}

// RunStarted is called when a session enters analyzing.
func (m *Metrics) RunStarted() {
	m.analysesTotal.Add(1)
	m.analysesRunning.Add(1)
}

// RunFinished is called when a background analysis lands, stale or not.
func (m *Metrics) RunFinished(err error, elapsed time.Duration) {
	m.analysesRunning.Add(-1)
	m.analysisLatencyMS.Store(elapsed.Milliseconds())
	if err != nil {
		m.analysesFailed.Add(1)
	}
}

// Snapshot returns current metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	sessions := 0
	if m.sessions != nil {
		sessions = m.sessions()
	}

	return map[string]interface{}{
		"requests_total":       m.requestsTotal.Load(),
		"requests_in_progress": m.requestsInProgress.Load(),
		"requests_success":     m.requestsSuccess.Load(),
		"requests_failed":      m.requestsFailed.Load(),
		"analyses_total":       m.analysesTotal.Load(),
		"analyses_running":     m.analysesRunning.Load(),
		"analyses_failed":      m.analysesFailed.Load(),
		"last_analysis_ms":     m.analysisLatencyMS.Load(),
		"sessions_active":      sessions,
		"uptime_seconds":       time.Since(m.startTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       mem.Alloc,
			"total_alloc_bytes": mem.TotalAlloc,
			"sys_bytes":         mem.Sys,
			"num_gc":            mem.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsTotal.Add(1)
		m.requestsInProgress.Add(1)
		defer m.requestsInProgress.Add(-1)

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			m.requestsSuccess.Add(1)
		} else {
			m.requestsFailed.Add(1)
		}
	})
}

// Handler returns metrics as JSON
func (m *Metrics) Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.Snapshot())
}
