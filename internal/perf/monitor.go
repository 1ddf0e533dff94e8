package perf

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refinery-etl/refinery/internal/logger"
)

// sessionHistoryLimit bounds the retained sessions per transformation.
const sessionHistoryLimit = 100

// SessionStatistics is the immutable view of one session's accumulated
// samples.
type SessionStatistics struct {
	SessionID         string
	TransformationID  string
	Name              string
	StartTime         time.Time
	EndTime           time.Time
	RecordsProcessed  int64
	RecordsSuccessful int64
	RecordsFailed     int64
	TotalTime         time.Duration
	MinTime           time.Duration
	MaxTime           time.Duration
	PeakMemoryBytes   int64
	TotalMemoryBytes  int64
	MemorySamples     int64
	Errors            []string
	Warnings          []string
}

// AverageTime is the mean per-record processing time.
func (s SessionStatistics) AverageTime() time.Duration {
	if s.RecordsProcessed == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.RecordsProcessed)
}

// Session accumulates samples for one monitored execution scope. Sessions
// are single-owner; Close merges the samples into the transformation's
// aggregate statistics.
type Session struct {
	monitor *Monitor

	mu     sync.Mutex
	stats  SessionStatistics
	closed bool
}

// RecordProcessing adds one processed-record sample.
func (s *Session) RecordProcessing(d time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stats.RecordsProcessed++
	if success {
		s.stats.RecordsSuccessful++
	} else {
		s.stats.RecordsFailed++
	}
	s.stats.TotalTime += d
	if s.stats.MinTime == 0 || d < s.stats.MinTime {
		s.stats.MinTime = d
	}
	if d > s.stats.MaxTime {
		s.stats.MaxTime = d
	}
	s.monitor.metrics.observeRecord(s.stats.TransformationID, d, success)
}

// RecordMemoryUsage adds a memory sample in bytes.
func (s *Session) RecordMemoryUsage(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if bytes > s.stats.PeakMemoryBytes {
		s.stats.PeakMemoryBytes = bytes
	}
	s.stats.TotalMemoryBytes += bytes
	s.stats.MemorySamples++
}

// RecordError notes an error observed during the session.
func (s *Session) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stats.Errors = append(s.stats.Errors, err.Error())
}

// RecordWarning notes a warning observed during the session.
func (s *Session) RecordWarning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stats.Warnings = append(s.stats.Warnings, msg)
}

// Statistics returns the current session view.
func (s *Session) Statistics() SessionStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Errors = append([]string(nil), s.stats.Errors...)
	out.Warnings = append([]string(nil), s.stats.Warnings...)
	return out
}

// Close merges the session into the transformation aggregate. Closing twice
// is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stats.EndTime = time.Now().UTC()
	snapshot := s.stats
	s.mu.Unlock()

	s.monitor.merge(snapshot)
}

// Statistics is the per-transformation aggregate across all closed sessions.
type Statistics struct {
	TransformationID  string
	Name              string
	RecordsProcessed  int64
	RecordsSuccessful int64
	RecordsFailed     int64
	TotalTime         time.Duration
	MinTime           time.Duration
	MaxTime           time.Duration
	PeakMemoryBytes   int64
	TotalMemoryBytes  int64
	MemorySamples     int64
	SessionCount      int64
	FirstExecution    time.Time
	LastExecution     time.Time
}

// AverageTime is the mean per-record processing time across sessions.
func (s Statistics) AverageTime() time.Duration {
	if s.RecordsProcessed == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.RecordsProcessed)
}

// AverageMemoryBytes is the mean of the memory samples.
func (s Statistics) AverageMemoryBytes() int64 {
	if s.MemorySamples == 0 {
		return 0
	}
	return s.TotalMemoryBytes / s.MemorySamples
}

// Throughput is records per second over accumulated processing time.
func (s Statistics) Throughput() float64 {
	if s.TotalTime <= 0 {
		return 0
	}
	return float64(s.RecordsProcessed) / s.TotalTime.Seconds()
}

// ErrorRate is the failed fraction of processed records, in [0, 1].
func (s Statistics) ErrorRate() float64 {
	if s.RecordsProcessed == 0 {
		return 0
	}
	return float64(s.RecordsFailed) / float64(s.RecordsProcessed)
}

// SuccessRate is the successful fraction of processed records, in [0, 1].
func (s Statistics) SuccessRate() float64 {
	if s.RecordsProcessed == 0 {
		return 0
	}
	return float64(s.RecordsSuccessful) / float64(s.RecordsProcessed)
}

// transformEntry guards one transformation's aggregate and history.
type transformEntry struct {
	mu      sync.Mutex
	stats   Statistics
	history []SessionStatistics
}

// Monitor tracks per-transformation performance. Sessions are started per
// execution scope and merged on close; the monitor also satisfies the
// processor observer contract for implicit per-record sampling.
type Monitor struct {
	logger  *logger.Logger
	metrics *Metrics

	mu      sync.RWMutex
	entries map[string]*transformEntry

	implicitMu sync.Mutex
	implicit   map[string]*Session
}

// NewMonitor builds a monitor. Metrics may be nil when Prometheus export is
// not wired.
func NewMonitor(log *logger.Logger, metrics *Metrics) *Monitor {
	if log == nil {
		log = logger.Discard()
	}
	return &Monitor{
		logger:   log,
		metrics:  metrics,
		entries:  make(map[string]*transformEntry),
		implicit: make(map[string]*Session),
	}
}

// StartSession opens a monitoring session for a transformation.
func (m *Monitor) StartSession(transformationID, name string) *Session {
	return &Session{
		monitor: m,
		stats: SessionStatistics{
			SessionID:        uuid.NewString(),
			TransformationID: transformationID,
			Name:             name,
			StartTime:        time.Now().UTC(),
		},
	}
}

// Observe routes processor timing samples into an implicit session per
// transformation. FlushObserved closes the implicit sessions.
func (m *Monitor) Observe(transformationID string, d time.Duration, success bool) {
	m.implicitMu.Lock()
	s, ok := m.implicit[transformationID]
	if !ok {
		s = m.StartSession(transformationID, transformationID)
		m.implicit[transformationID] = s
	}
	m.implicitMu.Unlock()
	s.RecordProcessing(d, success)
}

// FlushObserved closes and merges all implicit sessions.
func (m *Monitor) FlushObserved() {
	m.implicitMu.Lock()
	sessions := make([]*Session, 0, len(m.implicit))
	for _, s := range m.implicit {
		sessions = append(sessions, s)
	}
	m.implicit = make(map[string]*Session)
	m.implicitMu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *Monitor) entry(transformationID string) *transformEntry {
	m.mu.RLock()
	e, ok := m.entries[transformationID]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[transformationID]; ok {
		return e
	}
	e = &transformEntry{}
	m.entries[transformationID] = e
	return e
}

func (m *Monitor) merge(snapshot SessionStatistics) {
	e := m.entry(snapshot.TransformationID)

	e.mu.Lock()
	agg := &e.stats
	agg.TransformationID = snapshot.TransformationID
	if agg.Name == "" {
		agg.Name = snapshot.Name
	}
	agg.RecordsProcessed += snapshot.RecordsProcessed
	agg.RecordsSuccessful += snapshot.RecordsSuccessful
	agg.RecordsFailed += snapshot.RecordsFailed
	agg.TotalTime += snapshot.TotalTime
	if snapshot.MinTime > 0 && (agg.MinTime == 0 || snapshot.MinTime < agg.MinTime) {
		agg.MinTime = snapshot.MinTime
	}
	if snapshot.MaxTime > agg.MaxTime {
		agg.MaxTime = snapshot.MaxTime
	}
	if snapshot.PeakMemoryBytes > agg.PeakMemoryBytes {
		agg.PeakMemoryBytes = snapshot.PeakMemoryBytes
	}
	agg.TotalMemoryBytes += snapshot.TotalMemoryBytes
	agg.MemorySamples += snapshot.MemorySamples
	agg.SessionCount++
	if agg.FirstExecution.IsZero() || snapshot.StartTime.Before(agg.FirstExecution) {
		agg.FirstExecution = snapshot.StartTime
	}
	if snapshot.EndTime.After(agg.LastExecution) {
		agg.LastExecution = snapshot.EndTime
	}

	e.history = append(e.history, snapshot)
	if len(e.history) > sessionHistoryLimit {
		e.history = e.history[len(e.history)-sessionHistoryLimit:]
	}
	peak := agg.PeakMemoryBytes
	e.mu.Unlock()

	m.metrics.observeClose(snapshot.TransformationID, peak)
	m.logger.Debugf("merged session %s for transformation %s (%d records)",
		snapshot.SessionID, snapshot.TransformationID, snapshot.RecordsProcessed)
}

// Statistics returns the aggregate for one transformation.
func (m *Monitor) Statistics(transformationID string) (Statistics, bool) {
	m.mu.RLock()
	e, ok := m.entries[transformationID]
	m.mu.RUnlock()
	if !ok {
		return Statistics{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats, true
}

// AllStatistics returns the aggregates for every monitored transformation.
func (m *Monitor) AllStatistics() []Statistics {
	m.mu.RLock()
	entries := make([]*transformEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Statistics, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.stats)
		e.mu.Unlock()
	}
	return out
}

// SessionHistory returns recent closed sessions for a transformation, oldest
// first.
func (m *Monitor) SessionHistory(transformationID string) []SessionStatistics {
	m.mu.RLock()
	e, ok := m.entries[transformationID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SessionStatistics(nil), e.history...)
}

// Reset discards all aggregates and history.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.entries = make(map[string]*transformEntry)
	m.mu.Unlock()

	m.implicitMu.Lock()
	m.implicit = make(map[string]*Session)
	m.implicitMu.Unlock()
}
