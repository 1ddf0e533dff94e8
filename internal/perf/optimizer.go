package perf

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// IssueSeverity grades a detected performance problem.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityHigh     IssueSeverity = "high"
	SeverityMedium   IssueSeverity = "medium"
	SeverityLow      IssueSeverity = "low"
)

// Issue is one detected performance problem with a suggested remedy.
type Issue struct {
	Severity   IssueSeverity
	Message    string
	Suggestion string
}

// ParallelRecommendation advises on parallel execution for a transformation.
type ParallelRecommendation struct {
	Recommended         bool
	DegreeOfParallelism int
	EstimatedSpeedup    float64
	Reason              string
}

// Report grades a transformation's performance.
type Report struct {
	TransformationID string
	Score            int
	Grade            string
	Issues           []Issue
	Statistics       Statistics
}

const (
	defaultTargetThroughput = 1000.0 // records per second
	batchSizeCacheTTL       = 30 * time.Minute

	peakMemorySoftLimit = 100 * 1024 * 1024
	peakMemoryHardLimit = 500 * 1024 * 1024
)

type cachedBatchSize struct {
	size     int
	cachedAt time.Time
}

// Optimizer derives tuning advice from monitor statistics.
type Optimizer struct {
	monitor          *Monitor
	cores            int
	targetThroughput float64

	mu    sync.Mutex
	cache map[string]cachedBatchSize
	now   func() time.Time
}

// NewOptimizer builds an optimizer over the given monitor.
func NewOptimizer(monitor *Monitor) *Optimizer {
	return &Optimizer{
		monitor:          monitor,
		cores:            runtime.NumCPU(),
		targetThroughput: defaultTargetThroughput,
		cache:            make(map[string]cachedBatchSize),
		now:              time.Now,
	}
}

// OptimalBatchSize recommends a batch size for the transformation. The
// recommendation is cached for thirty minutes.
func (o *Optimizer) OptimalBatchSize(transformationID string) int {
	o.mu.Lock()
	if c, ok := o.cache[transformationID]; ok && o.now().Sub(c.cachedAt) < batchSizeCacheTTL {
		o.mu.Unlock()
		return c.size
	}
	o.mu.Unlock()

	size := o.computeBatchSize(transformationID)

	o.mu.Lock()
	o.cache[transformationID] = cachedBatchSize{size: size, cachedAt: o.now()}
	o.mu.Unlock()
	return size
}

func (o *Optimizer) computeBatchSize(transformationID string) int {
	stats, ok := o.monitor.Statistics(transformationID)
	if !ok || stats.RecordsProcessed == 0 {
		return 100
	}

	avgMs := float64(stats.AverageTime()) / float64(time.Millisecond)
	throughput := stats.Throughput()
	if throughput == 0 {
		// No elapsed time recorded; there is nothing to extrapolate from.
		return 100
	}

	switch {
	case throughput < o.targetThroughput && avgMs < 100:
		size := int(o.targetThroughput / throughput * 100)
		if size > 1000 {
			size = 1000
		}
		if size < 1 {
			size = 1
		}
		return size
	case avgMs > 1000:
		size := int(100000 / avgMs)
		if size < 10 {
			size = 10
		}
		return size
	default:
		return 100
	}
}

// RecommendParallel advises whether a transformation benefits from parallel
// execution.
func (o *Optimizer) RecommendParallel(transformationID string) ParallelRecommendation {
	stats, ok := o.monitor.Statistics(transformationID)
	if !ok || stats.RecordsProcessed == 0 {
		return ParallelRecommendation{Reason: "no statistics recorded"}
	}

	avgMs := float64(stats.AverageTime()) / float64(time.Millisecond)
	throughput := stats.Throughput()
	errorRate := stats.ErrorRate()

	switch {
	case avgMs <= 10:
		return ParallelRecommendation{Reason: "per-record time too low to amortize worker overhead"}
	case throughput >= 500:
		return ParallelRecommendation{Reason: "throughput already sufficient"}
	case errorRate >= 0.10:
		return ParallelRecommendation{Reason: "error rate too high; fix failures before parallelizing"}
	}

	dop := int(avgMs / 10)
	if dop < 2 {
		dop = 2
	}
	if dop > o.cores {
		dop = o.cores
	}
	speedup := float64(dop) * 0.8
	if limit := float64(o.cores) * 0.6; speedup > limit {
		speedup = limit
	}
	return ParallelRecommendation{
		Recommended:         true,
		DegreeOfParallelism: dop,
		EstimatedSpeedup:    speedup,
		Reason:              fmt.Sprintf("avg %.1f ms/record at %.0f rec/s", avgMs, throughput),
	}
}

// MemoryRecommendations lists memory advisories for a transformation.
func (o *Optimizer) MemoryRecommendations(transformationID string) []Issue {
	stats, ok := o.monitor.Statistics(transformationID)
	if !ok {
		return nil
	}

	var issues []Issue
	peak := stats.PeakMemoryBytes
	avg := stats.AverageMemoryBytes()

	if peak > peakMemoryHardLimit {
		issues = append(issues, Issue{
			Severity:   SeverityHigh,
			Message:    fmt.Sprintf("peak memory %d MB exceeds 500 MB", peak/(1024*1024)),
			Suggestion: "switch to streaming processing instead of buffering full batches",
		})
	} else if peak > peakMemorySoftLimit {
		issues = append(issues, Issue{
			Severity:   SeverityMedium,
			Message:    fmt.Sprintf("peak memory %d MB exceeds 100 MB", peak/(1024*1024)),
			Suggestion: "reduce the batch size",
		})
	}
	if avg > 0 && peak > 3*avg {
		issues = append(issues, Issue{
			Severity:   SeverityMedium,
			Message:    "peak memory exceeds three times the average",
			Suggestion: "pool and reuse buffers to flatten allocation spikes",
		})
	}
	return issues
}

// Analyze produces the scored report for a transformation.
func (o *Optimizer) Analyze(transformationID string) Report {
	stats, ok := o.monitor.Statistics(transformationID)
	report := Report{TransformationID: transformationID, Statistics: stats}
	if !ok || stats.RecordsProcessed == 0 {
		report.Score = 100
		report.Grade = gradeFor(report.Score)
		return report
	}

	avgMs := float64(stats.AverageTime()) / float64(time.Millisecond)
	throughput := stats.Throughput()
	errorRate := stats.ErrorRate()

	if errorRate >= 0.10 {
		report.Issues = append(report.Issues, Issue{
			Severity:   SeverityCritical,
			Message:    fmt.Sprintf("error rate %.1f%%", errorRate*100),
			Suggestion: "inspect failing records; the transformation is unreliable at this rate",
		})
	} else if errorRate >= 0.01 {
		report.Issues = append(report.Issues, Issue{
			Severity:   SeverityMedium,
			Message:    fmt.Sprintf("error rate %.1f%%", errorRate*100),
			Suggestion: "review recent errors in the session history",
		})
	}
	if avgMs > 1000 {
		report.Issues = append(report.Issues, Issue{
			Severity:   SeverityHigh,
			Message:    fmt.Sprintf("average record time %.0f ms", avgMs),
			Suggestion: "profile the transformation; consider smaller batches",
		})
	} else if avgMs > 100 {
		report.Issues = append(report.Issues, Issue{
			Severity:   SeverityLow,
			Message:    fmt.Sprintf("average record time %.0f ms", avgMs),
			Suggestion: "consider parallel execution",
		})
	}
	if throughput > 0 && throughput < 100 {
		report.Issues = append(report.Issues, Issue{
			Severity:   SeverityMedium,
			Message:    fmt.Sprintf("throughput %.0f rec/s", throughput),
			Suggestion: "increase batch size or enable parallel execution",
		})
	}
	report.Issues = append(report.Issues, o.MemoryRecommendations(transformationID)...)

	score := 100
	for _, issue := range report.Issues {
		switch issue.Severity {
		case SeverityCritical:
			score -= 30
		case SeverityHigh:
			score -= 20
		case SeverityMedium:
			score -= 10
		case SeverityLow:
			score -= 5
		}
	}
	if throughput > 1000 {
		score += 10
	}
	if errorRate < 0.01 {
		score += 10
	}
	if stats.SuccessRate() > 0.99 {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	report.Score = score
	report.Grade = gradeFor(score)
	return report
}

func gradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
