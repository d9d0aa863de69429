// Package aggregation folds individual test outcomes into per-pipeline,
// per-category, and overall rollups. All folds use running-mean updates
// so memory stays proportional to the number of pipelines and
// categories, never to the number of tests.
package aggregation

import (
	"time"

	"github.com/medscale/qgen-eval/internal/domain"
)

// TestOutcome is the result of executing one test case: either a
// success with latency and quality measurements, or a recorded failure.
type TestOutcome struct {
	Case      domain.TestCase
	Success   bool
	LatencyMS float64
	Quality   float64

	// Failure holds the error record for unsuccessful tests.
	Failure *domain.ErrorEntry
}

// runningMean applies the incremental average update so raw samples are
// never stored: newAvg = (oldAvg*(n-1) + x) / n.
func runningMean(oldAvg float64, n int, x float64) float64 {
	if n <= 0 {
		return 0
	}
	return (oldAvg*float64(n-1) + x) / float64(n)
}

// FoldTestOutcome merges one outcome into the results. Pipeline and
// category rollups grow monotonically; failure entries are appended to
// both the pipeline's failure list and the job-level error log.
func FoldTestOutcome(results *domain.JobResults, outcome TestOutcome) {
	pr := results.ByPipeline[outcome.Case.Pipeline]
	if pr == nil {
		pr = &domain.PipelineResult{}
		results.ByPipeline[outcome.Case.Pipeline] = pr
	}

	pr.TotalTests++
	if outcome.Success {
		pr.SuccessCount++
		pr.AvgLatencyMS = runningMean(pr.AvgLatencyMS, pr.SuccessCount, outcome.LatencyMS)
		pr.AvgQuality = runningMean(pr.AvgQuality, pr.SuccessCount, outcome.Quality)
	} else if outcome.Failure != nil {
		pr.Failures = append(pr.Failures, *outcome.Failure)
		results.Errors = append(results.Errors, *outcome.Failure)
	}
	pr.SuccessRate = successRate(pr.SuccessCount, pr.TotalTests)

	cr := results.ByCategory[outcome.Case.Category]
	if cr == nil {
		cr = &domain.CategoryResult{Category: outcome.Case.Category}
		results.ByCategory[outcome.Case.Category] = cr
	}
	cr.TotalTests++
	if outcome.Success {
		cr.SuccessCount++
		cr.AvgQuality = runningMean(cr.AvgQuality, cr.SuccessCount, outcome.Quality)
	}
}

// DeltaFromOutcomes condenses a batch's outcomes into the sum-based
// delta the job store merges atomically. Building sums here keeps the
// store contract increment-only.
func DeltaFromOutcomes(outcomes []TestOutcome) *domain.ResultsDelta {
	delta := &domain.ResultsDelta{
		Pipelines:  make(map[string]domain.PipelineDelta),
		Categories: make(map[string]domain.CategoryDelta),
	}

	for _, outcome := range outcomes {
		pd := delta.Pipelines[outcome.Case.Pipeline]
		pd.Tests++
		if outcome.Success {
			pd.Successes++
			pd.LatencySum += outcome.LatencyMS
			pd.QualitySum += outcome.Quality
		} else if outcome.Failure != nil {
			pd.Failures = append(pd.Failures, *outcome.Failure)
			delta.Errors = append(delta.Errors, *outcome.Failure)
		}
		delta.Pipelines[outcome.Case.Pipeline] = pd

		cd := delta.Categories[outcome.Case.Category]
		cd.Tests++
		if outcome.Success {
			cd.Successes++
			cd.QualitySum += outcome.Quality
		}
		delta.Categories[outcome.Case.Category] = cd
	}

	return delta
}

// FinalizeOverall computes the aggregate metrics across pipelines.
// Latency and quality averages are weighted by each pipeline's success
// count, so pipelines with zero successes contribute zero weight rather
// than NaN.
func FinalizeOverall(results *domain.JobResults, startedAt time.Time) *domain.OverallMetrics {
	overall := &domain.OverallMetrics{}

	var weightedLatency, weightedQuality float64
	for _, pr := range results.ByPipeline {
		overall.TotalTests += pr.TotalTests
		overall.TotalSuccesses += pr.SuccessCount
		weightedLatency += pr.AvgLatencyMS * float64(pr.SuccessCount)
		weightedQuality += pr.AvgQuality * float64(pr.SuccessCount)
	}

	overall.OverallSuccessRate = successRate(overall.TotalSuccesses, overall.TotalTests)
	if overall.TotalSuccesses > 0 {
		weight := float64(overall.TotalSuccesses)
		overall.AvgLatencyMS = weightedLatency / weight
		overall.AvgQuality = weightedQuality / weight
	}
	if !startedAt.IsZero() {
		overall.TotalDurationMS = time.Since(startedAt).Milliseconds()
	}

	results.Overall = overall
	return overall
}

// successRate guards the zero-test case so rates never divide by zero.
func successRate(successes, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(successes) / float64(total)
}
