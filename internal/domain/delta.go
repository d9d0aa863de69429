package domain

// PipelineDelta is one batch's contribution to a pipeline rollup.
// Sums are carried instead of means so concurrent deltas merge by pure
// increment, with no read-modify-write of stored averages.
type PipelineDelta struct {
	Tests      int          `json:"tests"`
	Successes  int          `json:"successes"`
	LatencySum float64      `json:"latency_sum"`
	QualitySum float64      `json:"quality_sum"`
	Failures   []ErrorEntry `json:"failures,omitempty"`
}

// CategoryDelta is one batch's contribution to a category rollup.
type CategoryDelta struct {
	Tests      int     `json:"tests"`
	Successes  int     `json:"successes"`
	QualitySum float64 `json:"quality_sum"`
}

// ResultsDelta is everything one batch contributes to job results. Two
// deltas merged in either order produce the same stored state, which is
// what makes near-simultaneous batch completions safe.
type ResultsDelta struct {
	Pipelines  map[string]PipelineDelta `json:"pipelines,omitempty"`
	Categories map[string]CategoryDelta `json:"categories,omitempty"`
	Errors     []ErrorEntry             `json:"errors,omitempty"`
}

// Empty reports whether the delta carries no contribution.
func (d *ResultsDelta) Empty() bool {
	return d == nil || (len(d.Pipelines) == 0 && len(d.Categories) == 0 && len(d.Errors) == 0)
}

// MergeDelta folds a delta into materialized results. Averages are
// recomputed from the combined sums: newAvg covers exactly the old
// successes plus the delta's, never re-averaging stored samples.
func MergeDelta(results *JobResults, delta *ResultsDelta) {
	if delta.Empty() {
		return
	}

	for name, pd := range delta.Pipelines {
		pr := results.ByPipeline[name]
		if pr == nil {
			pr = &PipelineResult{}
			results.ByPipeline[name] = pr
		}
		oldSuccess := pr.SuccessCount
		pr.TotalTests += pd.Tests
		pr.SuccessCount += pd.Successes
		if pr.SuccessCount > 0 {
			pr.AvgLatencyMS = (pr.AvgLatencyMS*float64(oldSuccess) + pd.LatencySum) / float64(pr.SuccessCount)
			pr.AvgQuality = (pr.AvgQuality*float64(oldSuccess) + pd.QualitySum) / float64(pr.SuccessCount)
		}
		if pr.TotalTests > 0 {
			pr.SuccessRate = float64(pr.SuccessCount) / float64(pr.TotalTests)
		}
		pr.Failures = append(pr.Failures, pd.Failures...)
	}

	for name, cd := range delta.Categories {
		cr := results.ByCategory[name]
		if cr == nil {
			cr = &CategoryResult{Category: name}
			results.ByCategory[name] = cr
		}
		oldSuccess := cr.SuccessCount
		cr.TotalTests += cd.Tests
		cr.SuccessCount += cd.Successes
		if cr.SuccessCount > 0 {
			cr.AvgQuality = (cr.AvgQuality*float64(oldSuccess) + cd.QualitySum) / float64(cr.SuccessCount)
		}
	}

	results.Errors = append(results.Errors, delta.Errors...)
}
