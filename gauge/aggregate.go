package gauge

import "time"

// DefaultWindow is used when a caller passes a non-positive window.
const DefaultWindow = 24 * time.Hour

// Aggregate computes summary statistics over the samples whose timestamp
// falls within [now-window, now]. The lower bound is inclusive. Samples are
// expected oldest first; LatestValue is the value of the last matching one.
// It returns StatusNoData when nothing matches. The Metric field is left
// for the caller to fill.
func Aggregate(samples []Sample, now time.Time, window time.Duration) StatsResult {
	if window <= 0 {
		window = DefaultWindow
	}
	res := StatsResult{Window: window, Status: StatusNoData}

	cutoff := now.Add(-window)
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		if len(values) == 0 {
			res.FirstSeen = s.Timestamp
		}
		values = append(values, s.Value)
		res.LastSeen = s.Timestamp
		res.LatestValue = s.Value
	}
	if len(values) == 0 {
		res.FirstSeen = time.Time{}
		res.LastSeen = time.Time{}
		return res
	}

	res.Status = StatusOK
	res.Count = len(values)
	res.Min = values[0]
	res.Max = values[0]
	for _, v := range values {
		res.Sum += v
		if v < res.Min {
			res.Min = v
		}
		if v > res.Max {
			res.Max = v
		}
	}
	res.Mean = res.Sum / float64(res.Count)
	res.StdDev = SampleStdDev(values, res.Mean)

	sorted := sortedCopy(values)
	res.Median = Median(sorted)
	res.P95 = PercentileFloat(sorted, 95)
	res.P99 = PercentileFloat(sorted, 99)
	return res
}
