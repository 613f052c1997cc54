package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/warehouse-ops/pipeline/internal/event"
)

// basicStats mirrors the summary block emitted for every value series:
// count, sum, mean, min, max, population std (0 for a single sample) and the
// interpolated median.
func basicStats(values []float64) event.Record {
	if len(values) == 0 {
		return event.Record{"count": 0, "sum": 0.0, "mean": 0.0, "min": 0.0, "max": 0.0}
	}

	sum, minV, maxV := 0.0, values[0], values[0]
	for _, v := range values {
		sum += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	m := sum / float64(len(values))

	sd := 0.0
	if len(values) > 1 {
		sq := 0.0
		for _, v := range values {
			sq += (v - m) * (v - m)
		}
		sd = math.Sqrt(sq / float64(len(values)))
	}

	return event.Record{
		"count":  len(values),
		"sum":    sum,
		"mean":   m,
		"min":    minV,
		"max":    maxV,
		"std":    sd,
		"median": percentile(values, 50),
	}
}

var defaultPercentiles = []int{50, 75, 90, 95, 99}

func percentileStats(values []float64) event.Record {
	if len(values) == 0 {
		return event.Record{}
	}
	out := make(event.Record, len(defaultPercentiles))
	for _, p := range defaultPercentiles {
		out[fmt.Sprintf("p%d", p)] = percentile(values, p)
	}
	return out
}

// percentile uses linear interpolation between closest ranks, matching the
// conventional statistics-library default.
func percentile(values []float64, p int) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := float64(p) / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}

// trendDirection fits a least-squares slope over the series ordered by
// arrival and buckets it into increasing, decreasing or stable. Fewer than
// 3 points cannot carry a trend.
func trendDirection(values []float64) string {
	if len(values) < 3 {
		return "insufficient_data"
	}

	n := float64(len(values))
	meanX := (n - 1) / 2
	meanY := 0.0
	for _, v := range values {
		meanY += v
	}
	meanY /= n

	num, den := 0.0, 0.0
	for i, v := range values {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
	}
	slope := num / den

	switch {
	case slope > 0.1:
		return "increasing"
	case slope < -0.1:
		return "decreasing"
	default:
		return "stable"
	}
}
