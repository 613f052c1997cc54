package anomaly

import "math"

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}

// zScore returns |value - mean| / std over the historical values, or 0 when
// there are fewer than 3 samples or no spread.
func zScore(value float64, historical []float64) float64 {
	if len(historical) < 3 {
		return 0
	}
	sd := stddev(historical)
	if sd == 0 {
		return 0
	}
	return math.Abs((value - mean(historical)) / sd)
}
