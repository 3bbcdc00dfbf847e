package tracking

import (
	"math"

	"backend-pawwalk/internal/shared/geo"
)

// RouteWindow is how many trailing positions a summary keeps for display.
const RouteWindow = 100

// Aggregator computes walk metrics. Pairs further apart than
// OutlierThresholdM are treated as GPS jumps and contribute nothing.
type Aggregator struct {
	OutlierThresholdM float64
}

// Summarize uses the default outlier threshold.
func Summarize(samples []Sample) Summary {
	return Aggregator{OutlierThresholdM: DefaultOutlierThresholdM}.Summarize(samples)
}

func (a Aggregator) Summarize(samples []Sample) Summary {
	threshold := a.OutlierThresholdM
	if threshold <= 0 {
		threshold = DefaultOutlierThresholdM
	}

	var distance, speedSum float64
	var speedCount int
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		d := geo.HaversineDistanceMeters(prev.Lat, prev.Lng, cur.Lat, cur.Lng)
		if d > threshold {
			continue
		}
		distance += d
		if cur.Speed != nil {
			speedSum += *cur.Speed
			speedCount++
		}
	}

	avgSpeed := 0.0
	if speedCount > 0 {
		avgSpeed = speedSum / float64(speedCount)
	}

	start := 0
	if len(samples) > RouteWindow {
		start = len(samples) - RouteWindow
	}
	route := make([][2]float64, 0, len(samples)-start)
	for _, s := range samples[start:] {
		route = append(route, [2]float64{s.Lng, s.Lat})
	}

	summary := Summary{
		TotalDistanceM: math.Round(distance),
		AvgSpeed:       math.Round(avgSpeed*10) / 10,
		RoutePoints:    route,
		SampleCount:    len(samples),
	}
	if n := len(samples); n > 0 {
		last := samples[n-1]
		summary.LastSample = &last
	}
	return summary
}
