package tracking

import "time"

// Sample is one GPS fix reported by the walking agent. Immutable once stored.
type Sample struct {
	ID           int64     `json:"id"`
	WalkID       string    `json:"walk_id"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	CapturedAt   time.Time `json:"captured_at"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	Speed        *float64  `json:"speed,omitempty"`
	Altitude     *float64  `json:"altitude,omitempty"`
	BatteryLevel *float64  `json:"battery_level,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Summary is the aggregate computed over an ordered run of samples.
type Summary struct {
	TotalDistanceM float64      `json:"total_distance_m"`
	AvgSpeed       float64      `json:"avg_speed"`
	RoutePoints    [][2]float64 `json:"route_points"`
	SampleCount    int          `json:"sample_count"`
	LastSample     *Sample      `json:"last_sample,omitempty"`
}

type TrackMetrics struct {
	TotalDistanceM float64 `json:"total_distance_m"`
	AvgSpeed       float64 `json:"avg_speed"`
	SampleCount    int     `json:"sample_count"`
}

// TrackSummary is what the query path hands back to HTTP callers.
type TrackSummary struct {
	WalkID      string       `json:"walk_id"`
	State       string       `json:"state"`
	Source      string       `json:"source"`
	Metrics     TrackMetrics `json:"metrics"`
	RecentRoute [][2]float64 `json:"recent_route"`
	LastSample  *Sample      `json:"last_sample,omitempty"`
}

// PositionRequest is the HTTP body for a reported position.
type PositionRequest struct {
	Lat          *float64   `json:"lat" validate:"required"`
	Lng          *float64   `json:"lng" validate:"required"`
	CapturedAt   *time.Time `json:"captured_at"`
	Accuracy     *float64   `json:"accuracy" validate:"omitempty,gte=0"`
	Speed        *float64   `json:"speed" validate:"omitempty,gte=0"`
	Altitude     *float64   `json:"altitude"`
	BatteryLevel *float64   `json:"battery_level" validate:"omitempty,gte=0,lte=100"`
}

func (r PositionRequest) Sample() Sample {
	s := Sample{
		Accuracy:     r.Accuracy,
		Speed:        r.Speed,
		Altitude:     r.Altitude,
		BatteryLevel: r.BatteryLevel,
	}
	if r.Lat != nil {
		s.Lat = *r.Lat
	}
	if r.Lng != nil {
		s.Lng = *r.Lng
	}
	if r.CapturedAt != nil {
		s.CapturedAt = *r.CapturedAt
	}
	return s
}
