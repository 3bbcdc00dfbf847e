package tracking

import "time"

const (
	DefaultPersistTimeout     = 2 * time.Second
	DefaultTrackRetention     = 2 * time.Hour
	DefaultGeofenceRadiusM    = 1000.0
	DefaultOutlierThresholdM  = 100.0
	DefaultSummarySampleLimit = 1000
)

type Config struct {
	PersistTimeout     time.Duration
	TrackRetention     time.Duration
	GeofenceRadiusM    float64
	OutlierThresholdM  float64
	SummarySampleLimit int
	// IngestRatePerSec <= 0 disables per-walk rate limiting.
	IngestRatePerSec float64
	IngestBurst      int
}

func (c Config) withDefaults() Config {
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	if c.TrackRetention <= 0 {
		c.TrackRetention = DefaultTrackRetention
	}
	if c.GeofenceRadiusM <= 0 {
		c.GeofenceRadiusM = DefaultGeofenceRadiusM
	}
	if c.OutlierThresholdM <= 0 {
		c.OutlierThresholdM = DefaultOutlierThresholdM
	}
	if c.SummarySampleLimit <= 0 {
		c.SummarySampleLimit = DefaultSummarySampleLimit
	}
	return c
}
