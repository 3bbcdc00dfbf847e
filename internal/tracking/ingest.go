package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"backend-pawwalk/internal/db"
	"backend-pawwalk/internal/logging"
	"backend-pawwalk/internal/metrics"
	"backend-pawwalk/internal/shared/geo"
	"backend-pawwalk/internal/walk"
)

type WalkFinder interface {
	FindWalk(ctx context.Context, id string) (walk.Walk, error)
}

type SampleStore interface {
	SaveSample(ctx context.Context, s Sample) (Sample, error)
	LoadRecentSamples(ctx context.Context, walkID string, limit int, order Order) ([]Sample, error)
	LoadAllSamples(ctx context.Context, walkID string, limit int) ([]Sample, error)
}

// Publisher receives accepted samples for live fan-out. It must not block.
type Publisher interface {
	PublishPosition(walkID string, sample Sample)
}

// Ingestor validates and stores incoming samples. A sample is either fully
// persisted and cached, or rejected before any write.
type Ingestor struct {
	walks     WalkFinder
	samples   SampleStore
	tracks    *TrackStore
	publisher Publisher
	limiters  *walkLimiters

	timeout         time.Duration
	geofenceRadiusM float64
	now             func() time.Time
}

func NewIngestor(walks WalkFinder, samples SampleStore, tracks *TrackStore, publisher Publisher, cfg Config) *Ingestor {
	cfg = cfg.withDefaults()
	return &Ingestor{
		walks:           walks,
		samples:         samples,
		tracks:          tracks,
		publisher:       publisher,
		limiters:        newWalkLimiters(cfg.IngestRatePerSec, cfg.IngestBurst, cfg.TrackRetention),
		timeout:         cfg.PersistTimeout,
		geofenceRadiusM: cfg.GeofenceRadiusM,
		now:             time.Now,
	}
}

func (i *Ingestor) Ingest(ctx context.Context, walkID, agentID string, raw Sample) (Sample, error) {
	start := time.Now()
	stored, err := i.ingest(ctx, walkID, agentID, raw)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	if reason, ok := ReasonOf(err); ok {
		metrics.IngestTotal.WithLabelValues(string(reason)).Inc()
		logging.Debug().Str("walk_id", walkID).Str("agent_id", agentID).Str("reason", string(reason)).Msg("sample rejected")
		return Sample{}, err
	}
	if err != nil {
		metrics.IngestTotal.WithLabelValues("error").Inc()
		logging.Error().Err(err).Str("walk_id", walkID).Msg("sample ingest failed")
		return Sample{}, err
	}
	metrics.IngestTotal.WithLabelValues("accepted").Inc()
	return stored, nil
}

func (i *Ingestor) ingest(ctx context.Context, walkID, agentID string, raw Sample) (Sample, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, i.timeout)
	w, err := i.walks.FindWalk(lookupCtx, walkID)
	cancel()
	if err != nil {
		return Sample{}, lookupError(err)
	}

	// Re-checked on every sample: a finish may race with in-flight positions.
	if d := walk.CanIngest(&w, agentID); !d.Allowed {
		return Sample{}, fromDecision(d)
	}

	if !geo.IsValidCoordinate(raw.Lat, raw.Lng) {
		return Sample{}, reject(ReasonInvalidCoordinate, "coordinate out of range: lat=%v lng=%v", raw.Lat, raw.Lng)
	}

	// Checked against the origin on every sample, not only the first.
	if w.HasOrigin() {
		d := geo.HaversineDistanceMeters(*w.OriginLat, *w.OriginLng, raw.Lat, raw.Lng)
		if d > i.geofenceRadiusM {
			rej := reject(ReasonOutOfGeofence, "position is %.0fm from the walk origin, limit is %.0fm", d, i.geofenceRadiusM)
			rej.DistanceM = math.Round(d)
			return Sample{}, rej
		}
	}

	if !i.limiters.Allow(walkID) {
		return Sample{}, reject(ReasonRateLimited, "too many positions for this walk")
	}

	raw.ID = 0
	raw.WalkID = walkID
	if raw.CapturedAt.IsZero() {
		raw.CapturedAt = i.now()
	}

	saveCtx, cancel := context.WithTimeout(ctx, i.timeout)
	stored, err := i.samples.SaveSample(saveCtx, raw)
	cancel()
	if errors.Is(err, context.DeadlineExceeded) {
		return Sample{}, reject(ReasonTimeout, "storing the position timed out after %s", i.timeout)
	}
	if errors.Is(err, db.ErrUnavailable) {
		return Sample{}, reject(ReasonUnavailable, "position storage unavailable")
	}
	if err != nil {
		return Sample{}, fmt.Errorf("save sample: %w", err)
	}

	i.tracks.Append(walkID, stored)
	if i.publisher != nil {
		i.publisher.PublishPosition(walkID, stored)
	}
	return stored, nil
}

// Forget releases per-walk ingestion state.
func (i *Ingestor) Forget(walkID string) {
	i.limiters.Forget(walkID)
}

func (i *Ingestor) Sweep() {
	i.limiters.Sweep()
}
