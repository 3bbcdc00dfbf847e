package tracking

import (
	"context"
	"errors"
	"fmt"

	"backend-pawwalk/internal/db"
	"backend-pawwalk/internal/metrics"
	"backend-pawwalk/internal/walk"
)

// Service is the tracking entry point used by the HTTP layer.
type Service struct {
	walks    WalkFinder
	samples  SampleStore
	tracks   *TrackStore
	ingestor *Ingestor
	agg      Aggregator
	cfg      Config
}

func NewService(walks WalkFinder, samples SampleStore, tracks *TrackStore, publisher Publisher, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		walks:    walks,
		samples:  samples,
		tracks:   tracks,
		ingestor: NewIngestor(walks, samples, tracks, publisher, cfg),
		agg:      Aggregator{OutlierThresholdM: cfg.OutlierThresholdM},
		cfg:      cfg,
	}
}

func (s *Service) IngestPosition(ctx context.Context, walkID, agentID string, sample Sample) (Sample, error) {
	return s.ingestor.Ingest(ctx, walkID, agentID, sample)
}

// QueryTrackSummary serves in-progress walks from the hot cache when it has
// them, seeding it from storage on a miss. Other walks read storage directly.
func (s *Service) QueryTrackSummary(ctx context.Context, walkID, userID string) (TrackSummary, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	w, err := s.walks.FindWalk(lookupCtx, walkID)
	cancel()
	if err != nil {
		return TrackSummary{}, lookupError(err)
	}
	if d := walk.CanSubscribe(&w, userID); !d.Allowed {
		return TrackSummary{}, fromDecision(d)
	}

	source := "storage"
	var samples []Sample
	if w.State == walk.StateInProgress {
		if cached, ok := s.tracks.GetRecent(walkID); ok {
			samples, source = cached, "cache"
		}
	}
	if samples == nil {
		samples, err = s.loadHistory(ctx, walkID, w.State == walk.StateInProgress)
		if err != nil {
			return TrackSummary{}, err
		}
		if w.State == walk.StateInProgress {
			s.tracks.Seed(walkID, samples)
		}
	}
	metrics.TrackCacheReads.WithLabelValues(source).Inc()

	sum := s.agg.Summarize(samples)
	return TrackSummary{
		WalkID: walkID,
		State:  string(w.State),
		Source: source,
		Metrics: TrackMetrics{
			TotalDistanceM: sum.TotalDistanceM,
			AvgSpeed:       sum.AvgSpeed,
			SampleCount:    sum.SampleCount,
		},
		RecentRoute: sum.RoutePoints,
		LastSample:  sum.LastSample,
	}, nil
}

// loadHistory reads a capped run of samples from storage. A live walk gets its
// newest samples so the cache seeded from them stays contiguous with later
// appends; a closed walk is read from the start.
func (s *Service) loadHistory(ctx context.Context, walkID string, live bool) ([]Sample, error) {
	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	var samples []Sample
	var err error
	if live {
		samples, err = s.samples.LoadRecentSamples(loadCtx, walkID, s.cfg.SummarySampleLimit, OrderAsc)
	} else {
		samples, err = s.samples.LoadAllSamples(loadCtx, walkID, s.cfg.SummarySampleLimit)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, reject(ReasonTimeout, "loading track history timed out")
	}
	if errors.Is(err, db.ErrUnavailable) {
		return nil, reject(ReasonUnavailable, "track storage unavailable")
	}
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	return samples, nil
}

// Evict drops hot state for a walk that has left InProgress.
func (s *Service) Evict(walkID string) {
	s.tracks.Evict(walkID)
	s.ingestor.Forget(walkID)
}

// Sweepables lists what the background sweeper should run.
func (s *Service) Sweepables() []Sweepable {
	return []Sweepable{s.tracks, s.ingestor}
}
