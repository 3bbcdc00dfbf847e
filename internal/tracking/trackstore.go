package tracking

import (
	"context"
	"sync"
	"time"

	"backend-pawwalk/internal/logging"
	"backend-pawwalk/internal/metrics"
)

// TrackStore is the per-walk hot cache of recent samples. Entries are kept
// in append order and trimmed by capture age, never by size or access.
// It holds a subset of durable history and is never authoritative.
type TrackStore struct {
	retention time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]*trackEntry
}

type trackEntry struct {
	mu      sync.Mutex
	samples []Sample
	removed bool
}

func NewTrackStore(retention time.Duration) *TrackStore {
	return &TrackStore{
		retention: retention,
		now:       time.Now,
		entries:   map[string]*trackEntry{},
	}
}

// entry returns the live entry for walkID, creating it when create is set.
func (s *TrackStore) entry(walkID string, create bool) *trackEntry {
	s.mu.RLock()
	e := s.entries[walkID]
	s.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.entries[walkID]; e == nil {
		e = &trackEntry{}
		s.entries[walkID] = e
		metrics.TrackCacheEntries.Set(float64(len(s.entries)))
	}
	return e
}

func (s *TrackStore) Append(walkID string, sample Sample) {
	for {
		e := s.entry(walkID, true)
		e.mu.Lock()
		if e.removed {
			// Lost a race with Sweep or Evict; pick up the replacement entry.
			e.mu.Unlock()
			continue
		}
		// A lazy Seed may already hold this row if it read storage after the write.
		if n := len(e.samples); n > 0 && sample.ID != 0 && e.samples[n-1].ID == sample.ID {
			e.mu.Unlock()
			return
		}
		e.samples = append(e.samples, sample)
		e.mu.Unlock()
		return
	}
}

// GetRecent returns a copy of the cached samples still inside the retention
// window. ok is false on a miss, which sends callers to durable storage.
func (s *TrackStore) GetRecent(walkID string) ([]Sample, bool) {
	e := s.entry(walkID, false)
	if e == nil {
		return nil, false
	}
	cutoff := s.now().Add(-s.retention)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, false
	}
	out := make([]Sample, 0, len(e.samples))
	for _, sample := range e.samples {
		if !sample.CapturedAt.Before(cutoff) {
			out = append(out, sample)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Seed creates the entry from durable history if nothing has been cached yet.
func (s *TrackStore) Seed(walkID string, samples []Sample) {
	cutoff := s.now().Add(-s.retention)
	kept := make([]Sample, 0, len(samples))
	for _, sample := range samples {
		if !sample.CapturedAt.Before(cutoff) {
			kept = append(kept, sample)
		}
	}
	if len(kept) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[walkID]; ok {
		return
	}
	s.entries[walkID] = &trackEntry{samples: kept}
	metrics.TrackCacheEntries.Set(float64(len(s.entries)))
}

func (s *TrackStore) Evict(walkID string) {
	s.mu.Lock()
	e := s.entries[walkID]
	delete(s.entries, walkID)
	metrics.TrackCacheEntries.Set(float64(len(s.entries)))
	s.mu.Unlock()

	if e != nil {
		e.mu.Lock()
		e.removed = true
		e.samples = nil
		e.mu.Unlock()
	}
}

func (s *TrackStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep drops samples older than the retention window and removes entries
// left empty. Each entry is locked on its own, so ingestion on other walks
// is never held up.
func (s *TrackStore) Sweep() {
	samples, entries := s.sweep()
	if samples > 0 || entries > 0 {
		logging.Debug().Int("samples", samples).Int("entries", entries).Msg("track cache swept")
	}
}

func (s *TrackStore) sweep() (removedSamples, removedEntries int) {
	cutoff := s.now().Add(-s.retention)

	s.mu.RLock()
	snapshot := make(map[string]*trackEntry, len(s.entries))
	for id, e := range s.entries {
		snapshot[id] = e
	}
	s.mu.RUnlock()

	var empty []string
	for id, e := range snapshot {
		e.mu.Lock()
		kept := make([]Sample, 0, len(e.samples))
		for _, sample := range e.samples {
			if !sample.CapturedAt.Before(cutoff) {
				kept = append(kept, sample)
			}
		}
		removedSamples += len(e.samples) - len(kept)
		e.samples = kept
		if len(kept) == 0 {
			empty = append(empty, id)
		}
		e.mu.Unlock()
	}

	if len(empty) > 0 {
		s.mu.Lock()
		for _, id := range empty {
			e := s.entries[id]
			if e == nil || e != snapshot[id] {
				continue
			}
			e.mu.Lock()
			// An append may have landed since the first pass.
			if len(e.samples) == 0 {
				e.removed = true
				delete(s.entries, id)
				removedEntries++
			}
			e.mu.Unlock()
		}
		metrics.TrackCacheEntries.Set(float64(len(s.entries)))
		s.mu.Unlock()
	}

	metrics.TrackCacheSwept.Add(float64(removedSamples))
	return removedSamples, removedEntries
}

// Sweepable is anything the Sweeper should run on each tick.
type Sweepable interface {
	Sweep()
}

// Sweeper runs periodic sweeps until its context is cancelled. It satisfies
// suture.Service.
type Sweeper struct {
	interval time.Duration
	targets  []Sweepable
}

func NewSweeper(interval time.Duration, targets ...Sweepable) *Sweeper {
	return &Sweeper{interval: interval, targets: targets}
}

func (w *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, t := range w.targets {
				t.Sweep()
			}
		}
	}
}

func (w *Sweeper) String() string {
	return "track-sweeper"
}
