package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-pawwalk/internal/walk"
)

type fakeWalks struct {
	mu    sync.Mutex
	walks map[string]walk.Walk
	delay time.Duration
}

func newFakeWalks(ws ...walk.Walk) *fakeWalks {
	f := &fakeWalks{walks: map[string]walk.Walk{}}
	for _, w := range ws {
		f.walks[w.ID] = w
	}
	return f
}

func (f *fakeWalks) set(w walk.Walk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.walks[w.ID] = w
}

func (f *fakeWalks) FindWalk(ctx context.Context, id string) (walk.Walk, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return walk.Walk{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.walks[id]
	if !ok {
		return walk.Walk{}, walk.ErrNotFound
	}
	return w, nil
}

type fakeSamples struct {
	mu        sync.Mutex
	saved     []Sample
	nextID    int64
	saveErr   error
	saveDelay time.Duration
	loadErr   error
	loadCalls int
}

func (f *fakeSamples) SaveSample(ctx context.Context, s Sample) (Sample, error) {
	if f.saveDelay > 0 {
		select {
		case <-time.After(f.saveDelay):
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return Sample{}, f.saveErr
	}
	f.nextID++
	s.ID = f.nextID
	s.CreatedAt = time.Now()
	f.saved = append(f.saved, s)
	return s, nil
}

func (f *fakeSamples) LoadRecentSamples(_ context.Context, walkID string, limit int, order Order) ([]Sample, error) {
	all, err := f.LoadAllSamples(context.Background(), walkID, 1<<30)
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	if order == OrderDesc {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	return all, nil
}

func (f *fakeSamples) LoadAllSamples(_ context.Context, walkID string, limit int) ([]Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := []Sample{}
	for _, s := range f.saved {
		if s.WalkID == walkID && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSamples) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []Sample
}

func (f *fakePublisher) PublishPosition(_ string, s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, s)
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func inProgressWalk(id, owner, agent string, origin *[2]float64) walk.Walk {
	w := walk.Walk{ID: id, OwnerID: owner, AgentID: strPtr(agent), State: walk.StateInProgress}
	if origin != nil {
		w.OriginLat = floatPtr(origin[0])
		w.OriginLng = floatPtr(origin[1])
	}
	return w
}

// metersNorth converts a northward offset to degrees of latitude.
func metersNorth(m float64) float64 {
	return m / 111194.92664455873
}

var errStorage = errors.New("storage down")
