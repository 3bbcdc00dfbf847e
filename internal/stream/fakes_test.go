package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"backend-pawwalk/internal/tracking"
	"backend-pawwalk/internal/walk"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	msgs    [][]byte
	closed  bool
	sendErr error
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return ErrConnClosed
	}
	c.msgs = append(c.msgs, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.msgs))
	for _, raw := range c.msgs {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("invalid message %s: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	var types []string
	for _, m := range c.decoded(t) {
		types = append(types, m["type"].(string))
	}
	return types
}

func (c *fakeConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range c.decoded(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeWalks struct {
	mu    sync.Mutex
	walks map[string]walk.Walk
	err   error
}

func newFakeWalks(ws ...walk.Walk) *fakeWalks {
	f := &fakeWalks{walks: map[string]walk.Walk{}}
	for _, w := range ws {
		f.walks[w.ID] = w
	}
	return f
}

func (f *fakeWalks) FindWalk(_ context.Context, id string) (walk.Walk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return walk.Walk{}, f.err
	}
	w, ok := f.walks[id]
	if !ok {
		return walk.Walk{}, walk.ErrNotFound
	}
	return w, nil
}

type fakeHistory struct {
	samples []tracking.Sample
	err     error
	// block, when set, holds LoadRecentSamples until closed or ctx ends.
	block chan struct{}
}

func (f *fakeHistory) LoadRecentSamples(ctx context.Context, _ string, limit int, _ tracking.Order) ([]tracking.Sample, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.samples) > limit {
		return f.samples[len(f.samples)-limit:], nil
	}
	return f.samples, nil
}

var errBoom = errors.New("boom")

func ptr[T any](v T) *T { return &v }

func testWalk(id, owner, agent string) walk.Walk {
	return walk.Walk{
		ID:        id,
		OwnerID:   owner,
		AgentID:   ptr(agent),
		State:     walk.StateInProgress,
		OriginLat: ptr(52.52),
		OriginLng: ptr(13.405),
	}
}

func sample(id int64, lat, lng float64) tracking.Sample {
	return tracking.Sample{
		ID:         id,
		WalkID:     "w1",
		Lat:        lat,
		Lng:        lng,
		CapturedAt: time.Unix(1700000000+id, 0),
		CreatedAt:  time.Unix(1700000000+id, 0),
	}
}

func newTestHub(walks WalkFinder, history HistoryLoader, interval time.Duration) *Hub {
	h := NewHub(walks, history, Config{BroadcastInterval: interval, HistorySize: 20, LookupTimeout: 50 * time.Millisecond})
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
