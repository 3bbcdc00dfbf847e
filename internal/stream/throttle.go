package stream

import (
	"sync"
	"time"
)

// Throttle rate-limits emissions per key with leading and trailing edges.
// The first value after an idle period is emitted at once and opens a
// window; values arriving inside the window overwrite each other and only
// the latest is emitted when the window closes, which opens the next one.
// A window that closes with nothing pending returns the key to idle.
type Throttle[K comparable, V any] struct {
	interval time.Duration
	emit     func(K, V)

	mu      sync.Mutex
	keys    map[K]*throttleState[V]
	stopped bool
}

type throttleState[V any] struct {
	mu         sync.Mutex
	open       bool
	pending    V
	hasPending bool
	timer      *time.Timer
	dead       bool

	// emitMu keeps emissions for one key in submission order.
	emitMu sync.Mutex
}

func NewThrottle[K comparable, V any](interval time.Duration, emit func(K, V)) *Throttle[K, V] {
	return &Throttle[K, V]{
		interval: interval,
		emit:     emit,
		keys:     map[K]*throttleState[V]{},
	}
}

func (t *Throttle[K, V]) state(key K) *throttleState[V] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil
	}
	st := t.keys[key]
	if st == nil {
		st = &throttleState[V]{}
		t.keys[key] = st
	}
	return st
}

func (t *Throttle[K, V]) Submit(key K, v V) {
	for {
		st := t.state(key)
		if st == nil {
			return
		}
		st.mu.Lock()
		if st.dead {
			st.mu.Unlock()
			continue
		}
		if st.open {
			st.pending = v
			st.hasPending = true
			st.mu.Unlock()
			return
		}
		st.open = true
		st.timer = time.AfterFunc(t.interval, func() { t.windowClosed(key, st) })
		st.emitMu.Lock()
		st.mu.Unlock()

		t.emit(key, v)
		st.emitMu.Unlock()
		return
	}
}

func (t *Throttle[K, V]) windowClosed(key K, st *throttleState[V]) {
	st.mu.Lock()
	if st.dead {
		st.mu.Unlock()
		return
	}
	if st.hasPending {
		v := st.pending
		var zero V
		st.pending = zero
		st.hasPending = false
		st.timer = time.AfterFunc(t.interval, func() { t.windowClosed(key, st) })
		st.emitMu.Lock()
		st.mu.Unlock()

		t.emit(key, v)
		st.emitMu.Unlock()
		return
	}
	st.open = false
	st.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.open && t.keys[key] == st {
		st.dead = true
		delete(t.keys, key)
	}
}

// Pending reports how many keys currently have an open window.
func (t *Throttle[K, V]) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}

// Stop cancels every open window. Pending trailing values are discarded.
func (t *Throttle[K, V]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for key, st := range t.keys {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
		}
		st.dead = true
		st.mu.Unlock()
		delete(t.keys, key)
	}
}
