package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-pawwalk/internal/logging"
	"backend-pawwalk/internal/metrics"
	"backend-pawwalk/internal/tracking"
	"backend-pawwalk/internal/walk"
)

const (
	DefaultBroadcastInterval = 2 * time.Second
	DefaultHistorySize       = 20
	DefaultLookupTimeout     = 2 * time.Second
)

type WalkFinder interface {
	FindWalk(ctx context.Context, id string) (walk.Walk, error)
}

type HistoryLoader interface {
	LoadRecentSamples(ctx context.Context, walkID string, limit int, order tracking.Order) ([]tracking.Sample, error)
}

// Forwarder carries already-encoded messages to other instances.
type Forwarder interface {
	ForwardPosition(walkID string, payload []byte)
	ForwardUserEvent(userID string, payload []byte)
}

type Config struct {
	BroadcastInterval time.Duration
	HistorySize       int
	LookupTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = DefaultBroadcastInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	return c
}

// Hub fans live positions out to the connections watching a walk and
// routes user events to each user's most recently registered connection.
type Hub struct {
	walks    WalkFinder
	history  HistoryLoader
	cfg      Config
	throttle *Throttle[string, tracking.Sample]

	mu     sync.RWMutex
	groups map[string]*group
	subs   map[string]*member
	fwd    Forwarder

	usersMu   sync.RWMutex
	users     map[string]Conn
	connUsers map[string]string
}

type group struct {
	mu      sync.RWMutex
	members map[string]*member
}

// member holds live messages back until the subscription has been seeded,
// so a client never sees a live position before its history.
type member struct {
	conn   Conn
	walkID string

	mu        sync.Mutex
	seeded    bool
	pending   []byte
	pendingID int64
}

func NewHub(walks WalkFinder, history HistoryLoader, cfg Config) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		walks:     walks,
		history:   history,
		cfg:       cfg,
		groups:    map[string]*group{},
		subs:      map[string]*member{},
		users:     map[string]Conn{},
		connUsers: map[string]string{},
	}
	h.throttle = NewThrottle(cfg.BroadcastInterval, h.emitPosition)
	return h
}

func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fwd = f
}

func (h *Hub) forwarder() Forwarder {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fwd
}

// Subscribe attaches conn to walkID after checking userID may observe it,
// replacing any earlier subscription of the same connection. The client
// receives an acknowledgement, the walk origin, and recent history before
// any live position. A history fetch that fails or times out degrades to
// origin only.
func (h *Hub) Subscribe(ctx context.Context, conn Conn, walkID, userID string) error {
	w, err := h.lookup(ctx, walkID, userID)
	if err != nil {
		var rej *tracking.Rejection
		if errors.As(err, &rej) {
			_ = conn.Send(encodeError(walkID, rej.Reason, rej.Message))
		}
		return err
	}

	m := h.join(conn, walkID)

	initial := [][]byte{encodeAck(TypeSubscribed, walkID)}
	if w.HasOrigin() {
		if b, err := encodeOrigin(walkID, *w.OriginLat, *w.OriginLng); err == nil {
			initial = append(initial, b)
		}
	}

	var lastID int64
	histCtx, cancel := context.WithTimeout(ctx, h.cfg.LookupTimeout)
	samples, err := h.history.LoadRecentSamples(histCtx, walkID, h.cfg.HistorySize, tracking.OrderAsc)
	cancel()
	switch {
	case err != nil:
		logging.Warn().Err(err).Str("walk_id", walkID).Str("conn_id", conn.ID()).Msg("history seed skipped")
	case len(samples) > 0:
		if b, err := encodeHistory(walkID, samples); err == nil {
			initial = append(initial, b)
			lastID = samples[len(samples)-1].ID
		}
	}

	h.seed(m, initial, lastID)
	return nil
}

func (h *Hub) lookup(ctx context.Context, walkID, userID string) (walk.Walk, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, h.cfg.LookupTimeout)
	defer cancel()

	w, err := h.walks.FindWalk(lookupCtx, walkID)
	var decision walk.Decision
	switch {
	case errors.Is(err, walk.ErrNotFound):
		decision = walk.CanSubscribe(nil, userID)
	case errors.Is(err, context.DeadlineExceeded):
		return walk.Walk{}, &tracking.Rejection{Reason: tracking.ReasonTimeout, Message: "walk lookup timed out"}
	case err != nil:
		logging.Error().Err(err).Str("walk_id", walkID).Msg("subscribe lookup failed")
		return walk.Walk{}, &tracking.Rejection{Reason: tracking.ReasonUnavailable, Message: "walk lookup failed"}
	default:
		decision = walk.CanSubscribe(&w, userID)
	}
	if !decision.Allowed {
		return walk.Walk{}, &tracking.Rejection{Reason: tracking.Reason(decision.Reason), Message: decision.Message}
	}
	return w, nil
}

func (h *Hub) join(conn Conn, walkID string) *member {
	id := conn.ID()
	m := &member{conn: conn, walkID: walkID}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old := h.subs[id]; old != nil {
		h.leaveLocked(id, old)
	}
	g := h.groups[walkID]
	if g == nil {
		g = &group{members: map[string]*member{}}
		h.groups[walkID] = g
	}
	g.mu.Lock()
	g.members[id] = m
	g.mu.Unlock()
	h.subs[id] = m
	metrics.ActiveSubscriptions.Inc()
	return m
}

func (h *Hub) leaveLocked(id string, m *member) {
	if g := h.groups[m.walkID]; g != nil {
		g.mu.Lock()
		delete(g.members, id)
		empty := len(g.members) == 0
		g.mu.Unlock()
		if empty {
			delete(h.groups, m.walkID)
		}
	}
	delete(h.subs, id)
	metrics.ActiveSubscriptions.Dec()
}

func (h *Hub) current(m *member) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subs[m.conn.ID()] == m
}

func (h *Hub) seed(m *member, initial [][]byte, lastID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !h.current(m) {
		return
	}
	for _, msg := range initial {
		h.send(m.conn, msg, "seed")
	}
	if m.pending != nil && (m.pendingID == 0 || m.pendingID > lastID) {
		h.send(m.conn, m.pending, TypePosition)
	}
	m.pending = nil
	m.seeded = true
}

func (m *member) deliver(payload []byte, sampleID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.seeded {
		m.pending = payload
		m.pendingID = sampleID
		return false, nil
	}
	return true, m.conn.Send(payload)
}

func (h *Hub) send(conn Conn, payload []byte, kind string) bool {
	if err := conn.Send(payload); err != nil {
		metrics.BroadcastDrops.WithLabelValues(dropReason(err)).Inc()
		logging.Debug().Err(err).Str("conn_id", conn.ID()).Str("kind", kind).Msg("message dropped")
		return false
	}
	metrics.BroadcastsTotal.WithLabelValues(kind).Inc()
	return true
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrSlowConsumer):
		return "slow_consumer"
	case errors.Is(err, ErrConnClosed):
		return "closed"
	default:
		return "send_failed"
	}
}

// Unsubscribe detaches conn from its walk. A non-empty walkID that does not
// match the current subscription leaves it in place.
func (h *Hub) Unsubscribe(conn Conn, walkID string) {
	id := conn.ID()
	h.mu.Lock()
	m := h.subs[id]
	if m != nil && (walkID == "" || walkID == m.walkID) {
		h.leaveLocked(id, m)
		walkID = m.walkID
	}
	h.mu.Unlock()

	h.send(conn, encodeAck(TypeUnsubscribed, walkID), TypeUnsubscribed)
}

// PublishPosition queues an accepted sample for throttled fan-out. It never
// blocks the caller.
func (h *Hub) PublishPosition(walkID string, sample tracking.Sample) {
	h.throttle.Submit(walkID, sample)
}

func (h *Hub) emitPosition(walkID string, sample tracking.Sample) {
	payload, err := encodePosition(walkID, sample)
	if err != nil {
		logging.Error().Err(err).Str("walk_id", walkID).Msg("encode position")
		return
	}
	h.deliverWalk(walkID, payload, sample.ID)
	if f := h.forwarder(); f != nil {
		f.ForwardPosition(walkID, payload)
	}
}

func (h *Hub) deliverWalk(walkID string, payload []byte, sampleID int64) int {
	h.mu.RLock()
	g := h.groups[walkID]
	h.mu.RUnlock()
	if g == nil {
		return 0
	}

	g.mu.RLock()
	members := make([]*member, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, m)
	}
	g.mu.RUnlock()

	delivered := 0
	for _, m := range members {
		sent, err := m.deliver(payload, sampleID)
		switch {
		case err != nil:
			metrics.BroadcastDrops.WithLabelValues(dropReason(err)).Inc()
			logging.Debug().Err(err).Str("walk_id", walkID).Str("conn_id", m.conn.ID()).Msg("position dropped")
		case sent:
			metrics.BroadcastsTotal.WithLabelValues(TypePosition).Inc()
			delivered++
		}
	}
	return delivered
}

// RegisterUserEndpoint makes conn the target for userID's events. The most
// recent registration wins.
func (h *Hub) RegisterUserEndpoint(userID string, conn Conn) {
	h.usersMu.Lock()
	defer h.usersMu.Unlock()
	if prev := h.users[userID]; prev != nil && prev.ID() != conn.ID() {
		delete(h.connUsers, prev.ID())
	}
	h.users[userID] = conn
	h.connUsers[conn.ID()] = userID
}

// PublishUserEvent delivers an out-of-band event to userID. Events for users
// with no local endpoint go to the forwarder when one is attached and are
// dropped otherwise.
func (h *Hub) PublishUserEvent(userID, eventType string, data any) {
	payload, err := encodeEvent(eventType, data)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Str("event", eventType).Msg("encode event")
		return
	}
	if h.deliverUser(userID, payload) {
		return
	}
	if f := h.forwarder(); f != nil {
		f.ForwardUserEvent(userID, payload)
		return
	}
	metrics.BroadcastDrops.WithLabelValues("no_endpoint").Inc()
}

func (h *Hub) deliverUser(userID string, payload []byte) bool {
	h.usersMu.RLock()
	conn := h.users[userID]
	h.usersMu.RUnlock()
	if conn == nil {
		return false
	}
	h.send(conn, payload, TypeEvent)
	return true
}

// OnDisconnect removes every trace of conn from the hub.
func (h *Hub) OnDisconnect(conn Conn) {
	id := conn.ID()
	h.mu.Lock()
	if m := h.subs[id]; m != nil {
		h.leaveLocked(id, m)
	}
	h.mu.Unlock()

	h.usersMu.Lock()
	if userID, ok := h.connUsers[id]; ok {
		delete(h.connUsers, id)
		if cur := h.users[userID]; cur != nil && cur.ID() == id {
			delete(h.users, userID)
		}
	}
	h.usersMu.Unlock()
}

func (h *Hub) SubscriberCount(walkID string) int {
	h.mu.RLock()
	g := h.groups[walkID]
	h.mu.RUnlock()
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

func (h *Hub) hasUserEndpoint(userID string) bool {
	h.usersMu.RLock()
	defer h.usersMu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// Close stops pending broadcasts and closes every known connection.
func (h *Hub) Close() {
	h.throttle.Stop()

	conns := map[string]Conn{}
	h.mu.Lock()
	for id, m := range h.subs {
		conns[id] = m.conn
		h.leaveLocked(id, m)
	}
	h.mu.Unlock()

	h.usersMu.Lock()
	for _, c := range h.users {
		conns[c.ID()] = c
	}
	h.users = map[string]Conn{}
	h.connUsers = map[string]string{}
	h.usersMu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
