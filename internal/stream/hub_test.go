package stream

import (
	"context"
	"reflect"
	"testing"
	"time"

	"backend-pawwalk/internal/tracking"
	"backend-pawwalk/internal/walk"
)

func TestHubSubscribeSeedsOriginAndHistory(t *testing.T) {
	history := &fakeHistory{samples: []tracking.Sample{sample(1, 52.5, 13.4), sample(2, 52.6, 13.5)}}
	hub := newTestHub(newFakeWalks(testWalk("w1", "owner", "agent")), history, time.Hour)
	defer hub.Close()

	conn := newFakeConn("c1")
	if err := hub.Subscribe(context.Background(), conn, "w1", "owner"); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	want := []string{TypeSubscribed, TypeOrigin, TypeHistory}
	if got := conn.types(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	hist := conn.ofType(t, TypeHistory)[0]["samples"].([]any)
	if len(hist) != 2 {
		t.Fatalf("expected 2 history samples, got %d", len(hist))
	}
	if hub.SubscriberCount("w1") != 1 {
		t.Fatalf("expected one subscriber")
	}
}

func TestHubSubscribeAgentAllowed(t *testing.T) {
	hub := newTestHub(newFakeWalks(testWalk("w1", "owner", "agent")), &fakeHistory{}, time.Hour)
	defer hub.Close()

	if err := hub.Subscribe(context.Background(), newFakeConn("c1"), "w1", "agent"); err != nil {
		t.Fatalf("expected agent subscribe to pass: %v", err)
	}
}

func TestHubSubscribeRejections(t *testing.T) {
	walks := newFakeWalks(testWalk("w1", "owner", "agent"))
	hub := newTestHub(walks, &fakeHistory{}, time.Hour)
	defer hub.Close()

	cases := []struct {
		walkID, userID string
		reason         tracking.Reason
	}{
		{"w1", "stranger", tracking.ReasonForbidden},
		{"missing", "owner", tracking.ReasonNotFound},
	}
	for _, tc := range cases {
		conn := newFakeConn("c-" + tc.userID)
		err := hub.Subscribe(context.Background(), conn, tc.walkID, tc.userID)
		if reason, ok := tracking.ReasonOf(err); !ok || reason != tc.reason {
			t.Fatalf("expected %s, got %v", tc.reason, err)
		}
		msgs := conn.ofType(t, TypeError)
		if len(msgs) != 1 || msgs[0]["reason"] != string(tc.reason) {
			t.Fatalf("expected error message, got %v", conn.decoded(t))
		}
		if conn.isClosed() {
			t.Fatalf("rejection must not close the connection")
		}
	}
	if hub.SubscriberCount("w1") != 0 {
		t.Fatalf("rejected connections must not join")
	}

	walks.err = errBoom
	err := hub.Subscribe(context.Background(), newFakeConn("c-x"), "w1", "owner")
	if reason, _ := tracking.ReasonOf(err); reason != tracking.ReasonUnavailable {
		t.Fatalf("expected unavailable on lookup failure, got %v", err)
	}
}

func TestHubSubscribeHistoryTimeoutDegradesToOrigin(t *testing.T) {
	history := &fakeHistory{block: make(chan struct{})}
	hub := newTestHub(newFakeWalks(testWalk("w1", "owner", "agent")), history, time.Hour)
	defer hub.Close()

	conn := newFakeConn("c1")
	if err := hub.Subscribe(context.Background(), conn, "w1", "owner"); err != nil {
		t.Fatalf("subscribe should succeed without history: %v", err)
	}
	want := []string{TypeSubscribed, TypeOrigin}
	if got := conn.types(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestHubSubscribeHistoryErrorDegrades(t *testing.T) {
	hub := newTestHub(newFakeWalks(testWalk("w1", "owner", "agent")), &fakeHistory{err: errBoom}, time.Hour)
	defer hub.Close()

	conn := newFakeConn("c1")
	if err := hub.Subscribe(context.Background(), conn, "w1", "owner"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conn.ofType(t, TypeHistory)) != 0 {
		t.Fatalf("expected no history message")
	}
}

func TestHubLivePositionWaitsForSeed(t *testing.T) {
	history := &fakeHistory{samples: []tracking.Sample{sample(1, 1, 1)}, block: make(chan struct{})}
	hub := NewHub(newFakeWalks(testWalk("w1", "owner", "agent")), history, Config{BroadcastInterval: time.Hour, LookupTimeout: time.Second})
	defer hub.Close()

	conn := newFakeConn("c1")
	done := make(chan error, 1)
	go func() { done <- hub.Subscribe(context.Background(), conn, "w1", "owner") }()

	waitFor(t, func() bool { return hub.SubscriberCount("w1") == 1 })
	hub.PublishPosition("w1", sample(2, 2, 2))
	if len(conn.decoded(t)) != 0 {
		t.Fatalf("live position leaked before seed")
	}

	close(history.block)
	if err := <-done; err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	want := []string{TypeSubscribed, TypeOrigin, TypeHistory, TypePosition}
	if got := conn.types(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestHubHeldPositionCoveredByHistoryIsDropped(t *testing.T) {
	history := &fakeHistory{samples: []tracking.Sample{sample(1, 1, 1), sample(2, 2, 2)}, block: make(chan struct{})}
	hub := NewHub(newFakeWalks(testWalk("w1", "owner", "agent")), history, Config{BroadcastInterval: time.Hour, LookupTimeout: time.Second})
	defer hub.Close()

	conn := newFakeConn("c1")
	done := make(chan error, 1)
	go func() { done <- hub.Subscribe(context.Background(), conn, "w1", "owner") }()

	waitFor(t, func() bool { return hub.SubscriberCount("w1") == 1 })
	hub.PublishPosition("w1", sample(2, 2, 2))
	close(history.block)
	<-done

	if n := len(conn.ofType(t, TypePosition)); n != 0 {
		t.Fatalf("expected duplicate of history to be dropped, got %d positions", n)
	}
}

func TestHubPublishPositionThrottlesPerWalk(t *testing.T) {
	hub := newTestHub(newFakeWalks(testWalk("w1", "owner", "agent")), &fakeHistory{}, 50*time.Millisecond)
	defer hub.Close()

	conn := newFakeConn("c1")
	_ = hub.Subscribe(context.Background(), conn, "w1", "owner")

	hub.PublishPosition("w1", sample(1, 1, 1))
	if n := len(conn.ofType(t, TypePosition)); n != 1 {
		t.Fatalf("expected immediate leading broadcast, got %d", n)
	}

	hub.PublishPosition("w1", sample(2, 2, 2))
	hub.PublishPosition("w1", sample(3, 3, 3))

	waitFor(t, func() bool { return len(conn.ofType(t, TypePosition)) == 2 })
	time.Sleep(120 * time.Millisecond)

	positions := conn.ofType(t, TypePosition)
	if len(positions) != 2 {
		t.Fatalf("expected exactly one trailing broadcast, got %d", len(positions))
	}
	c := positions[1]["c"].([]any)
	if c[0].(float64) != 3 {
		t.Fatalf("trailing broadcast must carry the latest sample, got %v", c)
	}
}

func TestHubFanOutSkipsFailingConnection(t *testing.T) {
	hub := newTestHub(newFakeWalks(testWalk("w1", "owner", "agent")), &fakeHistory{}, time.Hour)
	defer hub.Close()

	good := newFakeConn("good")
	bad := newFakeConn("bad")
	_ = hub.Subscribe(context.Background(), good, "w1", "owner")
	_ = hub.Subscribe(context.Background(), bad, "w1", "agent")
	bad.mu.Lock()
	bad.sendErr = ErrSlowConsumer
	bad.mu.Unlock()

	hub.PublishPosition("w1", sample(1, 1, 1))
	if len(good.ofType(t, TypePosition)) != 1 {
		t.Fatalf("healthy subscriber must still receive the broadcast")
	}
}

func TestHubResubscribeReplacesPrevious(t *testing.T) {
	hub := newTestHub(newFakeWalks(testWalk("w1", "owner", "agent"), testWalk("w2", "owner", "agent")), &fakeHistory{}, time.Hour)
	defer hub.Close()

	conn := newFakeConn("c1")
	_ = hub.Subscribe(context.Background(), conn, "w1", "owner")
	_ = hub.Subscribe(context.Background(), conn, "w2", "owner")

	if hub.SubscriberCount("w1") != 0 || hub.SubscriberCount("w2") != 1 {
		t.Fatalf("expected subscription moved to w2")
	}
	hub.PublishPosition("w1", sample(1, 1, 1))
	for _, m := range conn.ofType(t, TypePosition) {
		if m["walk_id"] != "w2" {
			t.Fatalf("received position for an old subscription")
		}
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := newTestHub(newFakeWalks(testWalk("w1", "owner", "agent")), &fakeHistory{}, time.Hour)
	defer hub.Close()

	conn := newFakeConn("c1")
	_ = hub.Subscribe(context.Background(), conn, "w1", "owner")

	hub.Unsubscribe(conn, "other")
	if hub.SubscriberCount("w1") != 1 {
		t.Fatalf("mismatched walk must not unsubscribe")
	}

	hub.Unsubscribe(conn, "")
	if hub.SubscriberCount("w1") != 0 {
		t.Fatalf("expected no subscribers")
	}
	acks := conn.ofType(t, TypeUnsubscribed)
	if len(acks) != 2 || acks[1]["walk_id"] != "w1" {
		t.Fatalf("expected unsubscribed ack, got %v", conn.decoded(t))
	}
}

func TestHubUserEndpointMostRecentWins(t *testing.T) {
	hub := newTestHub(newFakeWalks(), &fakeHistory{}, time.Hour)
	defer hub.Close()

	first := newFakeConn("first")
	second := newFakeConn("second")
	hub.RegisterUserEndpoint("u1", first)
	hub.RegisterUserEndpoint("u1", second)

	hub.PublishUserEvent("u1", "walk_started", map[string]string{"walk_id": "w1"})
	if len(first.decoded(t)) != 0 {
		t.Fatalf("replaced endpoint must not receive events")
	}
	events := second.ofType(t, TypeEvent)
	if len(events) != 1 || events[0]["event"] != "walk_started" {
		t.Fatalf("expected event on latest endpoint, got %v", second.decoded(t))
	}

	// Disconnecting the stale connection keeps the current registration.
	hub.OnDisconnect(first)
	if !hub.hasUserEndpoint("u1") {
		t.Fatalf("stale disconnect removed the live endpoint")
	}
	hub.OnDisconnect(second)
	if hub.hasUserEndpoint("u1") {
		t.Fatalf("expected endpoint removed")
	}
	hub.PublishUserEvent("u1", "walk_finished", nil)
	if len(second.ofType(t, TypeEvent)) != 1 {
		t.Fatalf("events after disconnect must be dropped")
	}
}

func TestHubOnDisconnectRemovesSubscription(t *testing.T) {
	hub := newTestHub(newFakeWalks(testWalk("w1", "owner", "agent")), &fakeHistory{}, time.Hour)
	defer hub.Close()

	conn := newFakeConn("c1")
	hub.RegisterUserEndpoint("owner", conn)
	_ = hub.Subscribe(context.Background(), conn, "w1", "owner")
	hub.OnDisconnect(conn)

	if hub.SubscriberCount("w1") != 0 || hub.hasUserEndpoint("owner") {
		t.Fatalf("expected connection fully removed")
	}
	hub.PublishPosition("w1", sample(1, 1, 1))
	if len(conn.ofType(t, TypePosition)) != 0 {
		t.Fatalf("disconnected connection received a broadcast")
	}
}

type recordingForwarder struct {
	positions []string
	events    []string
}

func (f *recordingForwarder) ForwardPosition(walkID string, _ []byte) {
	f.positions = append(f.positions, walkID)
}

func (f *recordingForwarder) ForwardUserEvent(userID string, _ []byte) {
	f.events = append(f.events, userID)
}

func TestHubForwardsToRelay(t *testing.T) {
	hub := newTestHub(newFakeWalks(), &fakeHistory{}, time.Hour)
	defer hub.Close()
	fwd := &recordingForwarder{}
	hub.SetForwarder(fwd)

	hub.PublishPosition("w9", sample(1, 1, 1))
	hub.RegisterUserEndpoint("local", newFakeConn("c1"))
	hub.PublishUserEvent("local", "walk_started", nil)
	hub.PublishUserEvent("remote", "walk_started", nil)

	if !reflect.DeepEqual(fwd.positions, []string{"w9"}) {
		t.Fatalf("expected throttled position forwarded, got %v", fwd.positions)
	}
	if !reflect.DeepEqual(fwd.events, []string{"remote"}) {
		t.Fatalf("expected only undeliverable events forwarded, got %v", fwd.events)
	}
}

func TestHubCloseClosesConnections(t *testing.T) {
	hub := newTestHub(newFakeWalks(testWalk("w1", "owner", "agent")), &fakeHistory{}, time.Hour)
	sub := newFakeConn("sub")
	user := newFakeConn("user")
	_ = hub.Subscribe(context.Background(), sub, "w1", "owner")
	hub.RegisterUserEndpoint("agent", user)

	hub.Close()
	if !sub.isClosed() || !user.isClosed() {
		t.Fatalf("expected all connections closed")
	}
	if hub.SubscriberCount("w1") != 0 {
		t.Fatalf("expected registry emptied")
	}
}

func TestHubSubscribeTimeoutRejection(t *testing.T) {
	hub := newTestHub(slowWalks{}, &fakeHistory{}, time.Hour)
	defer hub.Close()

	err := hub.Subscribe(context.Background(), newFakeConn("c1"), "w1", "owner")
	if reason, _ := tracking.ReasonOf(err); reason != tracking.ReasonTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

type slowWalks struct{}

func (slowWalks) FindWalk(ctx context.Context, _ string) (walk.Walk, error) {
	<-ctx.Done()
	return walk.Walk{}, ctx.Err()
}
