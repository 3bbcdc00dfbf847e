package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"backend-pawwalk/internal/logging"
	"backend-pawwalk/internal/metrics"
)

const (
	walkChannelPrefix = "pawwalk:walk:"
	userChannelPrefix = "pawwalk:user:"

	relayOutbox         = 256
	relayPublishTimeout = 2 * time.Second
)

type envelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

type outbound struct {
	channel string
	data    []byte
}

// Relay mirrors hub traffic across instances over redis pub/sub. Positions
// are relayed after local throttling; user events only when no local
// endpoint exists. Messages that carry this instance's id are ignored.
type Relay struct {
	client     *redis.Client
	hub        *Hub
	instanceID string
	breaker    *gobreaker.CircuitBreaker[struct{}]
	outbox     chan outbound

	ready     chan struct{}
	readyOnce sync.Once
}

func NewRelay(client *redis.Client, hub *Hub) *Relay {
	r := &Relay{
		client:     client,
		hub:        hub,
		instanceID: uuid.NewString(),
		outbox:     make(chan outbound, relayOutbox),
		ready:      make(chan struct{}),
	}
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "redis-relay",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("relay breaker state changed")
		},
	})
	hub.SetForwarder(r)
	return r
}

func walkChannel(walkID string) string { return walkChannelPrefix + walkID }

func userChannel(userID string) string { return userChannelPrefix + userID }

func (r *Relay) ForwardPosition(walkID string, payload []byte) {
	r.enqueue(walkChannel(walkID), payload)
}

func (r *Relay) ForwardUserEvent(userID string, payload []byte) {
	r.enqueue(userChannel(userID), payload)
}

func (r *Relay) enqueue(channel string, payload []byte) {
	data, err := json.Marshal(envelope{Origin: r.instanceID, Payload: payload})
	if err != nil {
		logging.Error().Err(err).Str("channel", channel).Msg("relay encode failed")
		return
	}
	select {
	case r.outbox <- outbound{channel: channel, data: data}:
	default:
		metrics.BroadcastDrops.WithLabelValues("relay_full").Inc()
	}
}

// Serve runs until ctx is cancelled. It satisfies suture.Service.
func (r *Relay) Serve(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, walkChannelPrefix+"*", userChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	logging.Info().Str("instance_id", r.instanceID).Msg("relay subscribed")
	r.readyOnce.Do(func() { close(r.ready) })

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("relay subscription closed")
			}
			r.handle(msg.Channel, msg.Payload)
		case out := <-r.outbox:
			r.publish(ctx, out)
		}
	}
}

func (r *Relay) String() string { return "stream-relay" }

// Ready is closed once the first subscription is confirmed.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

func (r *Relay) handle(channel, raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		logging.Warn().Err(err).Str("channel", channel).Msg("relay message ignored")
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	switch {
	case strings.HasPrefix(channel, walkChannelPrefix):
		r.hub.deliverWalk(strings.TrimPrefix(channel, walkChannelPrefix), env.Payload, 0)
	case strings.HasPrefix(channel, userChannelPrefix):
		r.hub.deliverUser(strings.TrimPrefix(channel, userChannelPrefix), env.Payload)
	}
}

func (r *Relay) publish(ctx context.Context, out outbound) {
	_, err := r.breaker.Execute(func() (struct{}, error) {
		pctx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
		defer cancel()
		return struct{}{}, r.client.Publish(pctx, out.channel, out.data).Err()
	})
	if err == nil {
		return
	}
	metrics.RelayPublishErrors.Inc()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logging.Debug().Str("channel", out.channel).Msg("relay unavailable, message dropped")
		return
	}
	logging.Warn().Err(err).Str("channel", out.channel).Msg("relay publish failed")
}
