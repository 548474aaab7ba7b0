package gateway

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/metrics"
)

// channelState is one Redis pub/sub channel this process has subscribed to
// on behalf of at least one client, ref-counted across subscribers the way
// the example pack's gRPC connection pools key a shared upstream connection
// by an id and tear it down once its last subscriber leaves.
type channelState struct {
	pubsub      *redis.PubSub
	subscribers map[string]chan<- []byte
}

// Hub fans Redis pub/sub channels out to WebSocket clients. One Redis
// subscription is kept per channel regardless of how many clients are
// watching it.
type Hub struct {
	redis  *redis.Client
	logger *zap.Logger

	mu       sync.Mutex
	channels map[string]*channelState
}

// NewHub constructs a Hub backed by redisClient.
func NewHub(redisClient *redis.Client, logger *zap.Logger) *Hub {
	return &Hub{
		redis:    redisClient,
		logger:   logger,
		channels: make(map[string]*channelState),
	}
}

// Subscribe registers clientID's out channel to receive raw payloads
// published on channel, opening the upstream Redis subscription if this is
// the first subscriber.
func (h *Hub) Subscribe(channel, clientID string, out chan<- []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.channels[channel]
	if !ok {
		pubsub := h.redis.Subscribe(context.Background(), channel)
		st = &channelState{pubsub: pubsub, subscribers: make(map[string]chan<- []byte)}
		h.channels[channel] = st
		go h.pump(channel, pubsub)
	}
	st.subscribers[clientID] = out
	metrics.GatewaySubscriptions.Inc()
}

// pump relays messages from one Redis channel to every currently registered
// subscriber, dropping (not blocking) on a full client buffer.
func (h *Hub) pump(channel string, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		h.mu.Lock()
		st, ok := h.channels[channel]
		var targets []chan<- []byte
		if ok {
			targets = make([]chan<- []byte, 0, len(st.subscribers))
			for _, c := range st.subscribers {
				targets = append(targets, c)
			}
		}
		h.mu.Unlock()

		payload := []byte(msg.Payload)
		for _, c := range targets {
			select {
			case c <- payload:
			default:
				metrics.GatewayFramesDropped.WithLabelValues("slow_client").Inc()
			}
		}
	}
}

// Unsubscribe removes clientID from channel, closing the upstream Redis
// subscription once no subscribers remain.
func (h *Hub) Unsubscribe(channel, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.channels[channel]
	if !ok {
		return
	}
	if _, present := st.subscribers[clientID]; !present {
		return
	}
	delete(st.subscribers, clientID)
	metrics.GatewaySubscriptions.Dec()

	if len(st.subscribers) == 0 {
		if err := st.pubsub.Close(); err != nil {
			h.logger.Warn("closing idle channel subscription failed", zap.String("channel", channel), zap.Error(err))
		}
		delete(h.channels, channel)
	}
}

// UnsubscribeAll removes clientID from every channel it is currently
// registered on, used on client disconnect.
func (h *Hub) UnsubscribeAll(clientID string, channels []string) {
	for _, ch := range channels {
		h.Unsubscribe(ch, clientID)
	}
}
