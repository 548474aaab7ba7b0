package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/config"
	"github.com/meetbot/meetbot/internal/metrics"
	"github.com/meetbot/meetbot/internal/streaming"
)

// subscription remembers the (platform, native_id) a client subscribed with
// and the meeting id the Collector resolved it to, so an unsubscribe frame
// naming only the tuple can still tear down the right channels.
type subscription struct {
	platform  string
	nativeID  string
	meetingID string
}

// client is one WebSocket connection: a read loop that dispatches the
// subscribe/unsubscribe/ping protocol, and a write pump that drains both
// hub fan-out traffic and protocol replies onto the socket.
type client struct {
	id         string
	conn       *websocket.Conn
	hub        *Hub
	authorizer *Authorizer
	apiKey     string
	cfg        config.GatewayConfig
	logger     *zap.Logger

	send chan []byte

	subs map[string]subscription // tupleKey -> subscription
}

func newClient(conn *websocket.Conn, apiKey string, hub *Hub, authorizer *Authorizer, cfg config.GatewayConfig, logger *zap.Logger) *client {
	return &client{
		id:         uuid.NewString(),
		conn:       conn,
		hub:        hub,
		authorizer: authorizer,
		apiKey:     apiKey,
		cfg:        cfg,
		logger:     logger,
		send:       make(chan []byte, cfg.SubscriberBufferSize),
		subs:       make(map[string]subscription),
	}
}

// run drives the client for its whole lifetime: a write pump goroutine and
// the blocking read loop, unsubscribing from every channel on exit.
func (c *client) run(ctx context.Context) {
	done := make(chan struct{})
	go c.writePump(done)
	defer close(done)

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.dispatch(ctx, raw)
	}

	c.unsubscribeAll()
	c.conn.Close()
}

func (c *client) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *client) dispatch(ctx context.Context, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.writeFrame(errorFrame{Type: "error", Error: "invalid_json"})
		return
	}

	switch frame.Action {
	case "subscribe":
		c.handleSubscribe(ctx, frame.Meetings)
	case "unsubscribe":
		c.handleUnsubscribe(frame.Meetings)
	case "ping":
		c.writeFrame(pongFrame{Type: "pong"})
	default:
		c.writeFrame(errorFrame{Type: "error", Error: "unknown_action"})
	}
}

func (c *client) handleSubscribe(ctx context.Context, tuples []meetingTuple) {
	if len(tuples) == 0 {
		c.writeFrame(errorFrame{Type: "error", Error: "invalid_json", Details: "meetings is required"})
		return
	}

	result, err := c.authorizer.AuthorizeSubscribe(ctx, c.apiKey, tuples)
	if err != nil {
		metrics.GatewayAuthorizeFailures.Inc()
		c.writeFrame(errorFrame{Type: "error", Error: "authorization_failed", Details: err.Error()})
		return
	}

	var authorized []meetingTuple
	for _, m := range result.Authorized {
		key := tupleKey(m.Platform, m.NativeID)
		c.subs[key] = subscription{platform: m.Platform, nativeID: m.NativeID, meetingID: m.MeetingID}
		c.hub.Subscribe(streaming.MutableChannel(m.MeetingID), c.id, c.send)
		c.hub.Subscribe(streaming.StatusChannel(m.MeetingID), c.id, c.send)
		authorized = append(authorized, meetingTuple{Platform: m.Platform, NativeID: m.NativeID})
	}

	if len(authorized) > 0 {
		c.writeFrame(subscribedFrame{Type: "subscribed", Meetings: authorized})
	}
	if len(result.Errors) > 0 {
		c.writeFrame(errorFrame{Type: "error", Error: "authorization_failed", Details: result.Errors})
	}
}

func (c *client) handleUnsubscribe(tuples []meetingTuple) {
	var unsubscribed []meetingTuple
	for _, t := range tuples {
		key := tupleKey(t.Platform, t.NativeID)
		sub, ok := c.subs[key]
		if !ok {
			continue
		}
		c.hub.Unsubscribe(streaming.MutableChannel(sub.meetingID), c.id)
		c.hub.Unsubscribe(streaming.StatusChannel(sub.meetingID), c.id)
		delete(c.subs, key)
		unsubscribed = append(unsubscribed, t)
	}
	c.writeFrame(unsubscribedFrame{Type: "unsubscribed", Meetings: unsubscribed})
}

func (c *client) unsubscribeAll() {
	var channels []string
	for _, sub := range c.subs {
		channels = append(channels, streaming.MutableChannel(sub.meetingID), streaming.StatusChannel(sub.meetingID))
	}
	c.hub.UnsubscribeAll(c.id, channels)
	c.subs = nil
}

func (c *client) writeFrame(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal gateway frame failed", zap.Error(err))
		return
	}
	select {
	case c.send <- b:
	default:
		metrics.GatewayFramesDropped.WithLabelValues("slow_client").Inc()
	}
}
