// Package gateway implements the Live Fan-Out Gateway: one WebSocket
// connection per client, a subscribe/unsubscribe/ping control protocol, and
// a hub that bridges the Collector's and Controller's pub/sub channels to
// subscribed clients as JSON frames.
package gateway

// meetingTuple identifies a meeting the way a client names it: by platform
// and the platform-native meeting id, never by the internal meeting uuid.
type meetingTuple struct {
	Platform string `json:"platform"`
	NativeID string `json:"native_id"`
}

// clientFrame is the single inbound message shape; Meetings is populated for
// subscribe/unsubscribe and ignored for ping.
type clientFrame struct {
	Action   string         `json:"action"`
	Meetings []meetingTuple `json:"meetings"`
}

type subscribedFrame struct {
	Type     string         `json:"type"`
	Meetings []meetingTuple `json:"meetings"`
}

type unsubscribedFrame struct {
	Type     string         `json:"type"`
	Meetings []meetingTuple `json:"meetings"`
}

type pongFrame struct {
	Type string `json:"type"`
}

type errorFrame struct {
	Type    string      `json:"type"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// tupleKey builds the same "{platform}/{native_id}" key the Collector's
// authorize-subscribe handler uses to index its per-tuple error map, so
// errors returned from there line up with the tuples the client subscribed
// with.
func tupleKey(platform, nativeID string) string {
	return platform + "/" + nativeID
}
