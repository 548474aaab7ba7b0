package streaming

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkPayload struct {
	MeetingID string `json:"meeting_id"`
	SeqNum    int    `json:"seq_num"`
}

func TestPublish_XAddsPayloadField(t *testing.T) {
	client := newTestRedis(t)

	payload := chunkPayload{MeetingID: "m1", SeqNum: 7}
	require.NoError(t, Publish(context.Background(), client, "audio:chunks", payload))

	entries, err := client.XRange(context.Background(), "audio:chunks", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, ok := entries[0].Values["payload"].(string)
	require.True(t, ok)

	var got chunkPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, payload, got)
}
