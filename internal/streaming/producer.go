package streaming

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Publish XADDs one message onto stream with a single "payload" field, the
// same field name every ConsumerGroup's ProcessFunc reads its message body
// from. Used by the Recognition Worker to write onto the streams the
// Transcription Collector consumes.
func Publish(ctx context.Context, client *redis.Client, stream string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stream payload: %w", err)
	}
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"payload": string(b)},
	}).Err()
}
