package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// MutableEvent is the payload published on tc:meeting:{id}:mutable.
type MutableEvent struct {
	Type    string                   `json:"type"`
	Meeting MutableEventMeeting      `json:"meeting"`
	Payload MutableEventPayload      `json:"payload"`
	Ts      time.Time                `json:"ts"`
}

type MutableEventMeeting struct {
	ID string `json:"id"`
}

type MutableEventPayload struct {
	Segments []map[string]interface{} `json:"segments"`
}

// StatusEvent is the payload published on bm:meeting:{id}:status.
type StatusEvent struct {
	Type    string                  `json:"type"`
	Meeting StatusEventMeeting      `json:"meeting"`
	Payload StatusEventPayload      `json:"payload"`
	Ts      time.Time               `json:"ts"`
}

type StatusEventMeeting struct {
	ID              string `json:"id"`
	Platform        string `json:"platform"`
	NativeMeetingID string `json:"native_id"`
}

type StatusEventPayload struct {
	Status string `json:"status"`
}

// MutableChannel returns the pub/sub channel name for a meeting's live
// transcript updates.
func MutableChannel(meetingID string) string {
	return fmt.Sprintf("tc:meeting:%s:mutable", meetingID)
}

// StatusChannel returns the pub/sub channel name for a meeting's status updates.
func StatusChannel(meetingID string) string {
	return fmt.Sprintf("bm:meeting:%s:status", meetingID)
}

// CommandChannel returns the pub/sub channel name used to deliver
// leave/reconfigure commands to a running bot workload.
func CommandChannel(meetingID string) string {
	return fmt.Sprintf("bot_commands:meeting:%s", meetingID)
}

// PublishMutable publishes a change-only transcript.mutable event.
func PublishMutable(ctx context.Context, client *redis.Client, meetingID string, segments []map[string]interface{}) error {
	ev := MutableEvent{
		Type:    "transcript.mutable",
		Meeting: MutableEventMeeting{ID: meetingID},
		Payload: MutableEventPayload{Segments: segments},
		Ts:      time.Now().UTC(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal mutable event: %w", err)
	}
	return client.Publish(ctx, MutableChannel(meetingID), b).Err()
}

// PublishCommand publishes a leave/reconfigure command to the per-meeting
// command channel consumed by the running bot workload.
func PublishCommand(ctx context.Context, client *redis.Client, meetingID string, command map[string]interface{}) error {
	b, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return client.Publish(ctx, CommandChannel(meetingID), b).Err()
}

// PublishStatus publishes a meeting.status event. Callers must ensure this
// runs only after the triggering FSM transition has committed, per the
// commit-then-publish discipline.
func PublishStatus(ctx context.Context, client *redis.Client, meetingID, platform, nativeID, status string) error {
	ev := StatusEvent{
		Type:    "meeting.status",
		Meeting: StatusEventMeeting{ID: meetingID, Platform: platform, NativeMeetingID: nativeID},
		Payload: StatusEventPayload{Status: status},
		Ts:      time.Now().UTC(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	return client.Publish(ctx, StatusChannel(meetingID), b).Err()
}
