// Package scheduler abstracts the Bot Lifecycle Controller's workload
// placement behind an interface so the backend (local Docker today) can be
// swapped for a distributed one later, grounded on
// teradata-labs-loom/pkg/docker/scheduler.go's ContainerScheduler shape.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
)

// WorkloadStatus is the coarse state Status reports, matching the outcomes
// the orphan reconciler switches on.
type WorkloadStatus string

const (
	StatusRunning   WorkloadStatus = "running"
	StatusSucceeded WorkloadStatus = "succeeded"
	StatusFailed    WorkloadStatus = "failed"
	StatusNotFound  WorkloadStatus = "not_found"
	StatusUnknown   WorkloadStatus = "unknown"
)

// ErrNotFound describes a workload the backend has no record of. Status does
// not return it: a missing workload is reported as StatusNotFound with a nil
// error.
var ErrNotFound = errors.New("scheduler: workload not found")

// BotConfig is the configuration blob passed to the scheduled workload.
type BotConfig struct {
	Platform          string            `json:"platform"`
	MeetingURL        string            `json:"meeting_url"`
	BotName           string            `json:"bot_name"`
	MeetingToken      string            `json:"meeting_token"`
	NativeMeetingID   string            `json:"native_meeting_id"`
	SessionUID        string            `json:"session_uid"`
	Language          string            `json:"language,omitempty"`
	Task              string            `json:"task,omitempty"`
	Passcode          string            `json:"passcode,omitempty"`
	KVEndpoint        string            `json:"kv_endpoint"`
	CallbackURL       string            `json:"callback_url"`
	WaitingRoomSec    int               `json:"waiting_room_timeout_seconds"`
	NoOneJoinedSec    int               `json:"no_one_joined_timeout_seconds"`
	EveryoneLeftSec   int               `json:"everyone_left_timeout_seconds"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Encode serializes the config for injection as a container environment
// variable or mounted file.
func (c BotConfig) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Scheduler places and supervises one bot workload per Meeting.
type Scheduler interface {
	// Launch schedules a new workload and returns an opaque handle
	// identifying it (a container id for the Docker backend).
	Launch(ctx context.Context, meetingID string, cfg BotConfig) (handle string, err error)

	// Status reports the current coarse state of a previously launched
	// workload. A workload the backend has no record of is reported as
	// StatusNotFound with a nil error.
	Status(ctx context.Context, handle string) (WorkloadStatus, error)

	// Kill requests termination of a workload. Killing an already-gone
	// workload is not an error.
	Kill(ctx context.Context, handle string) error

	// Ping reports whether the backend is reachable, for health checks.
	Ping(ctx context.Context) error

	// Close releases scheduler resources.
	Close() error
}
