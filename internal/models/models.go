// Package models defines the shared entity types persisted by meetbot's
// Durable Store and exchanged between its four services.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MeetingStatus is one state of the Bot Lifecycle Controller's FSM.
type MeetingStatus string

const (
	StatusRequested         MeetingStatus = "requested"
	StatusJoining           MeetingStatus = "joining"
	StatusAwaitingAdmission MeetingStatus = "awaiting_admission"
	StatusActive            MeetingStatus = "active"
	StatusStopping          MeetingStatus = "stopping"
	StatusCompleted         MeetingStatus = "completed"
	StatusFailed            MeetingStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s MeetingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TransitionSource labels why a status_transition entry was appended.
type TransitionSource string

const (
	SourceUser             TransitionSource = "user"
	SourceBotCallback      TransitionSource = "bot_callback"
	SourceValidationError  TransitionSource = "validation_error"
	SourceReconciliation   TransitionSource = "reconciliation"
)

// Platform is one of the supported video-conference platforms.
type Platform string

const (
	PlatformGoogleMeet Platform = "google_meet"
	PlatformTeams      Platform = "teams"
	PlatformZoom       Platform = "zoom"
)

// StatusTransition is one append-only entry in Meeting.data.status_transition.
type StatusTransition struct {
	From      MeetingStatus    `json:"from"`
	To        MeetingStatus    `json:"to"`
	Timestamp time.Time        `json:"timestamp"`
	Source    TransitionSource `json:"source"`
	Reason    string           `json:"reason,omitempty"`
}

// MeetingData is the semi-structured bag attached to a Meeting row.
type MeetingData struct {
	CompletionReason  string             `json:"completion_reason,omitempty"`
	FailureStage      string             `json:"failure_stage,omitempty"`
	LastError         string             `json:"last_error,omitempty"`
	Passcode          string             `json:"passcode,omitempty"`
	StopRequested     bool               `json:"stop_requested,omitempty"`
	Redacted          bool               `json:"redacted,omitempty"`
	BotName           string             `json:"bot_name,omitempty"`
	Language          string             `json:"language,omitempty"`
	Task              string             `json:"task,omitempty"`
	Name              string             `json:"name,omitempty"`
	Participants      []string           `json:"participants,omitempty"`
	Languages         []string           `json:"languages,omitempty"`
	Notes             string             `json:"notes,omitempty"`
	StatusTransitions []StatusTransition `json:"status_transition"`
}

// Value implements driver.Valuer so MeetingData can be stored as JSONB.
func (d MeetingData) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner.
func (d *MeetingData) Scan(src interface{}) error {
	if src == nil {
		*d = MeetingData{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported scan type for MeetingData: %T", src)
	}
	if len(b) == 0 {
		*d = MeetingData{}
		return nil
	}
	return json.Unmarshal(b, d)
}

// AppendTransition appends a transition entry, satisfying the invariant that
// every FSM move records exactly one status_transition row.
func (d *MeetingData) AppendTransition(from, to MeetingStatus, source TransitionSource, reason string) {
	d.StatusTransitions = append(d.StatusTransitions, StatusTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Reason:    reason,
	})
}

// Account is an external tenant.
type Account struct {
	ID                uuid.UUID `db:"id"`
	APIKeyHash        string    `db:"api_key_hash"`
	APIKeyPrefix      string    `db:"api_key_prefix"`
	APISecret         string    `db:"api_secret"`
	WebhookURL        string    `db:"webhook_url"`
	WebhookSecret     string    `db:"webhook_secret"`
	MaxConcurrentBots int       `db:"max_concurrent_bots"`
	Enabled           bool      `db:"enabled"`
	CreatedAt         time.Time `db:"created_at"`
}

// Meeting is one bot execution attempt.
type Meeting struct {
	ID              uuid.UUID     `db:"id"`
	AccountID       uuid.UUID     `db:"account_id"`
	Platform        Platform      `db:"platform"`
	NativeMeetingID string        `db:"native_meeting_id"`
	Status          MeetingStatus `db:"status"`
	WorkloadHandle  string        `db:"workload_handle"`
	StartTime       *time.Time    `db:"start_time"`
	EndTime         *time.Time    `db:"end_time"`
	Data            MeetingData   `db:"data"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

// IsNonTerminal reports whether the meeting occupies the account's
// concurrency slot and is eligible for orphan reconciliation.
func (m *Meeting) IsNonTerminal() bool {
	return !m.Status.IsTerminal()
}

// MeetingSession is one recognition connection within a Meeting.
type MeetingSession struct {
	ID              uuid.UUID `db:"id"`
	MeetingID       uuid.UUID `db:"meeting_id"`
	SessionUID      string    `db:"session_uid"`
	SessionStart    time.Time `db:"session_start"`
	CreatedAt       time.Time `db:"created_at"`
}

// TranscriptSegment is an immutable, finalized transcript span.
type TranscriptSegment struct {
	ID          uuid.UUID `db:"id"`
	MeetingID   uuid.UUID `db:"meeting_id"`
	SessionUID  string    `db:"session_uid"`
	StartTime   float64   `db:"start_time"`
	EndTime     float64   `db:"end_time"`
	Text        string    `db:"text"`
	Language    string    `db:"language"`
	Speaker     *string   `db:"speaker"`
	CreatedAt   time.Time `db:"created_at"`
}

// SpeakerMappingStatus records the outcome of speaker-to-segment mapping.
type SpeakerMappingStatus string

const (
	SpeakerMapped                    SpeakerMappingStatus = "MAPPED"
	SpeakerNoEvents                  SpeakerMappingStatus = "NO_SPEAKER_EVENTS"
	SpeakerMultipleConcurrent        SpeakerMappingStatus = "MULTIPLE_CONCURRENT_SPEAKERS"
	SpeakerErrorInMapping            SpeakerMappingStatus = "ERROR_IN_MAPPING"
	SpeakerUnknown                   SpeakerMappingStatus = "UNKNOWN"
)

// MutableSegment is the JSON payload stored in the per-meeting segment hash.
type MutableSegment struct {
	Text                 string    `json:"text"`
	EndTime              float64   `json:"end_time"`
	Language             string    `json:"language"`
	UpdatedAt            time.Time `json:"updated_at"`
	SessionUID           string    `json:"session_uid"`
	Speaker              *string   `json:"speaker"`
	SpeakerMappingStatus string    `json:"speaker_mapping_status"`
	AbsoluteStartTime    *string   `json:"absolute_start_time,omitempty"`
	AbsoluteEndTime      *string   `json:"absolute_end_time,omitempty"`
}

// SpeakerEventType distinguishes SPEAKER_START from SPEAKER_END.
type SpeakerEventType string

const (
	SpeakerStart SpeakerEventType = "SPEAKER_START"
	SpeakerEnd   SpeakerEventType = "SPEAKER_END"
)

// SpeakerEvent is one entry in a session's speaker_events sorted set.
type SpeakerEvent struct {
	EventType                SpeakerEventType `json:"event_type"`
	ParticipantName          string           `json:"participant_name"`
	ParticipantID            string           `json:"participant_id"`
	UID                      string           `json:"uid"`
	RelativeClientTimestampMs int64           `json:"relative_client_timestamp_ms"`
}

// ParticipantKey returns the identifier used to pair START/END events,
// falling back to the participant name when no id is present.
func (e SpeakerEvent) ParticipantKey() string {
	if e.ParticipantID != "" {
		return e.ParticipantID
	}
	return e.ParticipantName
}
