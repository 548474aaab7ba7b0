// Package recognizer implements the Speech Recognition Worker: one
// WebSocket connection per client session, incremental transcription,
// hallucination filtering, and stall-detection self-monitoring.
package recognizer

// SampleRate is the only audio format this worker accepts: 32-bit float
// PCM, mono, 16kHz.
const SampleRate = 16000

// endOfAudio is the sentinel byte frame that signals a client-initiated
// end of the audio stream.
const endOfAudio = "END_OF_AUDIO"

// optionsMessage is the first JSON frame a client must send after
// connecting.
type optionsMessage struct {
	UID               string                 `json:"uid"`
	Platform          string                 `json:"platform"`
	MeetingURL        string                 `json:"meeting_url"`
	Token             string                 `json:"token"`
	MeetingID         string                 `json:"meeting_id"`
	Backend           string                 `json:"backend,omitempty"`
	Language          string                 `json:"language,omitempty"`
	Task              string                 `json:"task,omitempty"`
	Model             string                 `json:"model,omitempty"`
	UseVAD            bool                   `json:"use_vad,omitempty"`
	MaxConnectionTime int                    `json:"max_connection_time,omitempty"`
	InitialPrompt     string                 `json:"initial_prompt,omitempty"`
	VADParameters     map[string]interface{} `json:"vad_parameters,omitempty"`
}

// serverStatusMessage is sent to the client in reply to its options frame.
type serverStatusMessage struct {
	UID     string      `json:"uid,omitempty"`
	Status  string      `json:"status"`
	Message interface{} `json:"message,omitempty"`
	Backend string      `json:"backend,omitempty"`
}

const (
	statusError       = "ERROR"
	statusWait        = "WAIT"
	statusServerReady = "SERVER_READY"
)

// controlEnvelope is the minimal shape needed to dispatch a JSON control
// frame to its handler; the full payload is re-decoded per type.
type controlEnvelope struct {
	Type string `json:"type"`
}

type speakerActivityMessage struct {
	Type                      string `json:"type"`
	EventType                 string `json:"event_type"`
	ParticipantName           string `json:"participant_name"`
	ParticipantID             string `json:"participant_id"`
	RelativeClientTimestampMs int64  `json:"relative_client_timestamp_ms"`
}

// outSegment is one entry of the recent-segments list pushed to the client
// socket and onto the transcription stream.
type outSegment struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`
	Completed bool    `json:"completed"`
	Language  string  `json:"language,omitempty"`
}

type clientTranscriptMessage struct {
	UID      string       `json:"uid"`
	Segments []outSegment `json:"segments"`
}

// streamEnvelope matches the {type,payload} wrapper the Collector's
// transcription-stream consumer expects.
type streamEnvelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type sessionStartPayload struct {
	UID            string `json:"uid"`
	Token          string `json:"token"`
	Platform       string `json:"platform"`
	MeetingID      string `json:"meeting_id"`
	StartTimestamp string `json:"start_timestamp"`
}

type transcriptionPayload struct {
	UID       string       `json:"uid"`
	Token     string       `json:"token"`
	Platform  string       `json:"platform"`
	MeetingID string       `json:"meeting_id"`
	Segments  []outSegment `json:"segments"`
}

type sessionEndPayload struct {
	UID string `json:"uid"`
}

// speakerEventStreamPayload matches the flat (non-enveloped) shape the
// Collector's speaker-events consumer expects.
type speakerEventStreamPayload struct {
	UID                       string `json:"uid"`
	EventType                 string `json:"event_type"`
	ParticipantName           string `json:"participant_name"`
	ParticipantID             string `json:"participant_id,omitempty"`
	RelativeClientTimestampMs int64  `json:"relative_client_timestamp_ms"`
}

const (
	transcriptionStream = "transcription_segments"
	speakerEventsStream = "speaker_events_relative"
)
