package collector

import (
	"encoding/json"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/apierr"
	"github.com/meetbot/meetbot/internal/auth"
	"github.com/meetbot/meetbot/internal/db"
	"github.com/meetbot/meetbot/internal/models"
)

// Handlers adapts Service onto the Collector's REST/WS surface.
type Handlers struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandlers constructs the Collector's HTTP handlers.
func NewHandlers(svc *Service, logger *zap.Logger) *Handlers {
	return &Handlers{svc: svc, logger: logger}
}

// Register mounts the Collector's routes on mux, following the same plain
// net/http.ServeMux convention as the Controller's handlers.
func (h *Handlers) Register(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.Handle("GET /meetings", authMiddleware.HTTPMiddleware(http.HandlerFunc(h.listMeetings)))
	mux.Handle("GET /transcripts/{platform}/{native_id}", authMiddleware.HTTPMiddleware(http.HandlerFunc(h.transcript)))
	mux.Handle("PATCH /meetings/{platform}/{native_id}", authMiddleware.HTTPMiddleware(http.HandlerFunc(h.patchMeeting)))
	mux.Handle("DELETE /meetings/{platform}/{native_id}", authMiddleware.HTTPMiddleware(http.HandlerFunc(h.purgeMeeting)))
	mux.Handle("POST /ws/authorize-subscribe", authMiddleware.HTTPMiddleware(http.HandlerFunc(h.authorizeSubscribe)))

	mux.HandleFunc("GET /internal/transcripts/{meeting_id}", h.internalTranscript)
}

func (h *Handlers) resolveMeeting(w http.ResponseWriter, r *http.Request) (*models.Meeting, bool) {
	accountID, _ := auth.AccountFromContext(r.Context())
	platform := models.Platform(r.PathValue("platform"))
	nativeID := r.PathValue("native_id")

	var meeting *models.Meeting
	var err error
	if midParam := r.URL.Query().Get("meeting_id"); midParam != "" {
		mid, perr := uuid.Parse(midParam)
		if perr != nil {
			apierr.Write(w, h.logger, apierr.New(apierr.InvalidInput, "malformed meeting_id"))
			return nil, false
		}
		meeting, err = h.svc.db.MeetingByID(r.Context(), mid)
	} else {
		meeting, err = h.svc.db.LatestMeetingForTuple(r.Context(), accountID, platform, nativeID)
	}
	if err != nil {
		if err == db.ErrNotFound {
			apierr.Write(w, h.logger, apierr.New(apierr.NotFound, "meeting not found"))
		} else {
			apierr.Write(w, h.logger, apierr.Wrap(apierr.TransientBackend, "lookup failed", err))
		}
		return nil, false
	}
	if meeting.AccountID != accountID {
		apierr.Write(w, h.logger, apierr.New(apierr.AuthzFailure, "account does not own meeting"))
		return nil, false
	}
	return meeting, true
}

func (h *Handlers) listMeetings(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountFromContext(r.Context())
	meetings, err := h.svc.db.ListMeetingsForAccount(r.Context(), accountID, 100)
	if err != nil {
		apierr.Write(w, h.logger, apierr.Wrap(apierr.TransientBackend, "list meetings failed", err))
		return
	}
	writeJSON(w, http.StatusOK, meetings)
}

func (h *Handlers) transcript(w http.ResponseWriter, r *http.Request) {
	meeting, ok := h.resolveMeeting(w, r)
	if !ok {
		return
	}
	segments, err := h.svc.buildMergedTranscript(r.Context(), meeting.ID)
	if err != nil {
		apierr.Write(w, h.logger, apierr.Wrap(apierr.TransientBackend, "merge transcript failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"meeting": meeting, "segments": segments})
}

func (h *Handlers) internalTranscript(w http.ResponseWriter, r *http.Request) {
	mid, err := uuid.Parse(r.PathValue("meeting_id"))
	if err != nil {
		apierr.Write(w, h.logger, apierr.New(apierr.InvalidInput, "malformed meeting_id"))
		return
	}
	segments, err := h.svc.buildMergedTranscript(r.Context(), mid)
	if err != nil {
		apierr.Write(w, h.logger, apierr.Wrap(apierr.TransientBackend, "merge transcript failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"segments": segments})
}

type patchMeetingBody struct {
	Name         *string   `json:"name,omitempty"`
	Participants *[]string `json:"participants,omitempty"`
	Languages    *[]string `json:"languages,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
}

func (h *Handlers) patchMeeting(w http.ResponseWriter, r *http.Request) {
	meeting, ok := h.resolveMeeting(w, r)
	if !ok {
		return
	}
	var body patchMeetingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierr.Write(w, h.logger, apierr.Wrap(apierr.InvalidInput, "malformed request body", err))
		return
	}

	updated, err := h.svc.db.UpdateMeetingStatus(r.Context(), meeting.ID, meeting.Status, models.SourceUser, "metadata update", func(m *models.Meeting) {
		if body.Name != nil {
			m.Data.Name = *body.Name
		}
		if body.Participants != nil {
			m.Data.Participants = *body.Participants
		}
		if body.Languages != nil {
			m.Data.Languages = *body.Languages
		}
		if body.Notes != nil {
			m.Data.Notes = *body.Notes
		}
	})
	if err != nil {
		apierr.Write(w, h.logger, apierr.Wrap(apierr.TransientBackend, "update metadata failed", err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handlers) purgeMeeting(w http.ResponseWriter, r *http.Request) {
	meeting, ok := h.resolveMeeting(w, r)
	if !ok {
		return
	}
	if !meeting.Status.IsTerminal() {
		apierr.Write(w, h.logger, apierr.New(apierr.Conflict, "meeting is not finalized"))
		return
	}

	if err := h.svc.db.DeleteMeetingTranscript(r.Context(), meeting.ID); err != nil {
		apierr.Write(w, h.logger, apierr.Wrap(apierr.TransientBackend, "purge failed", err))
		return
	}

	ctx := r.Context()
	meetingIDStr := meeting.ID.String()
	_, _ = h.svc.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, segmentsHashKey(meetingIDStr))
		p.SRem(ctx, activeMeetingsSet, meetingIDStr)
		return nil
	})
	h.svc.dedup.clear(meetingIDStr)

	_, err := h.svc.db.UpdateMeetingStatus(ctx, meeting.ID, meeting.Status, models.SourceUser, "purged", func(m *models.Meeting) {
		m.Data.Redacted = true
		m.Data.Passcode = ""
		m.Data.LastError = ""
		m.Data.Notes = ""
		m.Data.Participants = nil
	})
	if err != nil {
		apierr.Write(w, h.logger, apierr.Wrap(apierr.TransientBackend, "redact failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

type authorizeSubscribeRequest struct {
	Meetings []struct {
		Platform        string `json:"platform"`
		NativeMeetingID string `json:"native_meeting_id"`
	} `json:"meetings"`
}

type authorizedEntry struct {
	Platform  string `json:"platform"`
	NativeID  string `json:"native_id"`
	AccountID string `json:"account_id"`
	MeetingID string `json:"meeting_id"`
}

func (h *Handlers) authorizeSubscribe(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountFromContext(r.Context())
	var body authorizeSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierr.Write(w, h.logger, apierr.Wrap(apierr.InvalidInput, "malformed request body", err))
		return
	}

	var authorized []authorizedEntry
	errs := map[string]string{}
	for _, m := range body.Meetings {
		platform := models.Platform(m.Platform)
		key := m.Platform + "/" + m.NativeMeetingID
		if !validNativeID(platform, m.NativeMeetingID) {
			errs[key] = "malformed native_meeting_id"
			continue
		}
		meeting, err := h.svc.db.LatestMeetingForTuple(r.Context(), accountID, platform, m.NativeMeetingID)
		if err != nil {
			errs[key] = "meeting not found"
			continue
		}
		authorized = append(authorized, authorizedEntry{
			Platform: m.Platform, NativeID: m.NativeMeetingID,
			AccountID: accountID.String(), MeetingID: meeting.ID.String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authorized": authorized,
		"errors":     errs,
		"account_id": accountID.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
