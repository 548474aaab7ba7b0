package controller

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/apierr"
	"github.com/meetbot/meetbot/internal/auth"
	"github.com/meetbot/meetbot/internal/models"
)

// Handlers adapts Service onto the Controller's HTTP surface.
type Handlers struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandlers constructs the Controller's HTTP handlers.
func NewHandlers(svc *Service, logger *zap.Logger) *Handlers {
	return &Handlers{svc: svc, logger: logger}
}

// Register mounts the Controller's routes on mux, using Go 1.22's
// method+wildcard ServeMux patterns the way the httpapi package
// registers routes on a plain *http.ServeMux. The internal callback route is
// registered outside authMiddleware since workers authenticate via the
// Meeting Token embedded in the callback body, not an account API key.
func (h *Handlers) Register(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.Handle("POST /bots", authMiddleware.HTTPMiddleware(http.HandlerFunc(h.launch)))
	mux.Handle("GET /bots/status", authMiddleware.HTTPMiddleware(http.HandlerFunc(h.status)))
	mux.Handle("DELETE /bots/{platform}/{native_id}", authMiddleware.HTTPMiddleware(http.HandlerFunc(h.stop)))
	mux.Handle("PUT /bots/{platform}/{native_id}/config", authMiddleware.HTTPMiddleware(http.HandlerFunc(h.reconfigure)))

	mux.HandleFunc("POST /bots/internal/callback/status_change", h.callback)
}

type launchBody struct {
	Platform        string `json:"platform"`
	NativeMeetingID string `json:"native_meeting_id"`
	BotName         string `json:"bot_name,omitempty"`
	Language        string `json:"language,omitempty"`
	Task            string `json:"task,omitempty"`
	Passcode        string `json:"passcode,omitempty"`
}

func (h *Handlers) launch(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountFromContext(r.Context())

	var body launchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierr.Write(w, h.logger, apierr.Wrap(apierr.InvalidInput, "malformed request body", err))
		return
	}

	meeting, err := h.svc.Launch(r.Context(), accountID, LaunchRequest{
		Platform:        models.Platform(body.Platform),
		NativeMeetingID: body.NativeMeetingID,
		BotName:         body.BotName,
		Language:        body.Language,
		Task:            body.Task,
		Passcode:        body.Passcode,
	})
	if err != nil {
		apierr.Write(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, meeting)
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountFromContext(r.Context())
	meetings, err := h.svc.ListActiveBots(r.Context(), accountID)
	if err != nil {
		apierr.Write(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meetings)
}

func (h *Handlers) stop(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountFromContext(r.Context())
	platform, nativeID := r.PathValue("platform"), r.PathValue("native_id")

	if err := h.svc.Stop(r.Context(), accountID, models.Platform(platform), nativeID); err != nil {
		apierr.Write(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type reconfigureBody struct {
	Language string `json:"language,omitempty"`
	Task     string `json:"task,omitempty"`
}

func (h *Handlers) reconfigure(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountFromContext(r.Context())
	platform, nativeID := r.PathValue("platform"), r.PathValue("native_id")

	var body reconfigureBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierr.Write(w, h.logger, apierr.Wrap(apierr.InvalidInput, "malformed request body", err))
		return
	}

	err := h.svc.Reconfigure(r.Context(), accountID, models.Platform(platform), nativeID, body.Language, body.Task)
	if err != nil {
		apierr.Write(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type statusChangeBody struct {
	ConnectionID       string `json:"connection_id"`
	ContainerID        string `json:"container_id,omitempty"`
	Status             string `json:"status"`
	Reason             string `json:"reason,omitempty"`
	ExitCode           *int   `json:"exit_code,omitempty"`
	ErrorDetails       string `json:"error_details,omitempty"`
	CompletionReason   string `json:"completion_reason,omitempty"`
	FailureStage       string `json:"failure_stage,omitempty"`
}

// callback is deliberately lenient:, internal callbacks
// always return 200 regardless of resolution/FSM outcome, to avoid the
// worker retrying into a storm.
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	var body statusChangeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "malformed body"})
		return
	}

	h.svc.Callback(r.Context(), StatusChangeCallback{
		SessionUID:       body.ConnectionID,
		Status:           models.MeetingStatus(body.Status),
		Reason:           body.Reason,
		ExitCode:         body.ExitCode,
		Error:            body.ErrorDetails,
		CompletionReason: body.CompletionReason,
		FailureStage:     body.FailureStage,
		ContainerID:      body.ContainerID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
