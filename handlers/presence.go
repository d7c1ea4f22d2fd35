package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"presenced/models"
	"presenced/services"
	"presenced/utils"
)

type PresenceHandler struct {
	engine *services.PresenceEngine
	logger *utils.Logger
}

func NewPresenceHandler(engine *services.PresenceEngine, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{engine: engine, logger: logger}
}

// GetActivity returns the chat-platform record merged with lifecycle
// timestamps, or a synthesized offline default if none is stored.
func (h *PresenceHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec := h.engine.DiscordRecord(r.Context())
	resp := models.ActivityResponse{
		Source:       rec.Source,
		Online:       rec.Active,
		Payload:      rec.Payload,
		OnlineSince:  rec.OnlineSince,
		OfflineSince: rec.OfflineSince,
		LastSeen:     rec.LastSeen,
		Timestamp:    time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// VSCodeActivity ingests an editor activity update. 200 on acceptance, 202
// when dropped for noise (rate limited or no meaningful change), 400 on a
// malformed payload.
func (h *PresenceHandler) VSCodeActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var act models.VSCodeActivity
	if err := json.NewDecoder(r.Body).Decode(&act); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if act.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	if act.Line < 0 || act.Column < 0 {
		http.Error(w, "cursor position out of range", http.StatusBadRequest)
		return
	}

	res, err := h.engine.HandleVSCodeActivity(r.Context(), act)
	if err != nil {
		h.logger.Error("failed to ingest vscode activity", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !res.Accepted {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(models.IngestResponse{
			Status:       "dropped",
			Reason:       res.Reason,
			RetryAfterMs: res.RetryAfter.Milliseconds(),
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.IngestResponse{Status: "ok"})
}

// VSCodeHeartbeat refreshes liveness without activity content. The body is
// optional; when present it may carry the sessionId.
func (h *PresenceHandler) VSCodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if err := h.engine.HandleVSCodeHeartbeat(r.Context(), req.SessionID); err != nil {
		h.logger.Error("failed to process heartbeat", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// VSCodeSessionStart explicitly begins (or replaces) the editor session.
func (h *PresenceHandler) VSCodeSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.SessionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	sess, err := h.engine.HandleSessionStart(r.Context(), req.SessionID)
	if err != nil {
		h.logger.Error("failed to start session", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(sess)
}

// VSCodeCleanup ends the editor session on explicit producer request.
func (h *PresenceHandler) VSCodeCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := h.engine.HandleVSCodeCleanup(r.Context())
	if err != nil {
		h.logger.Error("failed to clean up session", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{"status": "ok"}
	if sess != nil {
		resp["session"] = sess
		resp["duration_seconds"] = int64(sess.Duration(time.Now()).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
