package handlers

import (
	"encoding/json"
	"net/http"

	"presenced/services"
)

type HealthHandler struct {
	engine *services.PresenceEngine
}

func NewHealthHandler(engine *services.PresenceEngine) *HealthHandler {
	return &HealthHandler{engine: engine}
}

// Health reports store connectivity, per-source liveness (derived from the
// heartbeat tracker, not raw storage), and the subscriber count. A down store
// degrades the response instead of failing it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := h.engine.Health(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
