package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the probe endpoints off a manager's cached results.
type Handler struct {
	manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// Mount registers /health/live, /health/ready and /health/detailed.
func (h *Handler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/health/live", h.live)
	mux.HandleFunc("/health/ready", h.ready)
	mux.HandleFunc("/health/detailed", h.detailed)
}

func (h *Handler) live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.Snapshot()
	code := http.StatusOK
	if !overall.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": overall.Status,
		"ready":  overall.Ready,
	})
}

func (h *Handler) detailed(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.Snapshot()
	code := http.StatusOK
	if overall.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, overall)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
