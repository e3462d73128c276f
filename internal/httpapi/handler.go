// Package httpapi exposes the engine's operations over JSON/HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/coordinator"
	"github.com/switchboard-ai/switchboard/internal/handoff"
)

// Handler serves the message, handoff, catalog and agents endpoints.
type Handler struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(coord *coordinator.Coordinator, logger *zap.Logger) *Handler {
	return &Handler{coord: coord, logger: logger}
}

// RegisterRoutes registers all endpoints on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/messages", h.handleMessages)
	mux.HandleFunc("/v1/handoffs/", h.handleHandoffStatus)
	mux.HandleFunc("/v1/catalog/refresh", h.handleCatalogRefresh)
	mux.HandleFunc("/v1/agents", h.handleAgents)
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req messageRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("Message decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "session_id and message are required")
		return
	}

	reply, err := h.coord.HandleMessage(r.Context(), req.SessionID, req.UserID, req.Message)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error("Message handling failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) handleHandoffStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/handoffs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "handoff id is required")
		return
	}

	rec, err := h.coord.GetHandoffStatus(id)
	if err != nil {
		if errors.Is(err, handoff.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "handoff not found")
			return
		}
		h.logger.Error("Handoff lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	force := r.URL.Query().Get("force") == "true"
	summary := h.coord.RefreshCatalog(r.Context(), force)
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": h.coord.ListAgentsWithWorkflows(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
