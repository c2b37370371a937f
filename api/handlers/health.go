package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/contextstore"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store   contextstore.Store
	started time.Time
	logger  *zap.Logger
}

// NewHealthHandler creates a health handler probing the given store.
func NewHealthHandler(store contextstore.Store, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{store: store, started: time.Now(), logger: logger}
}

// HandleHealthz reports liveness.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, map[string]string{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleReadyz reports readiness, including backing store health.
func (h *HealthHandler) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness probe failed", zap.Error(err))
		WriteJSON(w, http.StatusServiceUnavailable, Response{
			Success:   false,
			Error:     &ErrorInfo{Code: "NOT_READY", Message: "context store unreachable"},
			Timestamp: time.Now().UTC(),
		})
		return
	}
	WriteSuccess(w, map[string]string{"status": "ready"})
}
