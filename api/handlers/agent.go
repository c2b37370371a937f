package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/registry"
	"github.com/outdoorsea/crewAI-sub001/types"
)

// AgentHandler exposes agent registry operations.
type AgentHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(reg *registry.Registry, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{registry: reg, logger: logger}
}

// RegisterAgentRequest is the body of POST /v1/agents.
type RegisterAgentRequest struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
}

// HandleRegister registers a new agent profile.
func (h *AgentHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	profile := &registry.AgentProfile{ID: req.ID, Capabilities: req.Capabilities}
	if err := h.registry.Register(profile); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	created, err := h.registry.Get(req.ID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, created)
}

// HandleList lists all registered agents.
func (h *AgentHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, h.registry.List())
}

// HandleGet returns one agent profile, workload and status included.
func (h *AgentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	profile, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, profile)
}

// HandleSetAvailability updates an agent's availability flag.
func (h *AgentHandler) HandleSetAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Availability registry.Availability `json:"availability"`
	}
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	switch req.Availability {
	case registry.AvailabilityAvailable, registry.AvailabilityBusy, registry.AvailabilityOffline:
	default:
		WriteError(w, types.NewErrorf(types.ErrInvalidRequest,
			"unknown availability %q", req.Availability), h.logger)
		return
	}

	if err := h.registry.SetAvailability(r.PathValue("id"), req.Availability); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleDeactivate takes an agent offline. Profiles are never deleted.
func (h *AgentHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Deactivate(r.PathValue("id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleCandidates returns the delegation ranking for a capability set.
func (h *AgentHandler) HandleCandidates(w http.ResponseWriter, r *http.Request) {
	required := splitParam(r.URL.Query().Get("capabilities"))
	exclude := splitParam(r.URL.Query().Get("exclude"))
	WriteSuccess(w, h.registry.ListCandidates(required, exclude))
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
