package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/delegation"
	"github.com/outdoorsea/crewAI-sub001/session"
	"github.com/outdoorsea/crewAI-sub001/task"
	"github.com/outdoorsea/crewAI-sub001/types"
)

// DelegationHandler exposes the delegation engine and the task store
// for direct (non-session) delegation.
type DelegationHandler struct {
	engine  *delegation.Engine
	tasks   *task.Store
	manager *session.Manager
	logger  *zap.Logger
}

// NewDelegationHandler creates a delegation handler. The manager, when
// set, gets a scheduling pass after every resolved handshake.
func NewDelegationHandler(engine *delegation.Engine, tasks *task.Store, manager *session.Manager, logger *zap.Logger) *DelegationHandler {
	return &DelegationHandler{engine: engine, tasks: tasks, manager: manager, logger: logger}
}

// CreateTaskRequest is the body of POST /v1/tasks. Tasks created here
// stand outside any session and are delegated directly.
type CreateTaskRequest struct {
	Description          string   `json:"description"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// HandleCreateTask creates a standalone task.
func (h *DelegationHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	created, err := h.tasks.Create(r.Context(), &task.Task{
		Description:          req.Description,
		RequiredCapabilities: req.RequiredCapabilities,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, created)
}

// HandleGetTask returns a task by id.
func (h *DelegationHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	tk, err := h.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, tk)
}

// DelegateRequest is the body of POST /v1/delegations.
type DelegateRequest struct {
	TaskID         string   `json:"task_id"`
	FromAgent      string   `json:"from_agent"`
	PreferredAgent string   `json:"preferred_agent,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Priority       int      `json:"priority,omitempty"`
	Exclude        []string `json:"exclude,omitempty"`
}

// HandleDelegate opens a delegation request for a task.
func (h *DelegationHandler) HandleDelegate(w http.ResponseWriter, r *http.Request) {
	var req DelegateRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	created, err := h.engine.Delegate(r.Context(), req.TaskID, req.FromAgent,
		req.PreferredAgent, req.Reason, req.Priority, req.Exclude)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, created)
}

// RespondRequest is the body of POST /v1/delegations/{id}/respond.
type RespondRequest struct {
	AgentID         string        `json:"agent_id"`
	Accept          bool          `json:"accept"`
	Message         string        `json:"message,omitempty"`
	EstimatedEffort time.Duration `json:"estimated_effort,omitempty"`
}

// HandleRespond resolves a pending delegation. Both outcomes change the
// task's status, so affected sessions advance right away: an accepted
// task is dispatched, a rejected one is re-delegated with the decliner
// excluded.
func (h *DelegationHandler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	resolved, err := h.engine.Respond(r.Context(), r.PathValue("id"),
		req.AgentID, req.Accept, req.Message, req.EstimatedEffort)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if h.manager != nil {
		h.manager.Advance(r.Context())
	}
	WriteSuccess(w, resolved)
}

// HandleGetDelegation returns a delegation request by id.
func (h *DelegationHandler) HandleGetDelegation(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, req)
}

// HandleListByTask returns the delegation history of a task.
func (h *DelegationHandler) HandleListByTask(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.engine.ListByTask(r.PathValue("id")))
}

// HandoffRequest is the body of POST /v1/tasks/{id}/handoff.
type HandoffRequest struct {
	FromAgent string        `json:"from_agent"`
	ToAgent   string        `json:"to_agent"`
	Context   types.Payload `json:"context,omitempty"`
	Progress  types.Payload `json:"progress,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// HandleHandoff atomically moves an in-flight task to a new assignee.
func (h *DelegationHandler) HandleHandoff(w http.ResponseWriter, r *http.Request) {
	var req HandoffRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	updated, err := h.engine.Handoff(r.Context(), r.PathValue("id"),
		req.FromAgent, req.ToAgent, req.Context, req.Progress, req.Reason)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, updated)
}
