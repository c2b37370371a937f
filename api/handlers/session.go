package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/session"
	"github.com/outdoorsea/crewAI-sub001/task"
	"github.com/outdoorsea/crewAI-sub001/types"
)

// SessionHandler exposes collaboration session operations.
type SessionHandler struct {
	manager *session.Manager
	logger  *zap.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(manager *session.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, logger: logger}
}

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	Priority             int      `json:"priority,omitempty"`
}

// HandleCreate opens a new session.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	created, err := h.manager.CreateSession(r.Context(), req.Title, req.Description,
		req.RequiredCapabilities, req.Priority)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, created)
}

// HandleList lists all sessions.
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.manager.ListSessions(r.Context()))
}

// HandleStatus returns the aggregated session view with per-task state
// and the overall progress fraction.
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, status)
}

// AddTaskRequest is the body of POST /v1/sessions/{id}/tasks.
type AddTaskRequest struct {
	Description          string   `json:"description"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	Dependencies         []string `json:"dependencies,omitempty"`
}

// HandleAddTask adds a task to the session's graph.
func (h *SessionHandler) HandleAddTask(w http.ResponseWriter, r *http.Request) {
	var req AddTaskRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	created, err := h.manager.AddTask(r.Context(), r.PathValue("id"),
		req.Description, req.RequiredCapabilities, req.Dependencies)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, created)
}

// AddDependencyRequest is the body of POST /v1/sessions/{id}/dependencies.
type AddDependencyRequest struct {
	TaskID    string `json:"task_id"`
	DependsOn string `json:"depends_on"`
}

// HandleAddDependency links two existing tasks. An edge that would
// close a cycle is rejected and the graph stays unchanged.
func (h *SessionHandler) HandleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req AddDependencyRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if err := h.manager.AddDependency(r.Context(), r.PathValue("id"),
		req.TaskID, req.DependsOn); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleAdvance runs a scheduling pass.
func (h *SessionHandler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	h.manager.Advance(r.Context())
	WriteSuccess(w, nil)
}

// HandleCancel cancels a session.
func (h *SessionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Cancel(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// UpdateTaskStatusRequest is the body of POST /v1/tasks/{id}/status,
// the execution backend's reporting entry.
type UpdateTaskStatusRequest struct {
	Status task.Status   `json:"status"`
	Result types.Payload `json:"result,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// HandleUpdateTaskStatus records a task outcome and advances affected
// sessions.
func (h *SessionHandler) HandleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateTaskStatusRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	updated, err := h.manager.UpdateTaskStatus(r.Context(), r.PathValue("id"),
		req.Status, req.Result, req.Reason)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, updated)
}
