// Package delegation selects agents for tasks and manages the
// delegation handshake: request, accept/reject, handoff, timeout.
//
// The engine never retries on its own. A rejection returns the task
// to pending and the caller re-delegates with the rejecting agent
// excluded; retry count and backoff stay caller policy.
package delegation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/contextstore"
	"github.com/outdoorsea/crewAI-sub001/registry"
	"github.com/outdoorsea/crewAI-sub001/task"
	"github.com/outdoorsea/crewAI-sub001/types"
)

// Status is the lifecycle state of a delegation request.
type Status string

const (
	// StatusPending means the target agent has not responded yet.
	StatusPending Status = "pending"
	// StatusAccepted means the target took the task.
	StatusAccepted Status = "accepted"
	// StatusRejected means the target declined; the task returns to
	// pending.
	StatusRejected Status = "rejected"
	// StatusTimedOut means no response arrived before the caller's
	// deadline; treated like a rejection.
	StatusTimedOut Status = "timed_out"
)

// Terminal reports whether the request admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusTimedOut
}

// Request is one delegation handshake for a task. At most one pending
// request exists per task at any time.
type Request struct {
	ID                   string        `json:"id"`
	TaskID               string        `json:"task_id"`
	FromAgent            string        `json:"from_agent"`
	ToAgent              string        `json:"to_agent"`
	RequiredCapabilities []string      `json:"required_capabilities"`
	Priority             int           `json:"priority"`
	Reason               string        `json:"reason,omitempty"`
	Status               Status        `json:"status"`
	ResponseMessage      string        `json:"response_message,omitempty"`
	EstimatedEffort      time.Duration `json:"estimated_effort,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	RespondedAt          *time.Time    `json:"responded_at,omitempty"`
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	cp := *r
	cp.RequiredCapabilities = append([]string(nil), r.RequiredCapabilities...)
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		cp.RespondedAt = &t
	}
	return &cp
}

// Engine coordinates agent selection and the delegation handshake.
// Cross-entity operations (Respond, Handoff) take the engine lock for
// their whole span and roll back partial mutations on failure, so
// observers going through the engine never see a half-applied state.
type Engine struct {
	mu       sync.Mutex
	registry *registry.Registry
	tasks    *task.Store
	contexts contextstore.Store

	requests      map[string]*Request
	pendingByTask map[string]string

	onHandoff func()

	logger *zap.Logger
}

// EngineOption configures optional engine behavior.
type EngineOption func(*Engine)

// WithHandoffObserver registers fn to run after every successful
// handoff, while the engine lock is held.
func WithHandoffObserver(fn func()) EngineOption {
	return func(e *Engine) { e.onHandoff = fn }
}

// NewEngine wires the engine to its collaborators. The context store
// receives handoff continuity bundles.
func NewEngine(reg *registry.Registry, tasks *task.Store, contexts contextstore.Store, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		registry:      reg,
		tasks:         tasks,
		contexts:      contexts,
		requests:      make(map[string]*Request),
		pendingByTask: make(map[string]string),
		logger:        logger.With(zap.String("component", "delegation_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindBestAgent returns the top-ranked agent that fully covers the
// required capabilities, or NoCandidate when none does. Priority does
// not change the ranking; it travels on the request so the target can
// weigh competing asks. Callers receiving NoCandidate escalate:
// broaden the capabilities, raise priority and retry, or surface the
// failure.
func (e *Engine) FindBestAgent(required, exclude []string, priority int) (*registry.AgentProfile, error) {
	candidates := e.registry.ListCandidates(required, exclude)
	if len(candidates) == 0 {
		return nil, types.NewErrorf(types.ErrNoCandidate,
			"no agent satisfies capabilities %v", required)
	}

	e.logger.Debug("candidate selected",
		zap.String("agent_id", candidates[0].ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("priority", priority),
	)
	return candidates[0], nil
}

// Delegate opens a delegation request for the task and moves the task
// to delegated until the handshake resolves. When preferredAgent is
// set the request targets it directly, even if its capability set
// falls short of the task's requirements; otherwise the ranking picks
// the target. Exactly one pending request may exist per task, a second
// call returns Conflict.
func (e *Engine) Delegate(ctx context.Context, taskID, fromAgent, preferredAgent, reason string, priority int, exclude []string) (*Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reqID, ok := e.pendingByTask[taskID]; ok {
		return nil, types.ConflictError(
			"task " + taskID + " already has pending delegation " + reqID).WithEntity(taskID)
	}

	tk, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if tk.Status != task.StatusPending {
		return nil, types.InvalidStateError(
			"task " + taskID + " is " + string(tk.Status) + "; only pending tasks can be delegated").WithEntity(taskID)
	}

	var toAgent string
	if preferredAgent != "" {
		profile, err := e.registry.Get(preferredAgent)
		if err != nil {
			return nil, err
		}
		if !profile.HasCapabilities(tk.RequiredCapabilities) {
			e.logger.Warn("preferred agent lacks full capability coverage",
				zap.String("agent_id", preferredAgent),
				zap.String("task_id", taskID),
				zap.Strings("required", tk.RequiredCapabilities),
			)
		}
		toAgent = profile.ID
	} else {
		best, err := e.FindBestAgent(tk.RequiredCapabilities, exclude, priority)
		if err != nil {
			return nil, err
		}
		toAgent = best.ID
	}

	req := &Request{
		ID:                   uuid.New().String(),
		TaskID:               taskID,
		FromAgent:            fromAgent,
		ToAgent:              toAgent,
		RequiredCapabilities: append([]string(nil), tk.RequiredCapabilities...),
		Priority:             priority,
		Reason:               reason,
		Status:               StatusPending,
		CreatedAt:            time.Now().UTC(),
	}
	if _, err := e.tasks.Update(ctx, taskID, func(tk *task.Task) error {
		tk.Status = task.StatusDelegated
		return nil
	}); err != nil {
		return nil, err
	}

	e.requests[req.ID] = req
	e.pendingByTask[taskID] = req.ID

	e.logger.Info("delegation requested",
		zap.String("delegation_id", req.ID),
		zap.String("task_id", taskID),
		zap.String("from_agent", fromAgent),
		zap.String("to_agent", toAgent),
	)
	return req.Clone(), nil
}

// Respond resolves a pending request. Accepting assigns the task,
// moves it to in_progress and increments the target's workload in one
// step; rejecting returns the task to pending so the caller can
// delegate again with the rejecting agent excluded.
func (e *Engine) Respond(ctx context.Context, delegationID, respondingAgent string, accept bool, message string, estimatedEffort time.Duration) (*Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[delegationID]
	if !ok {
		return nil, types.NotFoundError("delegation", delegationID)
	}
	if req.Status != StatusPending {
		return nil, types.InvalidStateError(
			"delegation " + delegationID + " is already " + string(req.Status)).WithEntity(delegationID)
	}
	if respondingAgent != req.ToAgent {
		return nil, types.AccessDeniedError(
			"delegation " + delegationID + " is addressed to " + req.ToAgent).WithEntity(delegationID)
	}

	now := time.Now().UTC()

	if !accept {
		req.Status = StatusRejected
		req.ResponseMessage = message
		req.RespondedAt = &now
		delete(e.pendingByTask, req.TaskID)
		e.revertToPendingLocked(ctx, req.TaskID)

		e.logger.Info("delegation rejected",
			zap.String("delegation_id", delegationID),
			zap.String("task_id", req.TaskID),
			zap.String("agent_id", respondingAgent),
		)
		return req.Clone(), nil
	}

	if err := e.registry.UpdateWorkload(req.ToAgent, 1); err != nil {
		return nil, fmt.Errorf("failed to take on task %s: %w", req.TaskID, err)
	}
	_, err := e.tasks.Update(ctx, req.TaskID, func(tk *task.Task) error {
		tk.AssignedAgent = req.ToAgent
		tk.Status = task.StatusInProgress
		return nil
	})
	if err != nil {
		// Compensate the workload bump so the counter keeps matching
		// the number of in_progress assignments.
		if rbErr := e.registry.UpdateWorkload(req.ToAgent, -1); rbErr != nil {
			e.logger.Error("workload rollback failed",
				zap.String("agent_id", req.ToAgent), zap.Error(rbErr))
		}
		return nil, err
	}

	req.Status = StatusAccepted
	req.ResponseMessage = message
	req.EstimatedEffort = estimatedEffort
	req.RespondedAt = &now
	delete(e.pendingByTask, req.TaskID)

	e.logger.Info("delegation accepted",
		zap.String("delegation_id", delegationID),
		zap.String("task_id", req.TaskID),
		zap.String("agent_id", respondingAgent),
	)
	return req.Clone(), nil
}

// Handoff atomically moves an in-flight task from one agent to
// another: workload shifts between the agents, the task is reassigned,
// and a read_write context bundle owned by the new assignee preserves
// continuity. Partial failures are rolled back. Returns NotFound when
// the task is not currently assigned to fromAgent.
func (e *Engine) Handoff(ctx context.Context, taskID, fromAgent, toAgent string, contextPayload, progressPayload types.Payload, reason string) (*task.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tk, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if tk.Status != task.StatusInProgress || tk.AssignedAgent != fromAgent {
		return nil, types.NewErrorf(types.ErrNotFound,
			"task %s is not currently assigned to %s", taskID, fromAgent).WithEntity(taskID)
	}

	if err := e.registry.TransferWorkload(fromAgent, toAgent); err != nil {
		return nil, err
	}

	bundle, err := types.NewPayload(map[string]any{
		"task_id":  taskID,
		"from":     fromAgent,
		"to":       toAgent,
		"reason":   reason,
		"context":  contextPayload,
		"progress": progressPayload,
	})
	if err != nil {
		e.rollbackTransfer(fromAgent, toAgent)
		return nil, fmt.Errorf("failed to encode handoff bundle: %w", err)
	}

	itemID, err := e.contexts.Create(ctx, &contextstore.Item{
		Type:        "handoff",
		Title:       fmt.Sprintf("handoff %s %s", taskID, uuid.New().String()),
		Content:     bundle,
		OwnerAgent:  toAgent,
		AccessLevel: contextstore.AccessReadWrite,
		Tags:        []string{"handoff", taskID},
	})
	if err != nil {
		e.rollbackTransfer(fromAgent, toAgent)
		return nil, fmt.Errorf("failed to persist handoff bundle: %w", err)
	}

	updated, err := e.tasks.Update(ctx, taskID, func(tk *task.Task) error {
		tk.AssignedAgent = toAgent
		return nil
	})
	if err != nil {
		if delErr := e.contexts.Delete(ctx, itemID, toAgent); delErr != nil {
			e.logger.Error("handoff bundle rollback failed",
				zap.String("item_id", itemID), zap.Error(delErr))
		}
		e.rollbackTransfer(fromAgent, toAgent)
		return nil, err
	}

	if e.onHandoff != nil {
		e.onHandoff()
	}
	e.logger.Info("task handed off",
		zap.String("task_id", taskID),
		zap.String("from_agent", fromAgent),
		zap.String("to_agent", toAgent),
		zap.String("bundle_id", itemID),
	)
	return updated, nil
}

func (e *Engine) rollbackTransfer(fromAgent, toAgent string) {
	if err := e.registry.TransferWorkload(toAgent, fromAgent); err != nil {
		e.logger.Error("workload transfer rollback failed",
			zap.String("from_agent", fromAgent),
			zap.String("to_agent", toAgent),
			zap.Error(err),
		)
	}
}

// revertToPendingLocked returns a task whose handshake ended without
// an assignee to the pending pool. Tasks that turned terminal in the
// meantime stay as they are.
func (e *Engine) revertToPendingLocked(ctx context.Context, taskID string) {
	_, err := e.tasks.Update(ctx, taskID, func(tk *task.Task) error {
		if tk.Status == task.StatusDelegated {
			tk.Status = task.StatusPending
		}
		return nil
	})
	if err != nil && !types.IsErrorCode(err, types.ErrInvalidState) {
		e.logger.Error("failed to return task to pending",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

// ExpirePending times out every pending request created before
// now-olderThan and returns the expired requests. A timed-out request
// is treated as an implicit rejection; the task returns to pending and
// the caller re-delegates.
func (e *Engine) ExpirePending(ctx context.Context, olderThan time.Duration) []*Request {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	var expired []*Request
	for _, req := range e.requests {
		if req.Status != StatusPending || !req.CreatedAt.Before(cutoff) {
			continue
		}
		req.Status = StatusTimedOut
		req.RespondedAt = &now
		delete(e.pendingByTask, req.TaskID)
		e.revertToPendingLocked(ctx, req.TaskID)
		expired = append(expired, req.Clone())
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })

	if len(expired) > 0 {
		e.logger.Warn("delegations timed out", zap.Int("count", len(expired)))
	}
	return expired
}

// CancelPending withdraws the open delegation request for the task, if
// any, and returns the withdrawn request. The request terminalizes as
// timed_out so the target's later response is rejected as stale.
func (e *Engine) CancelPending(ctx context.Context, taskID string) *Request {
	e.mu.Lock()
	defer e.mu.Unlock()

	reqID, ok := e.pendingByTask[taskID]
	if !ok {
		return nil
	}
	req := e.requests[reqID]
	now := time.Now().UTC()
	req.Status = StatusTimedOut
	req.RespondedAt = &now
	delete(e.pendingByTask, taskID)
	e.revertToPendingLocked(ctx, taskID)

	e.logger.Info("delegation withdrawn",
		zap.String("delegation_id", reqID),
		zap.String("task_id", taskID),
	)
	return req.Clone()
}

// Get returns the delegation request by id.
func (e *Engine) Get(delegationID string) (*Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[delegationID]
	if !ok {
		return nil, types.NotFoundError("delegation", delegationID)
	}
	return req.Clone(), nil
}

// ListByTask returns every request ever opened for the task, oldest
// first.
func (e *Engine) ListByTask(taskID string) []*Request {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*Request
	for _, req := range e.requests {
		if req.TaskID == taskID {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
