package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/delegation"
	"github.com/outdoorsea/crewAI-sub001/registry"
	"github.com/outdoorsea/crewAI-sub001/task"
	"github.com/outdoorsea/crewAI-sub001/types"
)

// ExecutionBackend runs assigned tasks. The manager dispatches each
// newly in_progress task exactly once; the backend reports the outcome
// back through UpdateTaskStatus.
type ExecutionBackend interface {
	Execute(ctx context.Context, t *task.Task)
}

// Config holds session manager configuration.
type Config struct {
	// MaxDelegationAttempts bounds how many delegation requests the
	// manager opens per task before failing it. Guards against infinite
	// delegation loops when no agent will ever accept.
	MaxDelegationAttempts int `json:"max_delegation_attempts" yaml:"max_delegation_attempts"`

	// DefaultPriority applies when a session is created with priority 0.
	DefaultPriority int `json:"default_priority" yaml:"default_priority"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxDelegationAttempts: 3,
		DefaultPriority:       5,
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithExecutionBackend attaches a backend that runs in_progress tasks.
func WithExecutionBackend(backend ExecutionBackend) ManagerOption {
	return func(m *Manager) { m.backend = backend }
}

// WithTransitionObserver registers a callback invoked on every session
// status transition. Used to feed metrics.
func WithTransitionObserver(fn func(sessionID string, from, to Status)) ManagerOption {
	return func(m *Manager) { m.onTransition = fn }
}

// Manager owns the session table and drives scheduling. Reads of
// delegation and task state go through the respective collaborators;
// the manager never mutates workload counters directly.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	// dispatched marks tasks already handed to the execution backend.
	dispatched map[string]bool

	engine   *delegation.Engine
	tasks    *task.Store
	registry *registry.Registry
	backend  ExecutionBackend

	onTransition func(sessionID string, from, to Status)

	config Config
	logger *zap.Logger
}

// NewManager wires the manager to its collaborators.
func NewManager(config Config, engine *delegation.Engine, tasks *task.Store, reg *registry.Registry, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if config.MaxDelegationAttempts <= 0 {
		config.MaxDelegationAttempts = DefaultConfig().MaxDelegationAttempts
	}
	if config.DefaultPriority <= 0 {
		config.DefaultPriority = DefaultConfig().DefaultPriority
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		sessions:   make(map[string]*Session),
		dispatched: make(map[string]bool),
		engine:     engine,
		tasks:      tasks,
		registry:   reg,
		config:     config,
		logger:     logger.With(zap.String("component", "session_manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession opens a new active session. Priority is clamped to the
// 1-10 scale; 0 takes the configured default.
func (m *Manager) CreateSession(_ context.Context, title, description string, requiredCapabilities []string, priority int) (*Session, error) {
	if title == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "session title is required")
	}
	if priority == 0 {
		priority = m.config.DefaultPriority
	}
	if priority < 1 || priority > 10 {
		return nil, types.NewErrorf(types.ErrInvalidRequest, "priority %d out of range 1-10", priority)
	}

	now := time.Now().UTC()
	s := &Session{
		ID:                   uuid.New().String(),
		Title:                title,
		Description:          description,
		RequiredCapabilities: append([]string(nil), requiredCapabilities...),
		Priority:             priority,
		Status:               StatusActive,
		Participants:         []string{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("title", title),
		zap.Int("priority", priority),
	)
	return s.Clone(), nil
}

// GetSession returns the session by id.
func (m *Manager) GetSession(_ context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, types.NotFoundError("session", sessionID)
	}
	return s.Clone(), nil
}

// ListSessions returns all sessions sorted by creation time, oldest
// first.
func (m *Manager) ListSessions(_ context.Context) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AddTask registers a task under the session. Every dependency must be
// an existing task of the same session; a dependency set that would
// close a cycle returns CycleDetected and leaves the graph unchanged.
func (m *Manager) AddTask(ctx context.Context, sessionID, description string, requiredCapabilities, dependencies []string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, types.NotFoundError("session", sessionID)
	}
	if s.Status != StatusActive {
		return nil, types.InvalidStateError(
			"session " + sessionID + " is " + string(s.Status) + "; tasks can only be added while active").WithEntity(sessionID)
	}

	edges := m.dependencyEdges(ctx, sessionID)
	for _, dep := range dependencies {
		if _, ok := edges[dep]; !ok {
			return nil, types.NotFoundError("dependency task", dep)
		}
	}

	id := uuid.New().String()
	edges[id] = append([]string(nil), dependencies...)
	if hasCycle(edges) {
		return nil, types.NewErrorf(types.ErrCycleDetected,
			"dependencies %v would create a cycle in session %s", dependencies, sessionID)
	}

	created, err := m.tasks.Create(ctx, &task.Task{
		ID:                   id,
		SessionID:            sessionID,
		Description:          description,
		RequiredCapabilities: requiredCapabilities,
		Dependencies:         dependencies,
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("task added",
		zap.String("session_id", sessionID),
		zap.String("task_id", created.ID),
		zap.Int("dependencies", len(dependencies)),
	)
	return created, nil
}

// AddDependency adds an edge to an existing pending task. The cycle
// check runs before any mutation, so a rejected edge leaves the graph
// exactly as it was.
func (m *Manager) AddDependency(ctx context.Context, sessionID, taskID, dependsOn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return types.NotFoundError("session", sessionID)
	}

	edges := m.dependencyEdges(ctx, sessionID)
	if _, ok := edges[taskID]; !ok {
		return types.NotFoundError("task", taskID)
	}
	if _, ok := edges[dependsOn]; !ok {
		return types.NotFoundError("dependency task", dependsOn)
	}

	edges[taskID] = append(edges[taskID], dependsOn)
	if hasCycle(edges) {
		return types.NewErrorf(types.ErrCycleDetected,
			"edge %s -> %s would create a cycle in session %s", taskID, dependsOn, sessionID)
	}

	_, err := m.tasks.Update(ctx, taskID, func(tk *task.Task) error {
		if tk.Status != task.StatusPending {
			return types.InvalidStateError(
				"task " + taskID + " is " + string(tk.Status) + "; dependencies can only be added while pending").WithEntity(taskID)
		}
		for _, dep := range tk.Dependencies {
			if dep == dependsOn {
				return nil
			}
		}
		tk.Dependencies = append(tk.Dependencies, dependsOn)
		return nil
	})
	return err
}

// dependencyEdges snapshots the session's dependency graph as
// task id -> dependency ids.
func (m *Manager) dependencyEdges(ctx context.Context, sessionID string) map[string][]string {
	edges := make(map[string][]string)
	for _, tk := range m.tasks.ListBySession(ctx, sessionID) {
		edges[tk.ID] = append([]string(nil), tk.Dependencies...)
	}
	return edges
}

// Advance runs one scheduling pass over every active session: sessions
// whose tasks all completed become completed, sessions with a failed
// task become failed, and newly eligible tasks (all dependencies
// completed) get delegated. Call it after any task status change.
func (m *Manager) Advance(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		m.advanceSessionLocked(ctx, s)
	}
}

func (m *Manager) advanceSessionLocked(ctx context.Context, s *Session) {
	tasks := m.tasks.ListBySession(ctx, s.ID)
	if len(tasks) == 0 {
		return
	}

	byID := make(map[string]*task.Task, len(tasks))
	for _, tk := range tasks {
		byID[tk.ID] = tk
		if tk.AssignedAgent != "" {
			s.addParticipant(tk.AssignedAgent)
		}
	}

	allCompleted := true
	for _, tk := range tasks {
		if tk.Status == task.StatusFailed {
			// A failed task permanently blocks its dependents; the
			// session cannot finish.
			m.transitionLocked(s, StatusFailed)
			return
		}
		if tk.Status != task.StatusCompleted {
			allCompleted = false
		}
	}
	if allCompleted {
		m.transitionLocked(s, StatusCompleted)
		return
	}

	for _, tk := range tasks {
		if tk.Status != task.StatusPending || !m.depsCompleted(tk, byID) {
			continue
		}
		if failed := m.delegateLocked(ctx, s, tk); failed {
			m.transitionLocked(s, StatusFailed)
			return
		}
	}

	if m.backend != nil {
		for _, tk := range tasks {
			if tk.Status == task.StatusInProgress && !m.dispatched[tk.ID] {
				m.dispatched[tk.ID] = true
				go m.backend.Execute(ctx, tk.Clone())
			}
		}
	}
}

func (m *Manager) depsCompleted(tk *task.Task, byID map[string]*task.Task) bool {
	for _, dep := range tk.Dependencies {
		d, ok := byID[dep]
		if !ok || d.Status != task.StatusCompleted {
			return false
		}
	}
	return true
}

// delegateLocked opens a delegation request for an eligible task.
// Returns true when the task was failed instead: either the attempt
// budget ran out or no candidate exists.
func (m *Manager) delegateLocked(ctx context.Context, s *Session, tk *task.Task) bool {
	history := m.engine.ListByTask(tk.ID)

	var exclude []string
	for _, req := range history {
		switch req.Status {
		case delegation.StatusPending:
			// The current handshake is still open.
			return false
		case delegation.StatusRejected, delegation.StatusTimedOut:
			exclude = append(exclude, req.ToAgent)
		}
	}

	if len(history) >= m.config.MaxDelegationAttempts {
		m.failTaskLocked(ctx, tk.ID, "delegation attempts exhausted")
		return true
	}

	_, err := m.engine.Delegate(ctx, tk.ID, "session-manager", "", "session scheduling", s.Priority, exclude)
	switch {
	case err == nil:
		return false
	case types.IsErrorCode(err, types.ErrNoCandidate):
		m.failTaskLocked(ctx, tk.ID, "no candidate agent")
		return true
	case types.IsErrorCode(err, types.ErrConflict):
		// Raced with a direct delegation; the open request wins.
		return false
	default:
		m.logger.Warn("delegation failed",
			zap.String("session_id", s.ID),
			zap.String("task_id", tk.ID),
			zap.Error(err),
		)
		return false
	}
}

func (m *Manager) failTaskLocked(ctx context.Context, taskID, reason string) {
	_, err := m.tasks.Update(ctx, taskID, func(tk *task.Task) error {
		tk.Status = task.StatusFailed
		tk.FailureReason = reason
		return nil
	})
	if err != nil {
		m.logger.Error("failed to mark task failed",
			zap.String("task_id", taskID), zap.Error(err))
		return
	}
	m.logger.Warn("task failed",
		zap.String("task_id", taskID),
		zap.String("reason", reason),
	)
}

// UpdateTaskStatus is the execution backend's reporting entry: it
// records a completion or failure, releases the assignee's workload,
// feeds the outcome into the registry's moving averages, and advances
// affected sessions. Terminal tasks are immutable, so a second report
// returns InvalidState.
func (m *Manager) UpdateTaskStatus(ctx context.Context, taskID string, status task.Status, result types.Payload, reason string) (*task.Task, error) {
	if status != task.StatusCompleted && status != task.StatusFailed {
		return nil, types.NewErrorf(types.ErrInvalidRequest,
			"status %q is not a reportable outcome", status)
	}

	prev, err := m.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	updated, err := m.tasks.Update(ctx, taskID, func(tk *task.Task) error {
		tk.Status = status
		if status == task.StatusCompleted {
			tk.Result = result
		} else {
			if reason == "" {
				reason = "execution failed"
			}
			tk.FailureReason = reason
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if prev.Status == task.StatusDelegated {
		// The outcome arrived while a handshake was still open;
		// withdraw it so the target's answer comes back as stale.
		m.engine.CancelPending(ctx, taskID)
	}

	if prev.Status == task.StatusInProgress && prev.AssignedAgent != "" {
		if err := m.registry.UpdateWorkload(prev.AssignedAgent, -1); err != nil {
			m.logger.Error("workload release failed",
				zap.String("agent_id", prev.AssignedAgent), zap.Error(err))
		}
		latency := time.Since(prev.UpdatedAt)
		if err := m.registry.RecordOutcome(prev.AssignedAgent, status == task.StatusCompleted, latency); err != nil {
			m.logger.Error("outcome recording failed",
				zap.String("agent_id", prev.AssignedAgent), zap.Error(err))
		}
	}

	m.logger.Info("task status reported",
		zap.String("task_id", taskID),
		zap.String("status", string(status)),
	)

	m.Advance(ctx)
	return updated, nil
}

// Cancel terminates the session: every non-terminal task fails with
// reason cancelled and in-flight assignments release their workload.
// Completed tasks keep their results.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return types.NotFoundError("session", sessionID)
	}
	if s.Status.Terminal() {
		return types.InvalidStateError(
			"session " + sessionID + " is already " + string(s.Status)).WithEntity(sessionID)
	}

	for _, tk := range m.tasks.ListBySession(ctx, sessionID) {
		if tk.Status.Terminal() {
			continue
		}
		// Withdraw any open handshake so the target's later response
		// comes back as stale instead of assigning a cancelled task.
		m.engine.CancelPending(ctx, tk.ID)
		if tk.Status == task.StatusInProgress && tk.AssignedAgent != "" {
			if err := m.registry.UpdateWorkload(tk.AssignedAgent, -1); err != nil {
				m.logger.Error("workload release failed",
					zap.String("agent_id", tk.AssignedAgent), zap.Error(err))
			}
		}
		m.failTaskLocked(ctx, tk.ID, "cancelled")
	}

	m.transitionLocked(s, StatusCancelled)
	return nil
}

// SessionStatus is the aggregated view of a session and its tasks.
type SessionStatus struct {
	Session    *Session            `json:"session"`
	Tasks      []*task.Task        `json:"tasks"`
	TaskCounts map[task.Status]int `json:"task_counts"`

	// Progress is completed tasks over total tasks, 0 when empty.
	Progress float64 `json:"progress"`
}

// Status returns the aggregated per-task view and overall progress
// fraction for the session.
func (m *Manager) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, types.NotFoundError("session", sessionID)
	}

	tasks := m.tasks.ListBySession(ctx, sessionID)
	counts := make(map[task.Status]int)
	completed := 0
	for _, tk := range tasks {
		counts[tk.Status]++
		if tk.Status == task.StatusCompleted {
			completed++
		}
	}

	progress := 0.0
	if len(tasks) > 0 {
		progress = float64(completed) / float64(len(tasks))
	}

	return &SessionStatus{
		Session:    s.Clone(),
		Tasks:      tasks,
		TaskCounts: counts,
		Progress:   progress,
	}, nil
}

func (m *Manager) transitionLocked(s *Session, to Status) {
	from := s.Status
	if from == to {
		return
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()

	m.logger.Info("session transitioned",
		zap.String("session_id", s.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if m.onTransition != nil {
		m.onTransition(s.ID, from, to)
	}
}
