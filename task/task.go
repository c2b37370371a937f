// Package task defines the unit of delegated work and its store. Tasks
// may belong to a collaboration session or stand alone for direct
// delegation.
package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outdoorsea/crewAI-sub001/types"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending means the task awaits assignment.
	StatusPending Status = "pending"
	// StatusInProgress means an agent has accepted the task.
	StatusInProgress Status = "in_progress"
	// StatusDelegated means a delegation request for the task is
	// awaiting a response.
	StatusDelegated Status = "delegated"
	// StatusCompleted is terminal success.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal failure.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDelegated, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Task is a unit of work assigned to exactly one agent at a time.
// Dependencies name other tasks that must complete first.
type Task struct {
	ID                   string        `json:"id"`
	SessionID            string        `json:"session_id,omitempty"`
	Description          string        `json:"description"`
	RequiredCapabilities []string      `json:"required_capabilities"`
	AssignedAgent        string        `json:"assigned_agent,omitempty"`
	Status               Status        `json:"status"`
	Dependencies         []string      `json:"dependencies,omitempty"`
	Result               types.Payload `json:"result,omitempty"`
	FailureReason        string        `json:"failure_reason,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	cp := *t
	cp.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	cp.Result = t.Result.Clone()
	return &cp
}

// Store is an in-memory task table. All mutation goes through Update so
// that per-task transitions are serialized under one lock.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]*Task)}
}

// Create registers a new task. An empty id gets a generated one; a
// duplicate id returns Conflict. New tasks always start pending.
func (s *Store) Create(_ context.Context, t *Task) (*Task, error) {
	if t.Description == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "task description is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, ok := s.tasks[t.ID]; ok {
		return nil, types.ConflictError("task already exists: " + t.ID).WithEntity(t.ID)
	}

	now := time.Now().UTC()
	cp := t.Clone()
	cp.Status = StatusPending
	cp.AssignedAgent = ""
	cp.Result = nil
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.tasks[cp.ID] = cp
	return cp.Clone(), nil
}

// Get returns a copy of the task.
func (s *Store) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, types.NotFoundError("task", id)
	}
	return t.Clone(), nil
}

// ListBySession returns all tasks owned by the session, sorted by id.
func (s *Store) ListBySession(_ context.Context, sessionID string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0)
	for _, t := range s.tasks {
		if t.SessionID == sessionID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update applies fn to the task under the store lock and returns the
// updated copy. Terminal tasks are immutable: corrections require a new
// task, so any update attempt returns InvalidState. fn receives the live
// task; returning an error discards the mutation.
func (s *Store) Update(_ context.Context, id string, fn func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, types.NotFoundError("task", id)
	}
	if t.Status.Terminal() {
		return nil, types.InvalidStateError("task " + id + " is " + string(t.Status) + " and immutable").WithEntity(id)
	}

	scratch := t.Clone()
	if err := fn(scratch); err != nil {
		return nil, err
	}
	scratch.UpdatedAt = time.Now().UTC()
	s.tasks[id] = scratch
	return scratch.Clone(), nil
}
