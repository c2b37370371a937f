// Package session is the top-level orchestrator: it creates
// collaboration sessions, tracks their task graphs, delegates eligible
// tasks through the delegation engine, and aggregates results.
package session

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a collaboration session.
type Status string

const (
	// StatusActive means the session accepts tasks and schedules work.
	StatusActive Status = "active"
	// StatusCompleted means every owned task completed.
	StatusCompleted Status = "completed"
	// StatusFailed means a task was fatally blocked with no viable agent.
	StatusFailed Status = "failed"
	// StatusCancelled means the caller cancelled the session.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the session admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session groups related tasks under one goal. Participants grow as
// agents are delegated tasks; the set is never pruned.
type Session struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	RequiredCapabilities []string  `json:"required_capabilities"`
	Priority             int       `json:"priority"`
	Status               Status    `json:"status"`
	Participants         []string  `json:"participants"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	cp := *s
	cp.RequiredCapabilities = append([]string(nil), s.RequiredCapabilities...)
	cp.Participants = append([]string(nil), s.Participants...)
	return &cp
}

func (s *Session) addParticipant(agentID string) bool {
	for _, p := range s.Participants {
		if p == agentID {
			return false
		}
	}
	s.Participants = append(s.Participants, agentID)
	sort.Strings(s.Participants)
	return true
}
