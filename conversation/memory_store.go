package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/outdoorsea/crewAI-sub001/types"
)

// MemoryStore is an in-memory Store guarded by a single RWMutex. Message
// slices are kept in append order, which History relies on.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]*Message
	closed        bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
	}
}

// CreateConversation implements Store.
func (s *MemoryStore) CreateConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrInvalidState, "conversation store is closed")
	}
	if _, ok := s.conversations[conv.ID]; ok {
		return types.ConflictError("conversation already exists: " + conv.ID).WithEntity(conv.ID)
	}
	s.conversations[conv.ID] = conv.Clone()
	return nil
}

// GetConversation implements Store.
func (s *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, types.NotFoundError("conversation", id)
	}
	return conv.Clone(), nil
}

// AddParticipant implements Store.
func (s *MemoryStore) AddParticipant(_ context.Context, conversationID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return types.NotFoundError("conversation", conversationID)
	}
	if conv.HasParticipant(agentID) {
		return nil
	}
	conv.Participants = append(conv.Participants, agentID)
	return nil
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return types.NotFoundError("conversation", msg.ConversationID)
	}
	cp := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &cp)
	return nil
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, conversationID string, since time.Time) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, types.NotFoundError("conversation", conversationID)
	}

	log := s.messages[conversationID]
	out := make([]*Message, 0, len(log))
	for _, msg := range log {
		if !since.IsZero() && msg.Timestamp.Before(since) {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		TotalConversations: int64(len(s.conversations)),
		ByType:             make(map[MessageType]int64),
	}
	for _, log := range s.messages {
		stats.TotalMessages += int64(len(log))
		for _, msg := range log {
			stats.ByType[msg.Type]++
		}
	}
	return stats, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
