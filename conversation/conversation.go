package conversation

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/types"
)

// MessageType classifies an appended message.
type MessageType string

const (
	// MessageTypeMessage is a plain conversational message.
	MessageTypeMessage MessageType = "message"
	// MessageTypeInsight records an observation worth surfacing to other
	// participants.
	MessageTypeInsight MessageType = "insight"
	// MessageTypeDecision records an agreed decision.
	MessageTypeDecision MessageType = "decision"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeMessage, MessageTypeInsight, MessageTypeDecision:
		return true
	}
	return false
}

// Conversation is a multi-agent discussion thread. The participant set
// may only grow; messages reference the conversation by id.
type Conversation struct {
	ID             string        `json:"id"`
	Participants   []string      `json:"participants"`
	Topic          string        `json:"topic"`
	InitialContext types.Payload `json:"initial_context,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// HasParticipant reports whether agentID belongs to the conversation.
func (c *Conversation) HasParticipant(agentID string) bool {
	for _, p := range c.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.InitialContext = c.InitialContext.Clone()
	return &cp
}

// Message is a single append-only log entry within a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	AgentID        string      `json:"agent_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"message_type"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Stats summarizes what a Store holds.
type Stats struct {
	TotalConversations int64                 `json:"total_conversations"`
	TotalMessages      int64                 `json:"total_messages"`
	ByType             map[MessageType]int64 `json:"by_type"`
}

// Store persists conversations and their message logs. Implementations
// must keep the per-conversation message order stable (append order).
type Store interface {
	// CreateConversation stores a new conversation. Returns Conflict if
	// the id is already taken.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// GetConversation loads a conversation by id.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// AddParticipant adds an agent to the participant set. Adding an
	// existing participant is a no-op.
	AddParticipant(ctx context.Context, conversationID, agentID string) error

	// AppendMessage appends a message to its conversation's log.
	AppendMessage(ctx context.Context, msg *Message) error

	// History returns messages at or after since, in append order.
	History(ctx context.Context, conversationID string, since time.Time) ([]*Message, error)

	// Stats returns store-wide counts.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases store resources.
	Close() error
}

// Tracker is the conversation-facing API. It enforces the participant
// rules and delegates persistence to a Store.
type Tracker struct {
	store  Store
	logger *zap.Logger
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		logger: logger.With(zap.String("component", "conversation_tracker")),
	}
}

// Start opens a new conversation with the given participants. The id is
// caller-supplied so that external systems can correlate threads; an
// empty id gets a generated one. Returns Conflict if the id is taken.
func (t *Tracker) Start(ctx context.Context, id string, participants []string, topic string, initialContext types.Payload) (*Conversation, error) {
	if len(participants) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "conversation requires at least one participant")
	}
	if id == "" {
		id = uuid.New().String()
	}

	conv := &Conversation{
		ID:             id,
		Participants:   dedupeSorted(participants),
		Topic:          topic,
		InitialContext: initialContext.Clone(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := t.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	t.logger.Info("conversation started",
		zap.String("conversation_id", conv.ID),
		zap.Int("participants", len(conv.Participants)),
	)
	return conv.Clone(), nil
}

// Get returns the conversation by id.
func (t *Tracker) Get(ctx context.Context, id string) (*Conversation, error) {
	return t.store.GetConversation(ctx, id)
}

// Append adds a message from agentID. Only participants may contribute;
// a non-participant is indistinguishable from an unknown conversation
// and gets NotFound.
func (t *Tracker) Append(ctx context.Context, conversationID, agentID, content string, msgType MessageType) (*Message, error) {
	if !msgType.Valid() {
		return nil, types.NewErrorf(types.ErrInvalidRequest, "unknown message type %q", msgType)
	}

	conv, err := t.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(agentID) {
		return nil, types.NewErrorf(types.ErrNotFound,
			"agent %s is not a participant of conversation %s", agentID, conversationID)
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		AgentID:        agentID,
		Content:        content,
		Type:           msgType,
		Timestamp:      time.Now().UTC(),
	}
	if err := t.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// AddParticipant invites an agent into the conversation. Subsequent
// Append calls by that agent succeed.
func (t *Tracker) AddParticipant(ctx context.Context, conversationID, agentID string) error {
	if agentID == "" {
		return types.NewError(types.ErrInvalidRequest, "agent id is required")
	}
	if err := t.store.AddParticipant(ctx, conversationID, agentID); err != nil {
		return err
	}
	t.logger.Debug("participant added",
		zap.String("conversation_id", conversationID),
		zap.String("agent_id", agentID),
	)
	return nil
}

// History returns the conversation's messages at or after since, oldest
// first. A zero since returns the full log.
func (t *Tracker) History(ctx context.Context, conversationID string, since time.Time) ([]*Message, error) {
	return t.store.History(ctx, conversationID, since)
}

// Stats returns store-wide conversation and message counts.
func (t *Tracker) Stats(ctx context.Context) (*Stats, error) {
	return t.store.Stats(ctx)
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
