package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/conversation"
	"github.com/outdoorsea/crewAI-sub001/types"
)

// ConversationHandler exposes conversation tracker operations.
type ConversationHandler struct {
	tracker *conversation.Tracker
	logger  *zap.Logger
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(tracker *conversation.Tracker, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{tracker: tracker, logger: logger}
}

// StartConversationRequest is the body of POST /v1/conversations.
type StartConversationRequest struct {
	ID             string        `json:"id,omitempty"`
	Participants   []string      `json:"participants"`
	Topic          string        `json:"topic"`
	InitialContext types.Payload `json:"initial_context,omitempty"`
}

// HandleStart opens a conversation.
func (h *ConversationHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	conv, err := h.tracker.Start(r.Context(), req.ID, req.Participants, req.Topic, req.InitialContext)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, conv)
}

// HandleGet returns a conversation by id.
func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.tracker.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, conv)
}

// AppendMessageRequest is the body of POST /v1/conversations/{id}/messages.
type AppendMessageRequest struct {
	AgentID string                   `json:"agent_id"`
	Content string                   `json:"content"`
	Type    conversation.MessageType `json:"message_type"`
}

// HandleAppend appends a message from a participant.
func (h *ConversationHandler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	var req AppendMessageRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	msg, err := h.tracker.Append(r.Context(), r.PathValue("id"), req.AgentID, req.Content, req.Type)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, msg)
}

// HandleAddParticipant invites an agent into the conversation.
func (h *ConversationHandler) HandleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if err := h.tracker.AddParticipant(r.Context(), r.PathValue("id"), req.AgentID); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleHistory returns messages, optionally bounded by ?since=RFC3339.
func (h *ConversationHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, types.NewErrorf(types.ErrInvalidRequest,
				"invalid since timestamp %q", raw), h.logger)
			return
		}
		since = parsed
	}

	history, err := h.tracker.History(r.Context(), r.PathValue("id"), since)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, history)
}

// HandleStats returns conversation and message counts.
func (h *ConversationHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tracker.Stats(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, stats)
}
