package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/contextstore"
	"github.com/outdoorsea/crewAI-sub001/types"
)

// ContextHandler exposes shared context store operations. The
// requesting agent rides on the X-Agent-ID header; access control is
// enforced by the store.
type ContextHandler struct {
	store  contextstore.Store
	logger *zap.Logger
}

// NewContextHandler creates a context handler.
func NewContextHandler(store contextstore.Store, logger *zap.Logger) *ContextHandler {
	return &ContextHandler{store: store, logger: logger}
}

func requestingAgent(r *http.Request) (string, error) {
	agent := r.Header.Get("X-Agent-ID")
	if agent == "" {
		return "", types.NewError(types.ErrInvalidRequest, "X-Agent-ID header is required")
	}
	return agent, nil
}

// CreateContextRequest is the body of POST /v1/context.
type CreateContextRequest struct {
	Type        string                   `json:"type"`
	Title       string                   `json:"title"`
	Content     types.Payload            `json:"content"`
	AccessLevel contextstore.AccessLevel `json:"access_level"`
	Tags        []string                 `json:"tags,omitempty"`
	ExpiresAt   *time.Time               `json:"expires_at,omitempty"`
}

// HandleCreate stores a new context item owned by the requesting agent.
func (h *ContextHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	agent, err := requestingAgent(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	var req CreateContextRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	id, err := h.store.Create(r.Context(), &contextstore.Item{
		Type:        req.Type,
		Title:       req.Title,
		Content:     req.Content,
		OwnerAgent:  agent,
		AccessLevel: req.AccessLevel,
		Tags:        req.Tags,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, map[string]string{"id": id})
}

// HandleRead returns an item if the requesting agent may see it.
func (h *ContextHandler) HandleRead(w http.ResponseWriter, r *http.Request) {
	agent, err := requestingAgent(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	item, err := h.store.Read(r.Context(), r.PathValue("id"), agent)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, item)
}

// UpdateContextRequest is the body of PATCH /v1/context/{id}.
type UpdateContextRequest struct {
	Content         types.Payload             `json:"content,omitempty"`
	Tags            []string                  `json:"tags,omitempty"`
	AccessLevel     *contextstore.AccessLevel `json:"access_level,omitempty"`
	ExpiresAt       *time.Time                `json:"expires_at,omitempty"`
	ExpectedVersion *int64                    `json:"expected_version,omitempty"`
}

// HandleUpdate applies an optimistic patch; a stale expected_version
// comes back as Conflict and the caller re-reads and retries.
func (h *ContextHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	agent, err := requestingAgent(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	var req UpdateContextRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	version, err := h.store.Update(r.Context(), r.PathValue("id"), agent, contextstore.Patch{
		Content:         req.Content,
		Tags:            req.Tags,
		AccessLevel:     req.AccessLevel,
		ExpiresAt:       req.ExpiresAt,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]int64{"version": version})
}

// HandleDelete removes an item; only the owner may.
func (h *ContextHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	agent, err := requestingAgent(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if err := h.store.Delete(r.Context(), r.PathValue("id"), agent); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, nil)
}

// HandleSearch runs a relevance-ranked query over non-expired items.
// Results are limited to what the requesting agent may read.
func (h *ContextHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	agent, err := requestingAgent(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	q := contextstore.Query{
		RequestingAgent: agent,
		Text:            r.URL.Query().Get("text"),
		Types:           splitParam(r.URL.Query().Get("types")),
		Tags:            splitParam(r.URL.Query().Get("tags")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteError(w, types.NewErrorf(types.ErrInvalidRequest, "invalid limit %q", raw), h.logger)
			return
		}
		q.Limit = limit
	}

	items, err := h.store.Search(r.Context(), q)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, items)
}

// HandleStats returns store-wide context item counts.
func (h *ContextHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, stats)
}
