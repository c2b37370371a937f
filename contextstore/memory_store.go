package contextstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/outdoorsea/crewAI-sub001/types"
)

// MemoryStore is an in-memory implementation of Store. Data is lost on
// restart.
type MemoryStore struct {
	mu sync.RWMutex

	items map[string]*Item

	// ownerTitle indexes live items by "owner\x00title" for the create
	// uniqueness check.
	ownerTitle map[string]string

	closed bool
	logger *zap.Logger
}

// NewMemoryStore creates a new in-memory context store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		items:      make(map[string]*Item),
		ownerTitle: make(map[string]string),
		logger:     logger.With(zap.String("component", "context_store")),
	}
}

func ownerTitleKey(owner, title string) string {
	return owner + "\x00" + title
}

// Create stores a new item.
func (s *MemoryStore) Create(ctx context.Context, item *Item) (string, error) {
	if err := validateNew(item); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", types.NewError(types.ErrInternal, "context store is closed")
	}

	key := ownerTitleKey(item.OwnerAgent, item.Title)
	if existingID, ok := s.ownerTitle[key]; ok {
		existing := s.items[existingID]
		if existing != nil && !existing.Expired(time.Now()) {
			return "", types.ConflictError("context item already exists for owner/title; update it instead").
				WithEntity(existingID)
		}
		// The previous holder expired: drop it so the title can be reused.
		delete(s.items, existingID)
		delete(s.ownerTitle, key)
	}

	stored := item.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.AccessLevel == "" {
		stored.AccessLevel = AccessOwnerOnly
	}
	now := time.Now()
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.items[stored.ID] = stored
	s.ownerTitle[key] = stored.ID

	s.logger.Debug("context item created",
		zap.String("item_id", stored.ID),
		zap.String("owner", stored.OwnerAgent),
		zap.String("access", string(stored.AccessLevel)),
	)
	return stored.ID, nil
}

// Read returns the item if the requesting agent may read it.
func (s *MemoryStore) Read(ctx context.Context, id, requestingAgent string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok || item.Expired(time.Now()) {
		return nil, types.NotFoundError("context item", id)
	}
	if !item.CanRead(requestingAgent) {
		return nil, types.AccessDeniedError("agent " + requestingAgent + " may not read context item " + id).WithEntity(id)
	}
	return item.Clone(), nil
}

// Update applies a patch under optimistic concurrency control.
func (s *MemoryStore) Update(ctx context.Context, id, requestingAgent string, patch Patch) (int64, error) {
	if patch.AccessLevel != nil && !patch.AccessLevel.Valid() {
		return 0, types.NewErrorf(types.ErrInvalidRequest, "unknown access level: %s", *patch.AccessLevel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok || item.Expired(time.Now()) {
		return 0, types.NotFoundError("context item", id)
	}
	if !item.CanWrite(requestingAgent) {
		return 0, types.AccessDeniedError("agent " + requestingAgent + " may not write context item " + id).WithEntity(id)
	}
	if patch.ExpectedVersion != nil && *patch.ExpectedVersion != item.Version {
		return 0, types.NewErrorf(types.ErrConflict,
			"version mismatch for context item %s: expected %d, have %d",
			id, *patch.ExpectedVersion, item.Version).WithEntity(id)
	}

	if patch.Content != nil {
		item.Content = patch.Content.Clone()
	}
	if patch.Tags != nil {
		item.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.AccessLevel != nil {
		item.AccessLevel = *patch.AccessLevel
	}
	if patch.ExpiresAt != nil {
		exp := *patch.ExpiresAt
		item.ExpiresAt = &exp
	}
	item.Version++
	item.UpdatedAt = time.Now()

	return item.Version, nil
}

// Delete removes an item. Only the owner may delete.
func (s *MemoryStore) Delete(ctx context.Context, id, requestingAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok || item.Expired(time.Now()) {
		return types.NotFoundError("context item", id)
	}
	if requestingAgent != item.OwnerAgent {
		return types.AccessDeniedError("only the owner may delete context item " + id).WithEntity(id)
	}

	delete(s.items, id)
	delete(s.ownerTitle, ownerTitleKey(item.OwnerAgent, item.Title))
	return nil
}

// Search returns ranked, non-expired matches readable by the
// requesting agent.
func (s *MemoryStore) Search(ctx context.Context, q Query) ([]*Item, error) {
	now := time.Now()

	s.mu.RLock()
	matches := make([]*Item, 0)
	for _, item := range s.items {
		if item.Expired(now) {
			continue
		}
		if !item.CanRead(q.RequestingAgent) {
			continue
		}
		if !matchesFilters(item, q) {
			continue
		}
		matches = append(matches, item.Clone())
	}
	s.mu.RUnlock()

	return rank(matches, q), nil
}

// Sweep removes expired items.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, item := range s.items {
		if item.Expired(now) {
			delete(s.items, id)
			delete(s.ownerTitle, ownerTitleKey(item.OwnerAgent, item.Title))
			removed++
		}
	}
	return removed, nil
}

// Stats returns store statistics.
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ByAccess: make(map[string]int64),
		ByOwner:  make(map[string]int64),
	}
	for _, item := range s.items {
		stats.TotalItems++
		if item.Expired(now) {
			stats.ExpiredItems++
			continue
		}
		stats.ByAccess[string(item.AccessLevel)]++
		stats.ByOwner[item.OwnerAgent]++
	}
	return stats, nil
}

// Ping checks store health.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.NewError(types.ErrInternal, "context store is closed")
	}
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
