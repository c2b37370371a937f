package contextstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/outdoorsea/crewAI-sub001/types"
)

// AccessLevel controls which agents may read or write a context item.
type AccessLevel string

const (
	// AccessOwnerOnly permits reads and writes by the owner only.
	AccessOwnerOnly AccessLevel = "owner_only"
	// AccessReadOnly permits reads by any agent, writes by the owner.
	AccessReadOnly AccessLevel = "read_only"
	// AccessReadWrite permits reads and writes by any agent.
	AccessReadWrite AccessLevel = "read_write"
	// AccessPublic permits reads by any agent, writes by the owner.
	AccessPublic AccessLevel = "public"
)

// Valid reports whether the access level is one of the defined values.
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessOwnerOnly, AccessReadOnly, AccessReadWrite, AccessPublic:
		return true
	default:
		return false
	}
}

// Item is a versioned, access-controlled, expiring context record.
type Item struct {
	// ID is the unique item identifier.
	ID string `json:"id"`

	// Type is a caller-defined type tag used for search filtering.
	Type string `json:"type"`

	// Title names the item. (OwnerAgent, Title) is unique among live items.
	Title string `json:"title"`

	// Content is the opaque versioned payload.
	Content types.Payload `json:"content"`

	// OwnerAgent is the agent that created the item.
	OwnerAgent string `json:"owner_agent"`

	// AccessLevel controls cross-agent visibility.
	AccessLevel AccessLevel `json:"access_level"`

	// Tags categorize the item for search.
	Tags []string `json:"tags,omitempty"`

	// Version increments on every accepted update, starting at 1.
	Version int64 `json:"version"`

	// CreatedAt is when the item was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the item was last updated.
	UpdatedAt time.Time `json:"updated_at"`

	// ExpiresAt, when set, is the instant after which the item behaves as
	// not found.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the item is past its expiry at the given instant.
func (i *Item) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// CanRead reports whether the requesting agent may read the item.
func (i *Item) CanRead(agentID string) bool {
	if agentID == i.OwnerAgent {
		return true
	}
	switch i.AccessLevel {
	case AccessPublic, AccessReadOnly, AccessReadWrite:
		return true
	default:
		return false
	}
}

// CanWrite reports whether the requesting agent may update the item.
func (i *Item) CanWrite(agentID string) bool {
	return agentID == i.OwnerAgent || i.AccessLevel == AccessReadWrite
}

// Clone returns an independent copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Content = i.Content.Clone()
	cp.Tags = append([]string(nil), i.Tags...)
	if i.ExpiresAt != nil {
		exp := *i.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}

// Patch describes an update to an item. Nil fields are left unchanged.
type Patch struct {
	// Content replaces the payload when non-nil.
	Content types.Payload `json:"content,omitempty"`

	// Tags replaces the tag set when non-nil.
	Tags []string `json:"tags,omitempty"`

	// AccessLevel replaces the access level when non-nil.
	AccessLevel *AccessLevel `json:"access_level,omitempty"`

	// ExpiresAt replaces the expiry when non-nil.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// ExpectedVersion, when non-nil, makes the update conditional: a
	// mismatch with the stored version returns Conflict and the caller must
	// re-read and retry.
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// Query describes a context search.
type Query struct {
	// RequestingAgent is the agent running the search. Items the agent
	// may not read are excluded from the results; an empty agent sees
	// only items readable by everyone.
	RequestingAgent string `json:"requesting_agent,omitempty"`

	// Text is matched against item titles and type tags.
	Text string `json:"text,omitempty"`

	// Types restricts results to the given type tags.
	Types []string `json:"types,omitempty"`

	// Tags restricts results to items carrying at least one of the tags.
	Tags []string `json:"tags,omitempty"`

	// Limit caps the number of results. Zero means no cap.
	Limit int `json:"limit,omitempty"`
}

// Stats summarizes store contents.
type Stats struct {
	TotalItems   int64            `json:"total_items"`
	ExpiredItems int64            `json:"expired_items"`
	ByAccess     map[string]int64 `json:"by_access"`
	ByOwner      map[string]int64 `json:"by_owner"`
}

// Store is the shared context store contract.
type Store interface {
	// Create stores a new item and returns its id. Returns Conflict if a
	// live item with the same (owner, title) already exists.
	Create(ctx context.Context, item *Item) (string, error)

	// Read returns the item if the requesting agent may read it. Expired
	// items return NotFound regardless of access level.
	Read(ctx context.Context, id, requestingAgent string) (*Item, error)

	// Update applies a patch and returns the new version. Write permission
	// requires ownership or a read_write access level.
	Update(ctx context.Context, id, requestingAgent string, patch Patch) (int64, error)

	// Delete removes an item. Only the owner may delete.
	Delete(ctx context.Context, id, requestingAgent string) error

	// Search returns non-expired matching items readable by the query's
	// requesting agent, ranked by relevance with ties broken by most
	// recent update. Repeating a query against an unchanged store yields
	// the same sequence.
	Search(ctx context.Context, q Query) ([]*Item, error)

	// Sweep removes items past their expiry and reports how many were
	// removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Stats returns store statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Ping checks store health.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// validateNew checks the invariants for a new item.
func validateNew(item *Item) error {
	if item == nil {
		return types.NewError(types.ErrInvalidRequest, "context item is nil")
	}
	if item.OwnerAgent == "" {
		return types.NewError(types.ErrInvalidRequest, "context item requires an owner agent")
	}
	if item.Title == "" {
		return types.NewError(types.ErrInvalidRequest, "context item requires a title")
	}
	if item.AccessLevel != "" && !item.AccessLevel.Valid() {
		return types.NewErrorf(types.ErrInvalidRequest, "unknown access level: %s", item.AccessLevel)
	}
	return nil
}

// relevance scores an item against a query: two points per tag overlap,
// one per query token appearing in the title or type tag.
func relevance(item *Item, q Query) int {
	score := 0
	if len(q.Tags) > 0 {
		tags := make(map[string]struct{}, len(item.Tags))
		for _, t := range item.Tags {
			tags[strings.ToLower(t)] = struct{}{}
		}
		for _, t := range q.Tags {
			if _, ok := tags[strings.ToLower(t)]; ok {
				score += 2
			}
		}
	}
	if q.Text != "" {
		title := strings.ToLower(item.Title)
		typ := strings.ToLower(item.Type)
		for _, tok := range strings.Fields(strings.ToLower(q.Text)) {
			if strings.Contains(title, tok) || typ == tok {
				score++
			}
		}
	}
	return score
}

// matchesFilters applies the hard query filters (types, tags, text).
func matchesFilters(item *Item, q Query) bool {
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if item.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.Tags) > 0 || q.Text != "" {
		return relevance(item, q) > 0
	}
	return true
}

// rank orders items by relevance descending, update recency descending,
// then ID ascending for determinism, and applies the query limit.
func rank(items []*Item, q Query) []*Item {
	sort.Slice(items, func(i, j int) bool {
		ri, rj := relevance(items[i], q), relevance(items[j], q)
		if ri != rj {
			return ri > rj
		}
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items
}
