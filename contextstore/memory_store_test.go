package contextstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outdoorsea/crewAI-sub001/types"
)

func newItem(owner, title string, access AccessLevel) *Item {
	return &Item{
		Type:        "analysis",
		Title:       title,
		Content:     types.MustPayload(map[string]string{"note": "initial"}),
		OwnerAgent:  owner,
		AccessLevel: access,
	}
}

func TestMemoryStore_CreateReadRoundTrip(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, newItem("agent-a", "market report", AccessPublic))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Read(ctx, id, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "market report", got.Title)

	var content map[string]string
	require.NoError(t, got.Content.Decode(&content))
	assert.Equal(t, "initial", content["note"])

	// Idempotent read: same content and version with no intervening write.
	again, err := s.Read(ctx, id, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)
	assert.Equal(t, got.Content, again.Content)
}

func TestMemoryStore_CreateConflictOnOwnerTitle(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	_, err := s.Create(ctx, newItem("agent-a", "report", AccessPublic))
	require.NoError(t, err)

	_, err = s.Create(ctx, newItem("agent-a", "report", AccessPublic))
	assert.True(t, types.IsErrorCode(err, types.ErrConflict))

	// A different owner may reuse the title.
	_, err = s.Create(ctx, newItem("agent-b", "report", AccessPublic))
	assert.NoError(t, err)
}

func TestMemoryStore_AccessControl(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	tests := []struct {
		access  AccessLevel
		reader  string
		readOK  bool
		writer  string
		writeOK bool
	}{
		{AccessOwnerOnly, "owner", true, "owner", true},
		{AccessOwnerOnly, "other", false, "other", false},
		{AccessReadOnly, "other", true, "other", false},
		{AccessReadWrite, "other", true, "other", true},
		{AccessPublic, "other", true, "other", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.access)+"/"+tt.reader, func(t *testing.T) {
			id, err := s.Create(ctx, newItem("owner", string(tt.access)+"/"+tt.reader, tt.access))
			require.NoError(t, err)

			_, err = s.Read(ctx, id, tt.reader)
			if tt.readOK {
				assert.NoError(t, err)
			} else {
				assert.True(t, types.IsErrorCode(err, types.ErrAccessDenied))
			}

			_, err = s.Update(ctx, id, tt.writer, Patch{Content: types.MustPayload("patched")})
			if tt.writeOK {
				assert.NoError(t, err)
			} else {
				assert.True(t, types.IsErrorCode(err, types.ErrAccessDenied))
			}
		})
	}
}

func TestMemoryStore_OptimisticUpdate(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, newItem("agent-a", "draft", AccessReadWrite))
	require.NoError(t, err)

	v1 := int64(1)
	v2, err := s.Update(ctx, id, "agent-b", Patch{
		Content:         types.MustPayload("second"),
		ExpectedVersion: &v1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	// A writer still holding version 1 collides.
	_, err = s.Update(ctx, id, "agent-c", Patch{
		Content:         types.MustPayload("stale"),
		ExpectedVersion: &v1,
	})
	assert.True(t, types.IsErrorCode(err, types.ErrConflict))

	// The winning content is what readers observe.
	got, err := s.Read(ctx, id, "agent-a")
	require.NoError(t, err)
	var content string
	require.NoError(t, got.Content.Decode(&content))
	assert.Equal(t, "second", content)
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryStore_ConcurrentUpdatesExactlyOneWins(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, newItem("agent-a", "contested", AccessReadWrite))
	require.NoError(t, err)

	expected := int64(1)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = s.Update(ctx, id, "agent-b", Patch{
				Content:         types.MustPayload(n),
				ExpectedVersion: &expected,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	conflicted := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case types.IsErrorCode(err, types.ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	item := newItem("agent-a", "ephemeral", AccessPublic)
	item.ExpiresAt = &past

	id, err := s.Create(ctx, item)
	require.NoError(t, err)

	// Expired items behave as not found for every operation and every
	// agent, including the owner.
	_, err = s.Read(ctx, id, "agent-a")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
	_, err = s.Update(ctx, id, "agent-a", Patch{Content: types.MustPayload("late")})
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	// The expired holder does not block a fresh create for the same title.
	_, err = s.Create(ctx, newItem("agent-a", "ephemeral", AccessPublic))
	assert.NoError(t, err)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	expired := newItem("agent-a", "old", AccessPublic)
	expired.ExpiresAt = &past
	_, err := s.Create(ctx, expired)
	require.NoError(t, err)

	_, err = s.Create(ctx, newItem("agent-a", "fresh", AccessPublic))
	require.NoError(t, err)

	removed, err := s.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalItems)
	assert.Zero(t, stats.ExpiredItems)
}

func TestMemoryStore_Search(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	mk := func(title, typ string, tags ...string) {
		item := newItem("agent-a", title, AccessPublic)
		item.Type = typ
		item.Tags = tags
		_, err := s.Create(ctx, item)
		require.NoError(t, err)
	}

	mk("quarterly revenue analysis", "analysis", "finance", "q3")
	mk("revenue forecast", "forecast", "finance")
	mk("meeting notes", "notes", "ops")

	// Tag + text overlap ranks the double match first.
	got, err := s.Search(ctx, Query{Text: "revenue", Tags: []string{"finance"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "quarterly revenue analysis", got[0].Title)

	// Type filter.
	got, err = s.Search(ctx, Query{Types: []string{"notes"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "meeting notes", got[0].Title)

	// Limit applies after ranking; repeated queries are stable.
	first, err := s.Search(ctx, Query{Tags: []string{"finance"}, Limit: 1})
	require.NoError(t, err)
	second, err := s.Search(ctx, Query{Tags: []string{"finance"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestMemoryStore_SearchRespectsAccessLevels(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	private := newItem("agent-a", "credentials", AccessOwnerOnly)
	private.Content = types.MustPayload(map[string]string{"password": "hunter2"})
	private.Tags = []string{"secret"}
	_, err := s.Create(ctx, private)
	require.NoError(t, err)

	shared := newItem("agent-a", "shared notes", AccessReadOnly)
	shared.Tags = []string{"secret"}
	_, err = s.Create(ctx, shared)
	require.NoError(t, err)

	// Another agent's search sees only what Read would allow.
	got, err := s.Search(ctx, Query{RequestingAgent: "agent-b", Tags: []string{"secret"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "shared notes", got[0].Title)

	// The owner still finds the private item.
	got, err = s.Search(ctx, Query{RequestingAgent: "agent-a", Tags: []string{"secret"}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// An anonymous query sees only the broadly readable item.
	got, err = s.Search(ctx, Query{Tags: []string{"secret"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "shared notes", got[0].Title)
}

func TestMemoryStore_DeleteOwnerOnly(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, newItem("agent-a", "disposable", AccessReadWrite))
	require.NoError(t, err)

	err = s.Delete(ctx, id, "agent-b")
	assert.True(t, types.IsErrorCode(err, types.ErrAccessDenied))

	require.NoError(t, s.Delete(ctx, id, "agent-a"))
	_, err = s.Read(ctx, id, "agent-a")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}
