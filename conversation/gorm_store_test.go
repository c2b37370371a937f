package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/outdoorsea/crewAI-sub001/types"
)

func setupGormStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store, err := NewGormStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGormStore_ConversationRoundTrip(t *testing.T) {
	store := setupGormStore(t)
	ctx := context.Background()

	conv := &Conversation{
		ID:             "conv-1",
		Participants:   []string{"agent-a", "agent-b"},
		Topic:          "retro",
		InitialContext: types.MustPayload(map[string]string{"sprint": "42"}),
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateConversation(ctx, conv))

	got, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, conv.Participants, got.Participants)
	assert.Equal(t, "retro", got.Topic)

	var initial map[string]string
	require.NoError(t, got.InitialContext.Decode(&initial))
	assert.Equal(t, "42", initial["sprint"])
}

func TestGormStore_CreateConflict(t *testing.T) {
	store := setupGormStore(t)
	ctx := context.Background()

	conv := &Conversation{ID: "conv-1", Participants: []string{"agent-a"}}
	require.NoError(t, store.CreateConversation(ctx, conv))

	err := store.CreateConversation(ctx, conv)
	assert.True(t, types.IsErrorCode(err, types.ErrConflict))
}

func TestGormStore_GetNotFound(t *testing.T) {
	store := setupGormStore(t)

	_, err := store.GetConversation(context.Background(), "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestGormStore_AddParticipant(t *testing.T) {
	store := setupGormStore(t)
	ctx := context.Background()

	conv := &Conversation{ID: "conv-1", Participants: []string{"agent-a"}}
	require.NoError(t, store.CreateConversation(ctx, conv))

	require.NoError(t, store.AddParticipant(ctx, "conv-1", "agent-b"))
	require.NoError(t, store.AddParticipant(ctx, "conv-1", "agent-b"))

	got, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a", "agent-b"}, got.Participants)

	err = store.AddParticipant(ctx, "missing", "agent-b")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestGormStore_AppendAndHistory(t *testing.T) {
	store := setupGormStore(t)
	ctx := context.Background()

	conv := &Conversation{ID: "conv-1", Participants: []string{"agent-a"}}
	require.NoError(t, store.CreateConversation(ctx, conv))

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, content := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendMessage(ctx, &Message{
			ID:             content,
			ConversationID: "conv-1",
			AgentID:        "agent-a",
			Content:        content,
			Type:           MessageTypeMessage,
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	full, err := store.History(ctx, "conv-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, full, 3)
	assert.Equal(t, "first", full[0].Content)
	assert.Equal(t, "third", full[2].Content)

	tail, err := store.History(ctx, "conv-1", base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "second", tail[0].Content)

	err = store.AppendMessage(ctx, &Message{ID: "x", ConversationID: "missing"})
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	_, err = store.History(ctx, "missing", time.Time{})
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestGormStore_TrackerIntegration(t *testing.T) {
	store := setupGormStore(t)
	tr := NewTracker(store, nil)
	ctx := context.Background()

	_, err := tr.Start(ctx, "conv-1", []string{"agent-a"}, "persistence check", nil)
	require.NoError(t, err)

	_, err = tr.Append(ctx, "conv-1", "agent-a", "hello", MessageTypeMessage)
	require.NoError(t, err)

	_, err = tr.Append(ctx, "conv-1", "agent-b", "uninvited", MessageTypeMessage)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	history, err := tr.History(ctx, "conv-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Content)
}

func TestGormStore_Stats(t *testing.T) {
	store := setupGormStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, &Conversation{
		ID:           "conv-1",
		Participants: []string{"agent-a"},
	}))
	require.NoError(t, store.AppendMessage(ctx, &Message{
		ID:             "m1",
		ConversationID: "conv-1",
		AgentID:        "agent-a",
		Content:        "note",
		Type:           MessageTypeMessage,
		Timestamp:      time.Now().UTC(),
	}))
	require.NoError(t, store.AppendMessage(ctx, &Message{
		ID:             "m2",
		ConversationID: "conv-1",
		AgentID:        "agent-a",
		Content:        "finding",
		Type:           MessageTypeInsight,
		Timestamp:      time.Now().UTC(),
	}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalConversations)
	assert.EqualValues(t, 2, stats.TotalMessages)
	assert.EqualValues(t, 1, stats.ByType[MessageTypeInsight])
}
