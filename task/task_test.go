package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outdoorsea/crewAI-sub001/types"
)

func TestStore_CreateDefaults(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	created, err := s.Create(ctx, &Task{
		Description: "summarize findings",
		// Status and assignment supplied by the caller are ignored.
		Status:        StatusCompleted,
		AssignedAgent: "agent-a",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StatusPending, created.Status)
	assert.Empty(t, created.AssignedAgent)

	_, err = s.Create(ctx, &Task{Description: ""})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = s.Create(ctx, &Task{ID: created.ID, Description: "dup"})
	assert.True(t, types.IsErrorCode(err, types.ErrConflict))
}

func TestStore_UpdateSerializesAndCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	created, err := s.Create(ctx, &Task{Description: "analyze"})
	require.NoError(t, err)

	updated, err := s.Update(ctx, created.ID, func(tk *Task) error {
		tk.Status = StatusInProgress
		tk.AssignedAgent = "agent-a"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)

	// Mutating the returned copy does not leak into the store.
	updated.Description = "tampered"
	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "analyze", got.Description)
}

func TestStore_UpdateErrorDiscardsMutation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	created, err := s.Create(ctx, &Task{Description: "analyze"})
	require.NoError(t, err)

	_, err = s.Update(ctx, created.ID, func(tk *Task) error {
		tk.Status = StatusFailed
		return types.NewError(types.ErrInvalidRequest, "rejected mid-flight")
	})
	require.Error(t, err)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestStore_TerminalTasksAreImmutable(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	created, err := s.Create(ctx, &Task{Description: "one shot"})
	require.NoError(t, err)

	_, err = s.Update(ctx, created.ID, func(tk *Task) error {
		tk.Status = StatusCompleted
		tk.Result = types.MustPayload("done")
		return nil
	})
	require.NoError(t, err)

	// Late result amendments are disallowed; corrections need a new task.
	_, err = s.Update(ctx, created.ID, func(tk *Task) error {
		tk.Result = types.MustPayload("amended")
		return nil
	})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))
}

func TestStore_ListBySession(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Create(ctx, &Task{ID: "t-2", SessionID: "s-1", Description: "b"})
	require.NoError(t, err)
	_, err = s.Create(ctx, &Task{ID: "t-1", SessionID: "s-1", Description: "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, &Task{ID: "t-3", SessionID: "s-2", Description: "c"})
	require.NoError(t, err)

	got := s.ListBySession(ctx, "s-1")
	require.Len(t, got, 2)
	assert.Equal(t, "t-1", got[0].ID)
	assert.Equal(t, "t-2", got[1].ID)
}
