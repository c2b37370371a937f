package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outdoorsea/crewAI-sub001/contextstore"
	"github.com/outdoorsea/crewAI-sub001/delegation"
	"github.com/outdoorsea/crewAI-sub001/registry"
	"github.com/outdoorsea/crewAI-sub001/task"
	"github.com/outdoorsea/crewAI-sub001/types"
)

type fixture struct {
	registry *registry.Registry
	tasks    *task.Store
	engine   *delegation.Engine
	manager  *Manager
}

func newFixture(t *testing.T, config Config, opts ...ManagerOption) *fixture {
	t.Helper()

	reg := registry.New(registry.DefaultConfig(), nil)
	tasks := task.NewStore()
	contexts := contextstore.NewMemoryStore(nil)
	t.Cleanup(func() { contexts.Close() })

	engine := delegation.NewEngine(reg, tasks, contexts, nil)
	return &fixture{
		registry: reg,
		tasks:    tasks,
		engine:   engine,
		manager:  NewManager(config, engine, tasks, reg, nil, opts...),
	}
}

func (f *fixture) addAgent(t *testing.T, id string, caps ...string) {
	t.Helper()
	require.NoError(t, f.registry.Register(&registry.AgentProfile{ID: id, Capabilities: caps}))
}

// acceptPending accepts the single open delegation for the task.
func (f *fixture) acceptPending(t *testing.T, taskID string) string {
	t.Helper()
	history := f.engine.ListByTask(taskID)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	require.Equal(t, delegation.StatusPending, last.Status)
	_, err := f.engine.Respond(context.Background(), last.ID, last.ToAgent, true, "", 0)
	require.NoError(t, err)
	return last.ToAgent
}

func (f *fixture) rejectPending(t *testing.T, taskID string) string {
	t.Helper()
	history := f.engine.ListByTask(taskID)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	require.Equal(t, delegation.StatusPending, last.Status)
	_, err := f.engine.Respond(context.Background(), last.ID, last.ToAgent, false, "declined", 0)
	require.NoError(t, err)
	return last.ToAgent
}

func TestManager_CreateSessionValidation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "quarterly report", "compile the numbers", []string{"analysis"}, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, 5, s.Priority)

	_, err = f.manager.CreateSession(ctx, "", "", nil, 5)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = f.manager.CreateSession(ctx, "x", "", nil, 11)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestManager_AddTaskValidation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.manager.AddTask(ctx, "missing", "work", nil, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	s, err := f.manager.CreateSession(ctx, "s", "", nil, 5)
	require.NoError(t, err)

	_, err = f.manager.AddTask(ctx, s.ID, "work", nil, []string{"ghost"})
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	first, err := f.manager.AddTask(ctx, s.ID, "first", nil, nil)
	require.NoError(t, err)

	second, err := f.manager.AddTask(ctx, s.ID, "second", nil, []string{first.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, second.Dependencies)
}

func TestManager_CycleDetectionLeavesGraphUnchanged(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "s", "", nil, 5)
	require.NoError(t, err)

	a, err := f.manager.AddTask(ctx, s.ID, "a", nil, nil)
	require.NoError(t, err)
	b, err := f.manager.AddTask(ctx, s.ID, "b", nil, []string{a.ID})
	require.NoError(t, err)

	// a -> b would close the loop b -> a -> b.
	err = f.manager.AddDependency(ctx, s.ID, a.ID, b.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrCycleDetected))

	// Self-dependency is the smallest cycle.
	err = f.manager.AddDependency(ctx, s.ID, a.ID, a.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrCycleDetected))

	// The rejected edges left nothing behind.
	got, err := f.tasks.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Dependencies)

	// Legal edges still work afterwards.
	c, err := f.manager.AddTask(ctx, s.ID, "c", nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.manager.AddDependency(ctx, s.ID, c.ID, b.ID))
}

func TestManager_SessionCompletesThroughDependencyChain(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "agent-a", "analysis")
	f.addAgent(t, "agent-b", "writing")
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "report", "", []string{"analysis", "writing"}, 7)
	require.NoError(t, err)

	analyze, err := f.manager.AddTask(ctx, s.ID, "analyze data", []string{"analysis"}, nil)
	require.NoError(t, err)
	write, err := f.manager.AddTask(ctx, s.ID, "write summary", []string{"writing"}, []string{analyze.ID})
	require.NoError(t, err)

	// Only the dependency-free task is delegated.
	f.manager.Advance(ctx)
	assert.Len(t, f.engine.ListByTask(analyze.ID), 1)
	assert.Empty(t, f.engine.ListByTask(write.ID))

	assignee := f.acceptPending(t, analyze.ID)
	assert.Equal(t, "agent-a", assignee)

	_, err = f.manager.UpdateTaskStatus(ctx, analyze.ID, task.StatusCompleted, types.MustPayload("insights"), "")
	require.NoError(t, err)

	// Completion unblocked the dependent task.
	require.Len(t, f.engine.ListByTask(write.ID), 1)
	f.acceptPending(t, write.ID)

	status, err := f.manager.Status(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, status.Session.Status)
	assert.InDelta(t, 0.5, status.Progress, 1e-9)
	assert.Equal(t, []string{"agent-a", "agent-b"}, status.Session.Participants)

	_, err = f.manager.UpdateTaskStatus(ctx, write.ID, task.StatusCompleted, types.MustPayload("report"), "")
	require.NoError(t, err)

	status, err = f.manager.Status(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Session.Status)
	assert.InDelta(t, 1.0, status.Progress, 1e-9)

	// All workload released.
	for _, id := range []string{"agent-a", "agent-b"} {
		profile, err := f.registry.Get(id)
		require.NoError(t, err)
		assert.Zero(t, profile.CurrentWorkload, "agent %s", id)
	}
}

func TestManager_SessionFailsWithoutCandidates(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "impossible", "", nil, 5)
	require.NoError(t, err)
	tk, err := f.manager.AddTask(ctx, s.ID, "needs a unicorn", []string{"unicorn"}, nil)
	require.NoError(t, err)

	f.manager.Advance(ctx)

	got, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "no candidate agent", got.FailureReason)

	session, err := f.manager.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, session.Status)
}

func TestManager_DelegationAttemptsAreBounded(t *testing.T) {
	f := newFixture(t, Config{MaxDelegationAttempts: 2})
	f.addAgent(t, "agent-a", "analysis")
	f.addAgent(t, "agent-b", "analysis")
	f.addAgent(t, "agent-c", "analysis")
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "unwanted work", "", nil, 5)
	require.NoError(t, err)
	tk, err := f.manager.AddTask(ctx, s.ID, "nobody wants this", []string{"analysis"}, nil)
	require.NoError(t, err)

	f.manager.Advance(ctx)
	first := f.rejectPending(t, tk.ID)

	f.manager.Advance(ctx)
	second := f.rejectPending(t, tk.ID)
	assert.NotEqual(t, first, second)

	// Two attempts used up; the third pass fails the task instead of
	// asking agent-c.
	f.manager.Advance(ctx)

	got, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "delegation attempts exhausted", got.FailureReason)

	session, err := f.manager.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, session.Status)
}

func TestManager_CancelFailsOpenTasksAndReleasesWorkload(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "agent-a", "analysis")
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "to be cancelled", "", nil, 5)
	require.NoError(t, err)
	done, err := f.manager.AddTask(ctx, s.ID, "already done", []string{"analysis"}, nil)
	require.NoError(t, err)
	open, err := f.manager.AddTask(ctx, s.ID, "in flight", []string{"analysis"}, nil)
	require.NoError(t, err)

	f.manager.Advance(ctx)
	f.acceptPending(t, done.ID)
	_, err = f.manager.UpdateTaskStatus(ctx, done.ID, task.StatusCompleted, types.MustPayload("kept"), "")
	require.NoError(t, err)
	f.acceptPending(t, open.ID)

	require.NoError(t, f.manager.Cancel(ctx, s.ID))

	session, err := f.manager.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, session.Status)

	// The in-flight task failed with reason cancelled and its workload
	// was released.
	got, err := f.tasks.Get(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "cancelled", got.FailureReason)

	profile, err := f.registry.Get("agent-a")
	require.NoError(t, err)
	assert.Zero(t, profile.CurrentWorkload)

	// Completed results survive cancellation.
	kept, err := f.tasks.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, kept.Status)
	var result string
	require.NoError(t, kept.Result.Decode(&result))
	assert.Equal(t, "kept", result)

	err = f.manager.Cancel(ctx, s.ID)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))
}

func TestManager_CancelWithdrawsOpenDelegations(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "agent-a", "analysis")
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "abandoned", "", nil, 5)
	require.NoError(t, err)
	tk, err := f.manager.AddTask(ctx, s.ID, "never answered", []string{"analysis"}, nil)
	require.NoError(t, err)

	// The scheduling pass opens a handshake that nobody answers.
	f.manager.Advance(ctx)
	history := f.engine.ListByTask(tk.ID)
	require.Len(t, history, 1)
	require.Equal(t, delegation.StatusPending, history[0].Status)

	require.NoError(t, f.manager.Cancel(ctx, s.ID))

	// The open request terminalized with the session instead of
	// dangling forever.
	history = f.engine.ListByTask(tk.ID)
	require.Len(t, history, 1)
	assert.Equal(t, delegation.StatusTimedOut, history[0].Status)

	got, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "cancelled", got.FailureReason)

	// A late answer from the target is stale.
	_, err = f.engine.Respond(ctx, history[0].ID, history[0].ToAgent, true, "", 0)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))
}

func TestManager_UpdateTaskStatusValidation(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "agent-a", "analysis")
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "s", "", nil, 5)
	require.NoError(t, err)
	tk, err := f.manager.AddTask(ctx, s.ID, "work", []string{"analysis"}, nil)
	require.NoError(t, err)

	_, err = f.manager.UpdateTaskStatus(ctx, tk.ID, task.StatusPending, nil, "")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = f.manager.UpdateTaskStatus(ctx, "missing", task.StatusCompleted, nil, "")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	f.manager.Advance(ctx)
	f.acceptPending(t, tk.ID)
	_, err = f.manager.UpdateTaskStatus(ctx, tk.ID, task.StatusCompleted, nil, "")
	require.NoError(t, err)

	// Terminal tasks reject late amendments.
	_, err = f.manager.UpdateTaskStatus(ctx, tk.ID, task.StatusFailed, nil, "changed my mind")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))
}

func TestManager_OutcomeFeedsRegistryAverages(t *testing.T) {
	f := newFixture(t, Config{})
	f.addAgent(t, "agent-a", "analysis")
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "s", "", nil, 5)
	require.NoError(t, err)
	tk, err := f.manager.AddTask(ctx, s.ID, "doomed", []string{"analysis"}, nil)
	require.NoError(t, err)

	f.manager.Advance(ctx)
	f.acceptPending(t, tk.ID)
	_, err = f.manager.UpdateTaskStatus(ctx, tk.ID, task.StatusFailed, nil, "blew up")
	require.NoError(t, err)

	profile, err := f.registry.Get("agent-a")
	require.NoError(t, err)
	// The first recorded outcome seeds the average directly.
	assert.Zero(t, profile.SuccessRate)
}

type recordingBackend struct {
	mu    sync.Mutex
	calls []string
}

func (b *recordingBackend) Execute(_ context.Context, tk *task.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, tk.ID)
}

func (b *recordingBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func TestManager_DispatchesEachTaskOnce(t *testing.T) {
	backend := &recordingBackend{}
	f := newFixture(t, Config{}, WithExecutionBackend(backend))
	f.addAgent(t, "agent-a", "analysis")
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "s", "", nil, 5)
	require.NoError(t, err)
	tk, err := f.manager.AddTask(ctx, s.ID, "work", []string{"analysis"}, nil)
	require.NoError(t, err)

	f.manager.Advance(ctx)
	f.acceptPending(t, tk.ID)

	f.manager.Advance(ctx)
	require.Eventually(t, func() bool { return backend.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// Repeated passes do not re-dispatch.
	f.manager.Advance(ctx)
	f.manager.Advance(ctx)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, backend.callCount())
}

func TestManager_TransitionObserver(t *testing.T) {
	var mu sync.Mutex
	var transitions []Status

	f := newFixture(t, Config{}, WithTransitionObserver(func(_ string, _, to Status) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, to)
	}))
	f.addAgent(t, "agent-a", "analysis")
	ctx := context.Background()

	s, err := f.manager.CreateSession(ctx, "s", "", nil, 5)
	require.NoError(t, err)
	tk, err := f.manager.AddTask(ctx, s.ID, "work", []string{"analysis"}, nil)
	require.NoError(t, err)

	f.manager.Advance(ctx)
	f.acceptPending(t, tk.ID)
	_, err = f.manager.UpdateTaskStatus(ctx, tk.ID, task.StatusCompleted, nil, "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusCompleted}, transitions)
}
