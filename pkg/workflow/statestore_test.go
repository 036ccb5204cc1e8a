package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapassist/pkg/knowledge"
)

func newTestStateStore(t *testing.T) *SQLiteStateStore {
	t.Helper()
	require.NoError(t, knowledge.Reset())
	require.NoError(t, knowledge.Initialize(filepath.Join(t.TempDir(), "k.db"), "test"))
	t.Cleanup(func() { _ = knowledge.Reset() })

	store, err := NewSQLiteStateStore(knowledge.GetDB())
	require.NoError(t, err)
	return store
}

func TestStateStoreRoundTrip(t *testing.T) {
	store := newTestStateStore(t)

	require.NoError(t, store.Save("run-1", map[string]any{"current_state": "EXECUTE"}))
	require.NoError(t, store.Save("run-1", map[string]any{"current_state": "DONE"}))

	var state map[string]any
	require.NoError(t, store.Load("run-1", &state))
	assert.Equal(t, "DONE", state["current_state"])
}

func TestStateStoreMissingRun(t *testing.T) {
	store := newTestStateStore(t)

	var state map[string]any
	err := store.Load("run-unknown", &state)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestMachineRestoresPersistedState(t *testing.T) {
	store := newTestStateStore(t)
	ctx := context.Background()

	first := NewBaseStateMachine("run-restore", StateIntent, store, ValidTransitions)
	SetTyped(first, keyQuestion, "open orders")
	require.NoError(t, first.TransitionTo(ctx, StateUnderstand, map[string]any{"note": "kept"}))
	require.NoError(t, first.TransitionTo(ctx, StateOrchestrate, nil))

	second := NewBaseStateMachine("run-restore", StateIntent, store, ValidTransitions)
	require.NoError(t, second.Initialize(ctx))
	assert.Equal(t, StateOrchestrate, second.GetCurrentState())

	question, ok := GetTyped[string](second, keyQuestion)
	require.True(t, ok)
	assert.Equal(t, "open orders", question)

	transitions := second.GetTransitions()
	require.Len(t, transitions, 2)
	assert.Equal(t, StateIntent, transitions[0].FromState)
	assert.Equal(t, StateUnderstand, transitions[0].ToState)
}
