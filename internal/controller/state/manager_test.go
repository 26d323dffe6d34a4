package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_StateLifecycle(t *testing.T) {
	sm := NewManager()

	assert.Equal(t, StateNone, sm.GetState(100))

	sm.SetState(100, StateAwaitingComment)
	assert.Equal(t, StateAwaitingComment, sm.GetState(100))
	assert.Equal(t, StateNone, sm.GetState(200), "states are per user")

	sm.ClearState(100)
	assert.Equal(t, StateNone, sm.GetState(100))
}

func TestManager_SetStateNoneClears(t *testing.T) {
	sm := NewManager()

	sm.SetState(100, StateAwaitingComment)
	sm.SetData(100, DataEvaluationID, int64(5))

	sm.SetState(100, StateNone)
	_, ok := sm.GetData(100, DataEvaluationID)
	assert.False(t, ok, "StateNone drops the record with its data")
}

func TestManager_Data(t *testing.T) {
	sm := NewManager()

	_, ok := sm.GetData(100, DataEvaluationID)
	assert.False(t, ok)

	sm.SetData(100, DataEvaluationID, int64(7))
	v, ok := sm.GetData(100, DataEvaluationID)
	require.True(t, ok)
	assert.Equal(t, int64(7), v)
}

func TestAdapter_AwaitingComment(t *testing.T) {
	sm := NewManager()
	a := NewAdapter(sm)

	a.SetAwaiting(100, "comment", 9)
	assert.Equal(t, StateAwaitingComment, sm.GetState(100))
	v, ok := sm.GetData(100, DataEvaluationID)
	require.True(t, ok)
	assert.Equal(t, int64(9), v)

	a.Clear(100)
	assert.Equal(t, StateNone, sm.GetState(100))
}

func TestAdapter_UnknownStepIgnored(t *testing.T) {
	sm := NewManager()
	a := NewAdapter(sm)

	a.SetAwaiting(100, "no_such_step", 9)
	assert.Equal(t, StateNone, sm.GetState(100), "unknown step must not trap the user")
}
