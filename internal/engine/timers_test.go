package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTimerRegistry_Fires(t *testing.T) {
	tr := NewTimerRegistry(zap.NewNop())
	defer tr.Stop()

	var fired atomic.Int32
	tr.Arm(1, PurposeCompletionCheck, 10*time.Millisecond, func() { fired.Add(1) })

	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.False(t, tr.Active(1, PurposeCompletionCheck), "fired timer leaves the registry")
}

func TestTimerRegistry_CancelPreventsFire(t *testing.T) {
	tr := NewTimerRegistry(zap.NewNop())
	defer tr.Stop()

	var fired atomic.Int32
	tr.Arm(1, PurposeBroadcastChoice, 50*time.Millisecond, func() { fired.Add(1) })

	assert.True(t, tr.Cancel(1, PurposeBroadcastChoice))
	assert.False(t, tr.Cancel(1, PurposeBroadcastChoice), "second cancel finds nothing")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestTimerRegistry_RearmReplaces(t *testing.T) {
	tr := NewTimerRegistry(zap.NewNop())
	defer tr.Stop()

	var first, second atomic.Int32
	tr.Arm(1, PurposeCompletionCheck, 30*time.Millisecond, func() { first.Add(1) })
	tr.Arm(1, PurposeCompletionCheck, 30*time.Millisecond, func() { second.Add(1) })

	assert.Eventually(t, func() bool { return second.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "replaced timer must not fire")
}

func TestTimerRegistry_PurposesIndependent(t *testing.T) {
	tr := NewTimerRegistry(zap.NewNop())
	defer tr.Stop()

	tr.Arm(1, PurposeCompletionCheck, time.Hour, func() {})
	tr.Arm(1, PurposeBroadcastChoice, time.Hour, func() {})

	assert.True(t, tr.Active(1, PurposeCompletionCheck))
	assert.True(t, tr.Active(1, PurposeBroadcastChoice))

	tr.Cancel(1, PurposeCompletionCheck)
	assert.False(t, tr.Active(1, PurposeCompletionCheck))
	assert.True(t, tr.Active(1, PurposeBroadcastChoice))
}

func TestTimerRegistry_StopCancelsAll(t *testing.T) {
	tr := NewTimerRegistry(zap.NewNop())

	tr.Arm(1, PurposeCompletionCheck, time.Hour, func() {})
	tr.Arm(2, PurposeBroadcastChoice, time.Hour, func() {})

	tr.Stop()
	assert.False(t, tr.Active(1, PurposeCompletionCheck))
	assert.False(t, tr.Active(2, PurposeBroadcastChoice))
}
