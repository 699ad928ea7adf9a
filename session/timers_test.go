package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerTableFires(t *testing.T) {
	table := newTimerTable()
	var fired atomic.Int32
	table.arm("k", 10*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, time.Millisecond)
}

func TestTimerTableRearmReplaces(t *testing.T) {
	table := newTimerTable()
	var first, second atomic.Int32
	table.arm("k", 20*time.Millisecond, func() { first.Add(1) })
	table.arm("k", 20*time.Millisecond, func() { second.Add(1) })

	require.Eventually(t, func() bool {
		return second.Load() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestTimerTableCancel(t *testing.T) {
	table := newTimerTable()
	var fired atomic.Int32
	table.arm("k", 20*time.Millisecond, func() { fired.Add(1) })
	table.cancel("k")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestTimerTableCancelAll(t *testing.T) {
	table := newTimerTable()
	var fired atomic.Int32
	table.arm("a", 20*time.Millisecond, func() { fired.Add(1) })
	table.arm("b", 20*time.Millisecond, func() { fired.Add(1) })
	table.cancelAll()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestTimerTableIndependentKeys(t *testing.T) {
	table := newTimerTable()
	var a, b atomic.Int32
	table.arm("a", 10*time.Millisecond, func() { a.Add(1) })
	table.arm("b", 10*time.Millisecond, func() { b.Add(1) })

	require.Eventually(t, func() bool {
		return a.Load() == 1 && b.Load() == 1
	}, time.Second, time.Millisecond)
}
