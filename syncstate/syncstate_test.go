package syncstate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Lifecycle(t *testing.T) {
	var tr Tracker
	assert.Equal(t, Idle, tr.Phase())
	assert.False(t, tr.Loading())

	end := tr.Begin()
	assert.Equal(t, Pending, tr.Phase())
	assert.True(t, tr.Loading())

	end(nil)
	assert.Equal(t, Reconciled, tr.Phase())
	assert.NoError(t, tr.Err())

	boom := errors.New("boom")
	tr.Begin()(boom)
	assert.Equal(t, Failed, tr.Phase())
	assert.Equal(t, boom, tr.Err())

	tr.Reset()
	assert.Equal(t, Idle, tr.Phase())
	assert.NoError(t, tr.Err())
}

func TestTracker_OverlappingCalls(t *testing.T) {
	var tr Tracker
	first := tr.Begin()
	second := tr.Begin()

	first(errors.New("first failed"))
	assert.Equal(t, Pending, tr.Phase(), "still pending while the second call runs")

	second(nil)
	assert.Equal(t, Reconciled, tr.Phase())
}

func TestTracker_EndIsIdempotent(t *testing.T) {
	var tr Tracker
	end := tr.Begin()
	other := tr.Begin()
	end(nil)
	end(nil)
	assert.Equal(t, Pending, tr.Phase(), "a repeated end must not release another call")
	other(nil)
	assert.Equal(t, Reconciled, tr.Phase())
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "reconciled", Reconciled.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Phase(42).String())
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var km KeyedMutex
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), "a@x.com|p1")
			require.NoError(t, err)
			defer unlock()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Zero(t, km.Len(), "released keys are forgotten")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	var km KeyedMutex
	unlockA, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := km.Lock(ctx, "b")
	require.NoError(t, err, "a different key must not block")
	unlockB()
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	var km KeyedMutex
	unlock, err := km.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Zero(t, km.Len())
}

func TestListeners(t *testing.T) {
	var l Listeners[int]
	var got []int

	cancelFirst := l.Add(func(v int) { got = append(got, v) })
	l.Add(func(int) { panic("listener bug") })
	l.Add(func(v int) { got = append(got, v*10) })
	assert.Equal(t, 3, l.Len())

	l.Notify(1)
	assert.Equal(t, []int{1, 10}, got)

	cancelFirst()
	l.Notify(2)
	assert.Equal(t, []int{1, 10, 20}, got)
}
