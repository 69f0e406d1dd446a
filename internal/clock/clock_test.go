package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := NewFake(epoch)
	var firedAt time.Time
	c.AfterFunc(2*time.Second, func() { firedAt = c.Now() })

	c.Advance(time.Second)
	assert.True(t, firedAt.IsZero())
	assert.Equal(t, 1, c.Pending())

	c.Advance(time.Second)
	assert.Equal(t, epoch.Add(2*time.Second), firedAt)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeTimerStopAndReset(t *testing.T) {
	c := NewFake(epoch)
	calls := 0
	timer := c.AfterFunc(time.Second, func() { calls++ })

	require.True(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.Equal(t, 0, calls)

	assert.False(t, timer.Reset(time.Second))
	c.Advance(time.Second)
	assert.Equal(t, 1, calls)

	// Resetting a pending timer pushes the deadline out.
	timer.Reset(time.Second)
	c.Advance(500 * time.Millisecond)
	assert.True(t, timer.Reset(time.Second))
	c.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, calls)
	c.Advance(500 * time.Millisecond)
	assert.Equal(t, 2, calls)
}

func TestFakeResetInsideCallback(t *testing.T) {
	c := NewFake(epoch)
	calls := 0
	var timer *Timer
	timer = c.AfterFunc(time.Second, func() {
		calls++
		if calls < 3 {
			timer.Reset(time.Second)
		}
	})
	c.Advance(10 * time.Second)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeAfterDeliversInOrder(t *testing.T) {
	c := NewFake(epoch)
	late := c.After(3 * time.Second)
	early := c.After(time.Second)
	c.Advance(5 * time.Second)

	assert.Equal(t, epoch.Add(time.Second), <-early)
	assert.Equal(t, epoch.Add(3*time.Second), <-late)
	assert.Equal(t, epoch.Add(5*time.Second), c.Now())
}

func TestFakeWaitForTimers(t *testing.T) {
	c := NewFake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Minute)
		close(done)
	}()
	c.WaitForTimers(1)
	c.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never released")
	}
}
