package fan

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollerTicksWhileRunning(t *testing.T) {
	var ticks atomic.Int32
	p := NewPoller(func() { ticks.Add(1) }, WithInterval(10*time.Millisecond), WithTolerance(2*time.Millisecond))

	assert.False(t, p.IsRunning())
	p.Start()
	p.Start()
	assert.True(t, p.IsRunning())

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)

	p.Stop()
	assert.False(t, p.IsRunning())
	after := ticks.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
}

func TestPollerRestart(t *testing.T) {
	var ticks atomic.Int32
	p := NewPoller(func() { ticks.Add(1) }, WithInterval(5*time.Millisecond))

	p.Stop()
	p.Start()
	p.Stop()
	p.Start()
	assert.Eventually(t, func() bool { return ticks.Load() >= 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestPollerToleranceCappedAtInterval(t *testing.T) {
	p := NewPoller(func() {}, WithInterval(time.Second), WithTolerance(5*time.Second))
	assert.Equal(t, time.Second, p.tolerance)
}
