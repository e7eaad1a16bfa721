package watchdog

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type expiry struct {
	pid   int
	alive bool
}

type collector struct {
	mu   sync.Mutex
	seen []expiry
}

func (c *collector) record(pid int, alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, expiry{pid, alive})
}

func (c *collector) all() []expiry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]expiry(nil), c.seen...)
}

func TestWatchdogFiresAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := &collector{}
	w := New(5*time.Second, LivenessFunc(func(pid int) bool { return pid == 42 }), clock, c.record)

	w.Arm(42)
	assert.True(t, w.Pending())

	clock.Advance(4 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.all())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(c.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, expiry{42, true}, c.all()[0])
	assert.False(t, w.Pending())
}

func TestWatchdogRearmReplaces(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := &collector{}
	w := New(5*time.Second, LivenessFunc(func(int) bool { return false }), clock, c.record)

	w.Arm(1)
	clock.Advance(3 * time.Second)
	w.Arm(2)
	clock.Advance(3 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.all(), "first timer must not fire after re-arm")

	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return len(c.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, expiry{2, false}, c.all()[0])
}

func TestWatchdogStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := &collector{}
	w := New(time.Second, LivenessFunc(func(int) bool { return true }), clock, c.record)

	w.Arm(7)
	w.Stop()
	clock.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.all())
	assert.False(t, w.Pending())
}

func TestSystemLiveness(t *testing.T) {
	assert.True(t, SystemLiveness{}.Alive(os.Getpid()))
	assert.False(t, SystemLiveness{}.Alive(0))
	assert.False(t, SystemLiveness{}.Alive(-1))
}
