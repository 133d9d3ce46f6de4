package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	c := NewFakeClock(epoch)
	var fired []string

	c.AfterFunc(300*time.Millisecond, func() { fired = append(fired, "late") })
	c.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "early") })
	c.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "early-2") })

	c.Advance(200 * time.Millisecond)
	assert.Equal(t, []string{"early", "early-2"}, fired)
	assert.Equal(t, epoch.Add(200*time.Millisecond), c.Now())
	assert.Equal(t, 1, c.Pending())

	c.Advance(100 * time.Millisecond)
	assert.Equal(t, []string{"early", "early-2", "late"}, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClockStop(t *testing.T) {
	c := NewFakeClock(epoch)
	fired := false

	stop := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, stop())
	assert.False(t, stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFakeClockStopAfterFire(t *testing.T) {
	c := NewFakeClock(epoch)
	stop := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	assert.False(t, stop())
}

func TestFakeClockNestedTimers(t *testing.T) {
	c := NewFakeClock(epoch)
	var at []time.Duration

	c.AfterFunc(time.Second, func() {
		at = append(at, c.Now().Sub(epoch))
		c.AfterFunc(time.Second, func() {
			at = append(at, c.Now().Sub(epoch))
		})
	})

	c.Advance(5 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, at)
}
