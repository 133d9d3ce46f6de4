package autosave

import (
	"testing"
	"time"

	"formsave/internal/testutil"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func TestDebouncerCoalescesBursts(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	fired := 0
	d := NewDebouncer(clock, 1500*time.Millisecond, func() { fired++ })

	for i := 0; i < 5; i++ {
		d.Trigger()
		clock.Advance(200 * time.Millisecond)
	}
	assert.Equal(t, 0, fired)
	assert.True(t, d.Pending())

	clock.Advance(1300 * time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.False(t, d.Pending())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, fired)
}

func TestDebouncerCancel(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	fired := 0
	d := NewDebouncer(clock, time.Second, func() { fired++ })

	d.Trigger()
	d.Cancel()
	clock.Advance(2 * time.Second)

	assert.Equal(t, 0, fired)
	assert.False(t, d.Pending())
	assert.Equal(t, 0, clock.Pending())
}

func TestDebouncerIgnoresStaleFire(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	fired := 0
	d := NewDebouncer(clock, time.Second, func() { fired++ })

	d.Trigger()
	stale := d.gen
	d.Trigger()

	d.fire(stale)
	assert.Equal(t, 0, fired)

	clock.Advance(time.Second)
	assert.Equal(t, 1, fired)
}

func TestDebouncerWithSystemClock(t *testing.T) {
	done := make(chan struct{})
	d := NewDebouncer(SystemClock, 10*time.Millisecond, func() { close(done) })
	d.Trigger()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced function did not run")
	}
}
