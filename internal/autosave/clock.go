package autosave

import "time"

// Clock abstracts timers so tests can drive the debounce deterministically.
// AfterFunc returns a stop function with time.Timer.Stop semantics.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// SystemClock uses the time package.
var SystemClock Clock = systemClock{}
