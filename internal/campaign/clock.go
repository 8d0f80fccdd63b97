package campaign

import "time"

// Timer is a cancellable delayed callback
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback has already fired or been stopped.
	Stop() bool
}

// Clock abstracts wall-clock time so delays can be driven manually in tests
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
