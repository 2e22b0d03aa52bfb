package custody

import "time"

// Clock supplies the current time in seconds since the Unix epoch. It is
// read once at the start of an escape operation and used consistently
// within that call, which keeps the state machine deterministic under a
// fake clock in tests.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 {
	return time.Now().Unix()
}
