package core

import "time"

// Clock abstracts the wall clock so expiry can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
