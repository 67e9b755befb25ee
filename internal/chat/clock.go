package chat

import "time"

// Timer is a pending callback
type Timer interface {
	Stop() bool
}

// Clock abstracts time so timer driven behaviour can be tested
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

// RealClock returns the wall clock
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
