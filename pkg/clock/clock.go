package clock

import (
	bclock "github.com/benbjohnson/clock"
)

// Clock is the time source used by components that arm timers.
// Tests replace it with a Mock to drive timers by hand.
type Clock = bclock.Clock

// Timer is returned by Clock.AfterFunc and Clock.Timer.
type Timer = bclock.Timer

// Mock is a Clock whose time only moves when told to.
type Mock = bclock.Mock

// New returns a Clock backed by the system time.
func New() Clock {
	return bclock.New()
}

// NewMock returns a Mock set to the unix epoch.
func NewMock() *Mock {
	return bclock.NewMock()
}

