package framework

import "time"

// Clock abstracts the wall clock so timing logic can be driven by tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// BootClock measures time relative to process start, the way a
// microcontroller millisecond counter does.
type BootClock struct {
	Clock
	boot time.Time
}

// NewBootClock starts counting from now.
func NewBootClock(c Clock) *BootClock {
	if c == nil {
		c = RealClock{}
	}
	return &BootClock{Clock: c, boot: c.Now()}
}

// Uptime is the time elapsed since boot.
func (c *BootClock) Uptime() time.Duration {
	return c.Now().Sub(c.boot)
}

// Millis is the uptime in milliseconds truncated to 32 bits.
func (c *BootClock) Millis() uint32 {
	return uint32(c.Uptime() / time.Millisecond)
}
