package timeref

import (
	"math"
	"time"

	"k8s.io/utils/clock"
)

// TimeBase is the number of timestamp ticks per second shared by all streams.
const TimeBase = 1_000_000

// Reference is the common origin every captured sample is stamped against.
// It is a small value and is copied into each actor that needs it.
type Reference struct {
	origin time.Time
	clk    clock.PassiveClock
}

// New captures the current instant of clk as the origin.
func New(clk clock.PassiveClock) Reference {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return Reference{origin: clk.Now(), clk: clk}
}

// Now returns whole microseconds elapsed since the origin. The result is
// masked to the non-negative int64 range.
func (r Reference) Now() int64 {
	return r.clk.Since(r.origin).Microseconds() & math.MaxInt64
}

// Origin returns the instant the reference was created.
func (r Reference) Origin() time.Time {
	return r.origin
}
