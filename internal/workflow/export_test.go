package workflow

import "time"

// SetHardLimitGrace shortens the abandonment grace period for tests.
func SetHardLimitGrace(d time.Duration) func() {
	prev := hardLimitGrace
	hardLimitGrace = d
	return func() { hardLimitGrace = prev }
}
