// Package clock defines the time source used by components that track
// resource age, so tests can substitute a controllable clock.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
