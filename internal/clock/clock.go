package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time for components with time-dependent transitions
// (order expiry, dispense timeouts) so tests can control it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystem returns the wall clock, normalized to UTC.
func NewSystem() Clock { return systemClock{} }

// Module provides the system clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
