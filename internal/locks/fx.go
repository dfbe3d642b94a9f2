package locks

import (
	"go.uber.org/fx"
)

// Module provides the redis-backed locker. The redis client comes from the
// devicebus module; both share one connection.
var Module = fx.Module("locks",
	fx.Provide(NewLocker),
)
