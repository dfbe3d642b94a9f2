package devicebus

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the shared redis client and the redis-backed device bus.
var Module = fx.Module("devicebus",
	fx.Provide(NewRedisClient),
	fx.Provide(func(b *RedisBus) Bus { return b }),
	fx.Provide(NewRedisBus),
	fx.Invoke(registerHooks),
)

func registerHooks(lc fx.Lifecycle, bus Bus) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return bus.Close()
		},
	})
}
