package tracing

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("tracing",
	fx.Provide(NewTracerProvider),
	fx.Invoke(ensureTracerProvider),
)

// ensureTracerProvider forces construction so the global provider is set even
// when nothing else in the graph depends on it.
func ensureTracerProvider(_ *sdktrace.TracerProvider) {}
