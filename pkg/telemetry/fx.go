package telemetry

import "go.uber.org/fx"

// Module provides Prometheus instruments on the default registry.
var Module = fx.Options(
	fx.Provide(func() *Metrics { return NewMetrics(nil) }),
)
