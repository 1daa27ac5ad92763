package invocations

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/tablevox/ordervoice-core/core/invocations"

var (
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	parseFailures metric.Int64Counter
)

func init() {
	parseFailures, _ = meter.Int64Counter("invocations.parse_failures",
		metric.WithDescription("Function call argument accumulators that failed to parse at the terminal event"))
}
