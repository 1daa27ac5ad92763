package orders

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/tablevox/ordervoice-core/core/orders"

var (
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	unresolvedReferences metric.Int64Counter
)

func init() {
	unresolvedReferences, _ = meter.Int64Counter("orders.unresolved_references",
		metric.WithDescription("Spoken item references that cleared no vocabulary match above the confidence threshold"))
}
