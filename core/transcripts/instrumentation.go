package transcripts

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/tablevox/ordervoice-core/core/transcripts"

var (
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	lateDeltasDropped metric.Int64Counter
)

func init() {
	lateDeltasDropped, _ = meter.Int64Counter("transcripts.late_deltas_dropped",
		metric.WithDescription("Transcript deltas that arrived after their item was finalized"))
}
