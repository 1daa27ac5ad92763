package protocol

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/tablevox/ordervoice-core/core/protocol"

var (
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	malformedFrames metric.Int64Counter
	unknownFrames   metric.Int64Counter
)

func init() {
	malformedFrames, _ = meter.Int64Counter("protocol.malformed_frames",
		metric.WithDescription("Control-channel frames that failed to decode"))
	unknownFrames, _ = meter.Int64Counter("protocol.unknown_frames",
		metric.WithDescription("Control-channel frames with unrecognized type tags"))
}
