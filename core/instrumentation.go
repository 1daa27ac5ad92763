package session

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/tablevox/ordervoice-core/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	invalidTransitions metric.Int64Counter
	// readinessByTimeout counts readiness confirmed by the timeout path
	// instead of the remote lifecycle event. A high rate here means the
	// remote is not emitting session.created and needs investigation.
	readinessByTimeout metric.Int64Counter
)

func init() {
	invalidTransitions, _ = meter.Int64Counter("session.invalid_transitions",
		metric.WithDescription("Events rejected by the session transition table"))
	readinessByTimeout, _ = meter.Int64Counter("session.readiness_confirmed_by_timeout",
		metric.WithDescription("Sessions whose readiness was confirmed by the timeout path"))
}
