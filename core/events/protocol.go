package events

const (
	// KindProtocolErrored identifies an undecodable control-channel frame.
	KindProtocolErrored Kind = "protocol.errored"
	// KindOrderIntentIssued identifies an intent handed to the cart.
	KindOrderIntentIssued Kind = "order.intent_issued"
)

// ProtocolErrored marks a malformed control-channel frame. One bad frame
// never stops session processing.
type ProtocolErrored struct {
	Base
	Raw string
	Err error
}

// NewProtocolErrored creates a protocol error event.
func NewProtocolErrored(raw string, err error) ProtocolErrored {
	return ProtocolErrored{Base: NewBase(KindProtocolErrored), Raw: raw, Err: err}
}

// OrderIntentIssued marks an order-mutation intent delivered to the cart
// collaborator. Intent is kept as any so the event contract stays free of
// package dependencies; it is always an orders.Intent.
type OrderIntentIssued struct {
	Base
	Intent any
}

// NewOrderIntentIssued creates an order intent event.
func NewOrderIntentIssued(intent any) OrderIntentIssued {
	return OrderIntentIssued{Base: NewBase(KindOrderIntentIssued), Intent: intent}
}
