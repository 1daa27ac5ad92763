package transport

import "fmt"

// Reason classifies a failed channel open.
type Reason string

const (
	// ReasonSDPExchangeFailed covers the offer/answer exchange with the
	// remote endpoint.
	ReasonSDPExchangeFailed Reason = "sdp_exchange_failed"
	// ReasonDataChannelTimeout covers exceeding the open deadline before
	// the control channel confirmed open.
	ReasonDataChannelTimeout Reason = "data_channel_timeout"
	// ReasonTransportFailed covers everything else in the open sequence.
	ReasonTransportFailed Reason = "transport_failed"
)

// ConnectionError reports a failed channel open with its phase.
type ConnectionError struct {
	Reason Reason
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to open realtime channel (%s): %v", e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
