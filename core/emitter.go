package session

import (
	"github.com/tablevox/ordervoice-core/core/events"
	"github.com/tablevox/ordervoice-core/core/orders"
)

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

func newCallbackEventEmitter(opts ConnectOptions) eventEmitter {
	return func(event events.Event) {
		if opts.onEvent != nil {
			opts.onEvent(event)
		}
		switch typedEvent := event.(type) {
		case events.SessionStateChanged:
			if opts.onStateChange != nil {
				opts.onStateChange(State(typedEvent.From), State(typedEvent.To))
			}
		case events.SessionReady:
			if opts.onReady != nil {
				opts.onReady(typedEvent.SessionID, typedEvent.ConfirmedVia)
			}
		case events.SessionErrored:
			if opts.onSessionError != nil {
				opts.onSessionError(typedEvent.Reason, typedEvent.Err)
			}
		case events.TranscriptUpdated:
			if opts.onInterimTranscription != nil {
				opts.onInterimTranscription(typedEvent.ItemID, typedEvent.Text)
			}
		case events.TranscriptFinal:
			if opts.onTranscription != nil {
				opts.onTranscription(typedEvent.ItemID, typedEvent.Text)
			}
		case events.OrderIntentIssued:
			if opts.onOrderIntent != nil {
				if intent, ok := typedEvent.Intent.(orders.Intent); ok {
					opts.onOrderIntent(intent)
				}
			}
		}
	}
}
