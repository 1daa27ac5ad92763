// Package orders translates completed function-call invocations into
// order-mutation intents for the external cart collaborator.
package orders

// IntentKind discriminates the order intent union.
type IntentKind string

const (
	IntentAddItem             IntentKind = "add_item"
	IntentRemoveItem          IntentKind = "remove_item"
	IntentConfirmOrder        IntentKind = "confirm_order"
	IntentUnresolvedReference IntentKind = "unresolved_reference"
)

// Intent is one order mutation derived from an invocation. ItemRef is the
// canonical menu item ID for add/remove intents; RawText carries the
// original spoken reference for unresolved intents so the cart never
// receives a guessed item silently.
type Intent struct {
	Kind      IntentKind
	ItemRef   string
	Quantity  int
	Modifiers []string
	RawText   string
}
