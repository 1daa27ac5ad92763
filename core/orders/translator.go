package orders

import (
	"context"
	"strings"

	"github.com/tablevox/ordervoice-core/core/invocations"
)

// DefaultConfidenceThreshold is the minimum resolution confidence below
// which a reference is reported as unresolved instead of guessed.
const DefaultConfidenceThreshold = 0.5

// Invocation names the remote peer is instructed to call. These are baked
// into the credential at mint time; the translator only ever sees names
// from this set plus whatever drift the remote introduces.
const (
	FunctionAddItem      = "add_item_to_order"
	FunctionRemoveItem   = "remove_item_from_order"
	FunctionConfirmOrder = "confirm_order"
)

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithConfidenceThreshold overrides the minimum resolution confidence.
func WithConfidenceThreshold(threshold float64) TranslatorOption {
	return func(t *Translator) { t.threshold = threshold }
}

// Translator maps completed invocations onto the menu vocabulary.
type Translator struct {
	vocabulary *Vocabulary
	threshold  float64
}

// NewTranslator creates a translator over the given vocabulary.
func NewTranslator(vocabulary *Vocabulary, opts ...TranslatorOption) *Translator {
	t := &Translator{vocabulary: vocabulary, threshold: DefaultConfidenceThreshold}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate maps an invocation to an order intent, or nil for invocation
// names the translator does not know (forward compatibility: unknown calls
// are logged and skipped, never guessed at).
func (t *Translator) Translate(invocation invocations.Invocation) *Intent {
	switch invocation.Name {
	case FunctionAddItem:
		return t.translateAdd(invocation)
	case FunctionRemoveItem:
		return t.translateRemove(invocation)
	case FunctionConfirmOrder:
		return &Intent{Kind: IntentConfirmOrder}
	default:
		logger.Warn("skipping unknown invocation", "name", invocation.Name, "call_id", invocation.CallID)
		return nil
	}
}

func (t *Translator) translateAdd(invocation invocations.Invocation) *Intent {
	reference := stringArg(invocation.Args, "item")
	itemID, confidence := t.vocabulary.Resolve(reference)
	if confidence < t.threshold {
		return t.unresolved(reference)
	}

	quantity := intArg(invocation.Args, "quantity")
	if quantity < 1 {
		quantity = 1
	}

	return &Intent{
		Kind:      IntentAddItem,
		ItemRef:   itemID,
		Quantity:  quantity,
		Modifiers: stringSliceArg(invocation.Args, "modifiers"),
	}
}

func (t *Translator) translateRemove(invocation invocations.Invocation) *Intent {
	reference := stringArg(invocation.Args, "item")
	itemID, confidence := t.vocabulary.Resolve(reference)
	if confidence < t.threshold {
		return t.unresolved(reference)
	}

	return &Intent{Kind: IntentRemoveItem, ItemRef: itemID}
}

func (t *Translator) unresolved(reference string) *Intent {
	unresolvedReferences.Add(context.Background(), 1)
	logger.Warn("no menu match above confidence threshold", "reference", reference)
	return &Intent{Kind: IntentUnresolvedReference, RawText: reference}
}

func stringArg(args map[string]any, key string) string {
	value, _ := args[key].(string)
	return strings.TrimSpace(value)
}

func intArg(args map[string]any, key string) int {
	// JSON numbers decode as float64.
	if value, ok := args[key].(float64); ok {
		return int(value)
	}
	return 0
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	var values []string
	for _, entry := range raw {
		if value, ok := entry.(string); ok && strings.TrimSpace(value) != "" {
			values = append(values, strings.TrimSpace(value))
		}
	}
	return values
}
