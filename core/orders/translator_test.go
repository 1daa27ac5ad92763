package orders

import (
	"testing"

	"github.com/tablevox/ordervoice-core/core/invocations"
)

func testVocabulary() *Vocabulary {
	return NewVocabulary([]MenuItem{
		{ID: "greek-salad", Name: "Greek Salad", Aliases: []string{"the greek", "greek"}},
		{ID: "fries-lg", Name: "Large Fries", Aliases: []string{"fries", "large fry"}},
		{ID: "lemonade", Name: "Fresh Lemonade"},
	})
}

func TestTranslateAddItemExactName(t *testing.T) {
	translator := NewTranslator(testVocabulary())
	intent := translator.Translate(invocations.Invocation{
		Name: FunctionAddItem,
		Args: map[string]any{"item": "Greek Salad", "quantity": float64(2)},
	})

	if intent == nil {
		t.Fatalf("expected an intent")
	}
	if intent.Kind != IntentAddItem {
		t.Fatalf("expected add_item intent, got %q", intent.Kind)
	}
	if intent.ItemRef != "greek-salad" {
		t.Fatalf("expected item ref greek-salad, got %q", intent.ItemRef)
	}
	if intent.Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", intent.Quantity)
	}
}

func TestTranslateAddItemAliasAndPunctuation(t *testing.T) {
	translator := NewTranslator(testVocabulary())
	intent := translator.Translate(invocations.Invocation{
		Name: FunctionAddItem,
		Args: map[string]any{"item": "The Greek!"},
	})

	if intent == nil || intent.Kind != IntentAddItem {
		t.Fatalf("expected alias to resolve to add_item, got %+v", intent)
	}
	if intent.ItemRef != "greek-salad" {
		t.Fatalf("expected item ref greek-salad, got %q", intent.ItemRef)
	}
	if intent.Quantity != 1 {
		t.Fatalf("expected default quantity 1, got %d", intent.Quantity)
	}
}

func TestTranslateAddItemTokenOverlapFallback(t *testing.T) {
	translator := NewTranslator(testVocabulary())
	intent := translator.Translate(invocations.Invocation{
		Name: FunctionAddItem,
		Args: map[string]any{"item": "some fresh lemonade please"},
	})

	if intent == nil || intent.Kind != IntentAddItem {
		t.Fatalf("expected token overlap to resolve, got %+v", intent)
	}
	if intent.ItemRef != "lemonade" {
		t.Fatalf("expected item ref lemonade, got %q", intent.ItemRef)
	}
}

func TestTranslateUnresolvedReferenceIsReportedNotGuessed(t *testing.T) {
	translator := NewTranslator(testVocabulary())
	intent := translator.Translate(invocations.Invocation{
		Name: FunctionAddItem,
		Args: map[string]any{"item": "spaghetti carbonara"},
	})

	if intent == nil {
		t.Fatalf("expected an unresolved intent")
	}
	if intent.Kind != IntentUnresolvedReference {
		t.Fatalf("expected unresolved_reference, got %q", intent.Kind)
	}
	if intent.RawText != "spaghetti carbonara" {
		t.Fatalf("expected raw text to be carried, got %q", intent.RawText)
	}
	if intent.ItemRef != "" {
		t.Fatalf("expected no item ref on unresolved intent, got %q", intent.ItemRef)
	}
}

func TestTranslateRemoveItem(t *testing.T) {
	translator := NewTranslator(testVocabulary())
	intent := translator.Translate(invocations.Invocation{
		Name: FunctionRemoveItem,
		Args: map[string]any{"item": "fries"},
	})

	if intent == nil || intent.Kind != IntentRemoveItem {
		t.Fatalf("expected remove_item intent, got %+v", intent)
	}
	if intent.ItemRef != "fries-lg" {
		t.Fatalf("expected item ref fries-lg, got %q", intent.ItemRef)
	}
}

func TestTranslateConfirmOrder(t *testing.T) {
	translator := NewTranslator(testVocabulary())
	intent := translator.Translate(invocations.Invocation{Name: FunctionConfirmOrder})

	if intent == nil || intent.Kind != IntentConfirmOrder {
		t.Fatalf("expected confirm_order intent, got %+v", intent)
	}
}

func TestTranslateUnknownInvocationReturnsNil(t *testing.T) {
	translator := NewTranslator(testVocabulary())
	intent := translator.Translate(invocations.Invocation{Name: "play_music"})

	if intent != nil {
		t.Fatalf("expected unknown invocation to be skipped, got %+v", intent)
	}
}

func TestTranslateModifiers(t *testing.T) {
	translator := NewTranslator(testVocabulary())
	intent := translator.Translate(invocations.Invocation{
		Name: FunctionAddItem,
		Args: map[string]any{
			"item":      "greek salad",
			"modifiers": []any{"no onions", "extra feta", ""},
		},
	})

	if intent == nil {
		t.Fatalf("expected an intent")
	}
	if len(intent.Modifiers) != 2 {
		t.Fatalf("expected two modifiers, got %v", intent.Modifiers)
	}
}
