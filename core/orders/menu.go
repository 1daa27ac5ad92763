package orders

import (
	"strings"

	"github.com/jinzhu/copier"
)

// MenuItem is one orderable item with the spoken aliases it is known by.
type MenuItem struct {
	ID      string
	Name    string
	Aliases []string
}

// Vocabulary is the menu lookup surface used for item-name resolution.
type Vocabulary struct {
	items   []MenuItem
	aliases map[string]string // normalized alias -> item ID
}

// NewVocabulary builds a vocabulary from menu items. Item names and aliases
// are matched case- and punctuation-insensitively.
func NewVocabulary(items []MenuItem) *Vocabulary {
	v := &Vocabulary{aliases: make(map[string]string)}
	copier.Copy(&v.items, items)

	for _, item := range v.items {
		v.aliases[normalize(item.Name)] = item.ID
		for _, alias := range item.Aliases {
			v.aliases[normalize(alias)] = item.ID
		}
	}
	return v
}

// Items returns a copy of the vocabulary's menu items.
func (v *Vocabulary) Items() []MenuItem {
	var items []MenuItem
	copier.Copy(&items, v.items)
	return items
}

// Resolve maps a spoken item reference to a menu item ID. Exact alias
// matches win; otherwise the best token-overlap candidate is returned with
// its confidence in [0, 1].
func (v *Vocabulary) Resolve(reference string) (itemID string, confidence float64) {
	normalized := normalize(reference)
	if normalized == "" {
		return "", 0
	}

	if id, ok := v.aliases[normalized]; ok {
		return id, 1
	}

	referenceTokens := strings.Fields(normalized)
	bestID, bestScore := "", 0.0
	for alias, id := range v.aliases {
		score := tokenOverlap(referenceTokens, strings.Fields(alias))
		if score > bestScore {
			bestID, bestScore = id, score
		}
	}
	return bestID, bestScore
}

// normalize lowercases and strips punctuation so "Greek Salad!" and
// "greek salad" compare equal.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenOverlap scores how much of either token set is shared, favoring the
// shorter side so "salad" still matches "greek salad" reasonably.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]bool, len(a))
	for _, token := range a {
		set[token] = true
	}
	shared := 0
	for _, token := range b {
		if set[token] {
			shared++
		}
	}

	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	return float64(shared) / float64(shorter)
}
