package naming

import "github.com/jinzhu/inflection"

// Pluralize returns the plural of a lower-case word, preferring configured
// overrides to the inflection rules.
func (n *Namer) Pluralize(word string) string {
	if plural, ok := n.config.PluralOverrides[word]; ok {
		return plural
	}
	return inflection.Plural(word)
}
