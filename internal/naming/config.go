// Package naming derives SQL names for modeled types whose descriptors leave
// them implicit, including pluralization and case conversion.
package naming

// Config controls default table naming.
type Config struct {
	// PluralOverrides maps a singular word to the plural used in table
	// names, e.g. {"status": "statuses"}.
	PluralOverrides map[string]string
	// PluralTables pluralizes the last word of default table names.
	PluralTables bool
}

// DefaultConfig pluralizes table names with no overrides.
func DefaultConfig() Config {
	return Config{
		PluralOverrides: make(map[string]string),
		PluralTables:    true,
	}
}
