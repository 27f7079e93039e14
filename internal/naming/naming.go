package naming

import (
	"strings"
	"unicode"
)

// Namer turns Go type names into default table names.
type Namer struct {
	config Config
}

// New creates a Namer with the given configuration
func New(cfg Config) *Namer {
	return &Namer{config: cfg}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig())
}

// TableName converts a Go type name to a default table name.
// Example: "BookChapter" -> "book_chapters"
func (n *Namer) TableName(typeName string) string {
	name := ToSnakeCase(typeName)
	if !n.config.PluralTables || name == "" {
		return name
	}
	parts := strings.Split(name, "_")
	parts[len(parts)-1] = n.Pluralize(parts[len(parts)-1])
	return strings.Join(parts, "_")
}

// StageName builds a staging-table base name from a member path.
// Example: ("Chapters.Paragraphs", "1a2b") -> "stage_chapters_paragraphs_1a2b"
func (n *Namer) StageName(path, suffix string) string {
	base := "root"
	if path != "" {
		base = ToSnakeCase(strings.ReplaceAll(path, ".", "_"))
	}
	name := "stage_" + base
	if suffix != "" {
		name += "_" + suffix
	}
	return name
}

// ToSnakeCase converts PascalCase or camelCase to snake_case.
// Acronym runs stay together: "HTTPServer" -> "http_server".
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "_")
}
