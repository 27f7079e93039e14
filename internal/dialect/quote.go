package dialect

import "strings"

// quoteWith quotes name with the given quote character, doubling any
// embedded occurrence.
func quoteWith(name string, quote string) string {
	escaped := strings.ReplaceAll(name, quote, quote+quote)
	return quote + escaped + quote
}

// quoteStandardString quotes a SQL string literal with single quotes and
// escapes any single quotes within the string by doubling them.
func quoteStandardString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}

// quoteMySQLString additionally escapes backslashes, which MySQL treats as
// an escape character inside string literals by default.
func quoteMySQLString(s string) string {
	if !strings.ContainsAny(s, `'\`) {
		return "'" + s + "'"
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return "'" + s + "'"
}
