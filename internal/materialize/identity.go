package materialize

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"

	"relmap/internal/schema"
)

// keySeparator joins the parts of a composite key.
const keySeparator = "|"

// identityMap maps a rendered primary key to the one instance for that key.
type identityMap map[string]reflect.Value

// keyOf renders the values of cols read from owner. It reports false when
// cols is empty or any part is null.
func keyOf(owner reflect.Value, g *schema.Graph, cols []int) (string, bool) {
	if len(cols) == 0 {
		return "", false
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		part, ok := keyPart(g.Member(c).Value(owner))
		if !ok {
			return "", false
		}
		parts[i] = part
	}
	return strings.Join(parts, keySeparator), true
}

func keyPart(v any) (string, bool) {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return "", false
		}
		v = dv
	}
	switch t := v.(type) {
	case nil:
		return "", false
	case []byte:
		return string(t), true
	case string:
		return t, true
	}
	return fmt.Sprint(v), true
}
