// Package predicate compiles expr trees over a modeled type into SQL
// conditions with bound parameters.
//
// Sub-expressions rooted at the query parameter are live and render as
// alias-qualified columns; everything else is closed, evaluated on the host
// and bound as a parameter. Closed values never change the SQL text, so a
// compiled shape can be reused with new captured values.
package predicate

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relmap/internal/dialect"
	"relmap/internal/expr"
	"relmap/internal/schema"
)

// Compiled is a rendered condition. It implements squirrel's Sqlizer so it
// can be passed straight to Where.
type Compiled struct {
	SQL  string
	Args []any
}

// ToSql implements sq.Sqlizer.
func (c *Compiled) ToSql() (string, []interface{}, error) {
	return c.SQL, c.Args, nil
}

// ParamName is the generated name of the i-th bound parameter.
func ParamName(i int) string {
	return "p" + strconv.Itoa(i)
}

// Params returns the parameter map keyed by generated name.
func (c *Compiled) Params() map[string]any {
	params := make(map[string]any, len(c.Args))
	for i, arg := range c.Args {
		params[ParamName(i)] = arg
	}
	return params
}

// Option customizes compilation.
type Option func(*compiler)

// RootColumnsOnly rejects member paths that leave the root entity. Write
// statements use it because they address a single table.
func RootColumnsOnly() Option {
	return func(c *compiler) {
		c.rootOnly = true
	}
}

type compiler struct {
	graph    *schema.Graph
	aliases  *schema.Aliases
	dialect  dialect.Dialect
	rootOnly bool
	args     []any
}

// Compile renders node as a SQL condition over graph. Column references use
// the statement's aliases.
func Compile(node *expr.Node, g *schema.Graph, aliases *schema.Aliases, d dialect.Dialect, opts ...Option) (*Compiled, error) {
	if node == nil {
		return nil, errors.New("predicate: nil expression")
	}
	c := &compiler{graph: g, aliases: aliases, dialect: d}
	for _, opt := range opts {
		opt(c)
	}
	text, err := c.predicate(node)
	if err != nil {
		return nil, err
	}
	return &Compiled{SQL: text, Args: c.args}, nil
}

func unsupported(n *expr.Node, format string, args ...any) error {
	return &UnsupportedExpressionError{Node: n.String(), Reason: fmt.Sprintf(format, args...)}
}

var comparisonSQL = map[expr.Op]string{
	expr.OpEq: "=",
	expr.OpNe: "<>",
	expr.OpLt: "<",
	expr.OpLe: "<=",
	expr.OpGt: ">",
	expr.OpGe: ">=",
}

// predicate renders n where SQL expects a condition.
func (c *compiler) predicate(n *expr.Node) (string, error) {
	if !n.IsLive() {
		v, err := c.eval(n)
		if err != nil {
			return "", err
		}
		rv := reflect.ValueOf(expr.Indirect(v))
		if !rv.IsValid() || rv.Kind() != reflect.Bool {
			return "", unsupported(n, "closed condition evaluated to %T, want bool", v)
		}
		return "(" + c.bind(rv.Bool()) + " = 1)", nil
	}

	switch n.Kind {
	case expr.KindBinary:
		switch {
		case n.Op.IsLogical():
			l, err := c.predicate(n.Args[0])
			if err != nil {
				return "", err
			}
			r, err := c.predicate(n.Args[1])
			if err != nil {
				return "", err
			}
			keyword := " AND "
			if n.Op == expr.OpOr {
				keyword = " OR "
			}
			return "(" + l + keyword + r + ")", nil
		case n.Op.IsComparison():
			return c.comparison(n)
		default:
			return "", unsupported(n, "arithmetic is not a condition")
		}
	case expr.KindNot:
		inner, err := c.predicate(n.Args[0])
		if err != nil {
			return "", err
		}
		return "(NOT " + inner + ")", nil
	case expr.KindMember:
		col, m, err := c.member(n)
		if err != nil {
			return "", err
		}
		if !m.IsBool() {
			return "", unsupported(n, "member of type %s is not a condition", m.Type)
		}
		return "(" + col + " = 1)", nil
	case expr.KindCall:
		return c.call(n, true)
	case expr.KindRaw:
		text, err := c.raw(n)
		if err != nil {
			return "", err
		}
		return "(" + text + ")", nil
	default:
		return "", unsupported(n, "%s is not a condition", n.Kind)
	}
}

func (c *compiler) comparison(n *expr.Node) (string, error) {
	l, r := n.Args[0], n.Args[1]
	op := comparisonSQL[n.Op]

	if l.IsLive() && r.IsLive() {
		ls, err := c.value(l)
		if err != nil {
			return "", err
		}
		rs, err := c.value(r)
		if err != nil {
			return "", err
		}
		return "(" + ls + " " + op + " " + rs + ")", nil
	}

	live, closed, flipped := l, r, false
	if !l.IsLive() {
		live, closed, flipped = r, l, true
	}
	v, err := c.eval(closed)
	if err != nil {
		return "", err
	}
	if expr.Indirect(v) == nil {
		col, err := c.value(live)
		if err != nil {
			return "", err
		}
		switch n.Op {
		case expr.OpEq:
			return "(" + col + " IS NULL)", nil
		case expr.OpNe:
			return "(" + col + " IS NOT NULL)", nil
		default:
			return "", unsupported(n, "ordering comparison against nil")
		}
	}

	if flipped {
		param := c.bind(v)
		col, err := c.value(live)
		if err != nil {
			return "", err
		}
		return "(" + param + " " + op + " " + col + ")", nil
	}
	col, err := c.value(live)
	if err != nil {
		return "", err
	}
	return "(" + col + " " + op + " " + c.bind(v) + ")", nil
}

// value renders n where SQL expects a scalar.
func (c *compiler) value(n *expr.Node) (string, error) {
	if !n.IsLive() {
		v, err := c.eval(n)
		if err != nil {
			return "", err
		}
		return c.bind(v), nil
	}
	switch n.Kind {
	case expr.KindMember:
		col, _, err := c.member(n)
		return col, err
	case expr.KindCall:
		return c.call(n, false)
	case expr.KindRaw:
		return c.raw(n)
	case expr.KindParam:
		return "", unsupported(n, "the query parameter is not a value")
	case expr.KindBinary:
		if n.Op.IsArithmetic() {
			return "", unsupported(n, "arithmetic over columns")
		}
		return "", unsupported(n, "a condition is not a value")
	default:
		return "", unsupported(n, "%s is not a value", n.Kind)
	}
}

func (c *compiler) call(n *expr.Node, condition bool) (string, error) {
	recv, args := n.Args[0], n.Args[1:]
	arity := func(want int) error {
		if len(args) != want {
			return unsupported(n, "%s expects %d arguments, got %d", n.Name, want, len(args))
		}
		return nil
	}

	switch n.Name {
	case expr.MethodStartsWith, expr.MethodEndsWith, expr.MethodContains:
		if !condition {
			return "", unsupported(n, "%s is a condition, not a value", n.Name)
		}
		if err := arity(1); err != nil {
			return "", err
		}
		if n.Name == expr.MethodContains && !recv.IsLive() {
			list, err := c.eval(recv)
			if err != nil {
				return "", err
			}
			if expr.IsList(list) {
				return c.in(list, args[0])
			}
		}
		subject, err := c.value(recv)
		if err != nil {
			return "", err
		}
		pattern, err := c.value(args[0])
		if err != nil {
			return "", err
		}
		switch n.Name {
		case expr.MethodStartsWith:
			pattern = c.dialect.Concat(pattern, "'%'")
		case expr.MethodEndsWith:
			pattern = c.dialect.Concat("'%'", pattern)
		default:
			pattern = c.dialect.Concat("'%'", pattern, "'%'")
		}
		return "(" + subject + " LIKE " + pattern + ")", nil

	case expr.MethodToUpper, expr.MethodToLower, expr.MethodTrim:
		if condition {
			return "", unsupported(n, "%s is a value, not a condition", n.Name)
		}
		if err := arity(0); err != nil {
			return "", err
		}
		inner, err := c.value(recv)
		if err != nil {
			return "", err
		}
		switch n.Name {
		case expr.MethodToUpper:
			return "UPPER(" + inner + ")", nil
		case expr.MethodToLower:
			return "LOWER(" + inner + ")", nil
		default:
			return "LTRIM(RTRIM(" + inner + "))", nil
		}

	case expr.MethodReplace:
		if condition {
			return "", unsupported(n, "%s is a value, not a condition", n.Name)
		}
		if err := arity(2); err != nil {
			return "", err
		}
		parts := make([]string, 0, 3)
		for _, operand := range n.Args {
			s, err := c.value(operand)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "REPLACE(" + strings.Join(parts, ", ") + ")", nil

	default:
		return "", unsupported(n, "method %s is not supported", n.Name)
	}
}

// in renders list membership. Scalars are inlined as literals; values with
// no safe literal form are bound.
func (c *compiler) in(list any, item *expr.Node) (string, error) {
	col, err := c.value(item)
	if err != nil {
		return "", err
	}
	rv := reflect.ValueOf(list)
	if rv.Len() == 0 {
		return "(1 = 0)", nil
	}
	parts := make([]string, rv.Len())
	for i := range parts {
		elem := rv.Index(i).Interface()
		if text, ok := c.literal(elem); ok {
			parts[i] = text
		} else {
			parts[i] = c.bind(elem)
		}
	}
	return "(" + col + " IN (" + strings.Join(parts, ", ") + "))", nil
}

func (c *compiler) literal(v any) (string, bool) {
	if _, ok := v.(driver.Valuer); ok {
		return "", false
	}
	v = expr.Indirect(v)
	if v == nil {
		return "NULL", true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		// A ? inside a literal would be renumbered as a placeholder.
		if strings.Contains(rv.String(), "?") {
			return "", false
		}
		return c.dialect.QuoteString(rv.String()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), true
	case reflect.Bool:
		if rv.Bool() {
			return "1", true
		}
		return "0", true
	default:
		return "", false
	}
}

// raw expands {Path} tokens and binds ? markers in a raw SQL fragment.
// Quoted spans are copied verbatim.
func (c *compiler) raw(n *expr.Node) (string, error) {
	var b strings.Builder
	text := n.Text
	next := 0
	for i := 0; i < len(text); i++ {
		switch ch := text[i]; ch {
		case '\'', '"', '`':
			end := strings.IndexByte(text[i+1:], ch)
			if end < 0 {
				return "", unsupported(n, "unterminated quoted span at offset %d", i)
			}
			b.WriteString(c.escapeMarks(text[i : i+end+2]))
			i += end + 1
		case '{':
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return "", unsupported(n, "unterminated member token at offset %d", i)
			}
			col, _, err := c.column(strings.TrimSpace(text[i+1 : i+1+end]))
			if err != nil {
				return "", err
			}
			b.WriteString(col)
			i += end + 1
		case '?':
			if next >= len(n.Args) {
				return "", unsupported(n, "more ? markers than arguments")
			}
			s, err := c.value(n.Args[next])
			if err != nil {
				return "", err
			}
			b.WriteString(s)
			next++
		default:
			b.WriteByte(ch)
		}
	}
	if next != len(n.Args) {
		return "", unsupported(n, "%d arguments for %d ? markers", len(n.Args), next)
	}
	return b.String(), nil
}

// escapeMarks doubles literal ? characters for placeholder formats that
// rewrite them; squirrel turns ?? back into ?.
func (c *compiler) escapeMarks(s string) string {
	if c.dialect.Placeholder() == sq.Question {
		return s
	}
	return strings.ReplaceAll(s, "?", "??")
}

func (c *compiler) member(n *expr.Node) (string, *schema.Member, error) {
	chain, ok := n.MemberPath()
	if !ok {
		return "", nil, unsupported(n, "member access must start at the query parameter")
	}
	return c.column(strings.Join(chain, "."))
}

// column resolves a dotted path to a rendered column reference.
func (c *compiler) column(path string) (string, *schema.Member, error) {
	typeName := c.graph.Type.Name()
	m, ok := c.graph.ResolveMember(path)
	if !ok {
		return "", nil, &schema.ResolutionError{Type: typeName, Path: path}
	}
	if m.Kind != schema.KindColumn {
		return "", nil, &schema.ResolutionError{Type: typeName, Path: path, Reason: "is a " + m.Kind.String() + ", not a column"}
	}
	for _, idx := range c.graph.Ancestors(m.Index) {
		if c.graph.Member(idx).Kind == schema.KindCollection {
			return "", nil, &schema.ResolutionError{Type: typeName, Path: path, Reason: "predicates cannot reach into a collection"}
		}
	}
	if c.rootOnly && m.Parent != 0 {
		return "", nil, &schema.ResolutionError{Type: typeName, Path: path, Reason: "only root columns can be used here"}
	}
	col, ok := c.aliases.Column(c.graph, m, c.dialect.QuoteIdentifier)
	if !ok {
		return "", nil, &schema.ResolutionError{Type: typeName, Path: path, Reason: "member has no table alias in this statement"}
	}
	return col, m, nil
}

func (c *compiler) eval(n *expr.Node) (any, error) {
	v, err := expr.Eval(n)
	if err != nil {
		return nil, unsupported(n, "%v", err)
	}
	return v, nil
}

// bind records v as the next parameter. Booleans are stored as 0/1.
func (c *compiler) bind(v any) string {
	if rv := reflect.ValueOf(v); rv.IsValid() && rv.Kind() == reflect.Bool {
		if rv.Bool() {
			v = 1
		} else {
			v = 0
		}
	}
	c.args = append(c.args, v)
	return "?"
}
