// Package expr is the predicate AST handed to the compiler. Expressions are
// built with ordinary Go calls rooted at Param, which stands for the queried
// instance:
//
//	b := expr.Param()
//	pred := expr.And(
//		b.Field("Author").Field("Name").StartsWith("Ernest"),
//		expr.Gt(b.Field("Id"), expr.Var(&minID)),
//	)
//
// Sub-expressions that never reach Param are closed and are evaluated on the
// host when the predicate is compiled.
package expr

import (
	"fmt"
	"reflect"
)

// Kind tags the variant of a Node.
type Kind int

const (
	// KindParam is the query root parameter.
	KindParam Kind = iota
	// KindMember is a property access on Args[0].
	KindMember
	// KindConst is a literal value.
	KindConst
	// KindCapture is a value read when the predicate is compiled.
	KindCapture
	// KindBinary applies Op to Args[0] and Args[1].
	KindBinary
	// KindNot negates Args[0].
	KindNot
	// KindCall invokes method Name on Args[0] with Args[1:].
	KindCall
	// KindRaw is SQL text with {Path} member tokens and ? markers bound to Args.
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindParam:
		return "param"
	case KindMember:
		return "member"
	case KindConst:
		return "const"
	case KindCapture:
		return "capture"
	case KindBinary:
		return "binary"
	case KindNot:
		return "not"
	case KindCall:
		return "call"
	case KindRaw:
		return "raw"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Op is a binary operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

var opSymbols = map[Op]string{
	OpEq:  "==",
	OpNe:  "!=",
	OpLt:  "<",
	OpLe:  "<=",
	OpGt:  ">",
	OpGe:  ">=",
	OpAnd: "&&",
	OpOr:  "||",
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpMod: "%",
}

func (o Op) String() string {
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// IsComparison reports whether o compares two values.
func (o Op) IsComparison() bool {
	return o >= OpEq && o <= OpGe
}

// IsLogical reports whether o is AND or OR.
func (o Op) IsLogical() bool {
	return o == OpAnd || o == OpOr
}

// IsArithmetic reports whether o computes a number.
func (o Op) IsArithmetic() bool {
	return o >= OpAdd && o <= OpMod
}

// Method names understood by the compiler.
const (
	MethodStartsWith = "StartsWith"
	MethodEndsWith   = "EndsWith"
	MethodContains   = "Contains"
	MethodToUpper    = "ToUpper"
	MethodToLower    = "ToLower"
	MethodReplace    = "Replace"
	MethodTrim       = "Trim"
)

// Node is one expression tree node. Nodes are immutable once built.
type Node struct {
	Kind Kind
	Op   Op
	// Name is the field name for members and the method name for calls.
	Name  string
	Value any
	Text  string
	Args  []*Node

	capture func() any
}

// Param returns the root parameter.
func Param() *Node {
	return &Node{Kind: KindParam}
}

// Value wraps a literal.
func Value(v any) *Node {
	return &Node{Kind: KindConst, Value: v}
}

// Var captures the variable ptr points to. The variable is read each time
// the predicate is compiled, so one predicate can be reused with different
// values.
func Var(ptr any) *Node {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		panic(fmt.Sprintf("expr: Var requires a non-nil pointer, got %T", ptr))
	}
	return &Node{Kind: KindCapture, Name: rv.Type().Elem().String(), capture: func() any {
		return rv.Elem().Interface()
	}}
}

// Func captures a value computed when the predicate is compiled.
func Func(f func() any) *Node {
	return &Node{Kind: KindCapture, Name: "func", capture: f}
}

// Raw embeds SQL text. {Path} tokens are replaced with the qualified column
// of that member and each ? is bound to the next argument. Text inside
// single, double or back quotes is left as written.
func Raw(text string, args ...any) *Node {
	return &Node{Kind: KindRaw, Text: text, Args: lift(args)}
}

// Field accesses a property of n.
func (n *Node) Field(name string) *Node {
	return &Node{Kind: KindMember, Name: name, Args: []*Node{n}}
}

// Path is shorthand for a chain of Field calls.
func (n *Node) Path(names ...string) *Node {
	out := n
	for _, name := range names {
		out = out.Field(name)
	}
	return out
}

func (n *Node) StartsWith(v any) *Node { return n.Call(MethodStartsWith, v) }
func (n *Node) EndsWith(v any) *Node   { return n.Call(MethodEndsWith, v) }

// Contains is substring matching on strings and membership on lists:
// Value(ids).Contains(b.Field("Id")) compiles to an IN list.
func (n *Node) Contains(v any) *Node { return n.Call(MethodContains, v) }

func (n *Node) ToUpper() *Node { return n.Call(MethodToUpper) }
func (n *Node) ToLower() *Node { return n.Call(MethodToLower) }
func (n *Node) Trim() *Node    { return n.Call(MethodTrim) }

func (n *Node) Replace(old, replacement any) *Node {
	return n.Call(MethodReplace, old, replacement)
}

// Call invokes an arbitrary method. Only the methods named by the Method
// constants compile; anything else is rejected by the compiler.
func (n *Node) Call(method string, args ...any) *Node {
	return &Node{Kind: KindCall, Name: method, Args: append([]*Node{n}, lift(args)...)}
}

func (n *Node) Eq(v any) *Node { return Eq(n, v) }
func (n *Node) Ne(v any) *Node { return Ne(n, v) }
func (n *Node) Lt(v any) *Node { return Lt(n, v) }
func (n *Node) Le(v any) *Node { return Le(n, v) }
func (n *Node) Gt(v any) *Node { return Gt(n, v) }
func (n *Node) Ge(v any) *Node { return Ge(n, v) }

func Eq(l, r any) *Node  { return binary(OpEq, l, r) }
func Ne(l, r any) *Node  { return binary(OpNe, l, r) }
func Lt(l, r any) *Node  { return binary(OpLt, l, r) }
func Le(l, r any) *Node  { return binary(OpLe, l, r) }
func Gt(l, r any) *Node  { return binary(OpGt, l, r) }
func Ge(l, r any) *Node  { return binary(OpGe, l, r) }
func Add(l, r any) *Node { return binary(OpAdd, l, r) }
func Sub(l, r any) *Node { return binary(OpSub, l, r) }
func Mul(l, r any) *Node { return binary(OpMul, l, r) }
func Div(l, r any) *Node { return binary(OpDiv, l, r) }
func Mod(l, r any) *Node { return binary(OpMod, l, r) }

// And folds its operands left to right.
func And(a, b any, rest ...any) *Node { return fold(OpAnd, a, b, rest) }

// Or folds its operands left to right.
func Or(a, b any, rest ...any) *Node { return fold(OpOr, a, b, rest) }

// Not negates x.
func Not(x any) *Node {
	return &Node{Kind: KindNot, Args: lift([]any{x})}
}

func binary(op Op, l, r any) *Node {
	return &Node{Kind: KindBinary, Op: op, Args: lift([]any{l, r})}
}

func fold(op Op, a, b any, rest []any) *Node {
	out := binary(op, a, b)
	for _, next := range rest {
		out = binary(op, out, next)
	}
	return out
}

func lift(values []any) []*Node {
	out := make([]*Node, len(values))
	for i, v := range values {
		if n, ok := v.(*Node); ok && n != nil {
			out[i] = n
			continue
		}
		out[i] = Value(v)
	}
	return out
}

// IsLive reports whether n depends on the root parameter.
func (n *Node) IsLive() bool {
	if n.Kind == KindParam {
		return true
	}
	for _, arg := range n.Args {
		if arg.IsLive() {
			return true
		}
	}
	return false
}

// MemberPath returns the field chain of a member access rooted at Param.
func (n *Node) MemberPath() ([]string, bool) {
	if n.Kind != KindMember {
		return nil, false
	}
	var chain []string
	cur := n
	for cur.Kind == KindMember {
		chain = append(chain, cur.Name)
		cur = cur.Args[0]
	}
	if cur.Kind != KindParam {
		return nil, false
	}
	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain, true
}
