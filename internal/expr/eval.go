package expr

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ErrLive is returned when evaluating a node that depends on the root
// parameter.
var ErrLive = errors.New("expr: expression depends on the query parameter")

// Eval evaluates a closed expression on the host.
func Eval(n *Node) (any, error) {
	switch n.Kind {
	case KindParam:
		return nil, ErrLive
	case KindConst:
		return n.Value, nil
	case KindCapture:
		return n.capture(), nil
	case KindMember:
		recv, err := Eval(n.Args[0])
		if err != nil {
			return nil, err
		}
		return fieldOf(recv, n.Name)
	case KindNot:
		v, err := evalBool(n.Args[0])
		if err != nil {
			return nil, err
		}
		return !v, nil
	case KindBinary:
		return evalBinary(n)
	case KindCall:
		return evalCall(n)
	case KindRaw:
		return nil, fmt.Errorf("expr: raw SQL %q cannot be evaluated on the host", n.Text)
	default:
		return nil, fmt.Errorf("expr: cannot evaluate %s node", n.Kind)
	}
}

func evalBool(n *Node) (bool, error) {
	v, err := Eval(n)
	if err != nil {
		return false, err
	}
	return cast.ToBoolE(scalar(v))
}

func evalBinary(n *Node) (any, error) {
	if n.Op.IsLogical() {
		l, err := evalBool(n.Args[0])
		if err != nil {
			return nil, err
		}
		if n.Op == OpAnd && !l || n.Op == OpOr && l {
			return l, nil
		}
		return evalBool(n.Args[1])
	}

	l, err := Eval(n.Args[0])
	if err != nil {
		return nil, err
	}
	r, err := Eval(n.Args[1])
	if err != nil {
		return nil, err
	}
	switch {
	case n.Op == OpEq:
		return Equal(l, r), nil
	case n.Op == OpNe:
		return !Equal(l, r), nil
	case n.Op.IsComparison():
		c, err := compare(l, r)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	default:
		return arithmetic(n.Op, l, r)
	}
}

func evalCall(n *Node) (any, error) {
	recv, err := Eval(n.Args[0])
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, len(n.Args)-1)
	for _, a := range n.Args[1:] {
		v, err := Eval(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	if n.Name == MethodContains && IsList(recv) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expr: %s expects one argument", n.Name)
		}
		list := reflect.ValueOf(recv)
		for i := 0; i < list.Len(); i++ {
			if Equal(list.Index(i).Interface(), args[0]) {
				return true, nil
			}
		}
		return false, nil
	}

	s, err := cast.ToStringE(scalar(recv))
	if err != nil {
		return nil, fmt.Errorf("expr: %s on %T: %w", n.Name, recv, err)
	}
	strArgs := make([]string, len(args))
	for i, a := range args {
		if strArgs[i], err = cast.ToStringE(scalar(a)); err != nil {
			return nil, fmt.Errorf("expr: %s argument %d: %w", n.Name, i, err)
		}
	}
	want := map[string]int{
		MethodStartsWith: 1, MethodEndsWith: 1, MethodContains: 1,
		MethodToUpper: 0, MethodToLower: 0, MethodTrim: 0, MethodReplace: 2,
	}
	arity, known := want[n.Name]
	if !known {
		return nil, fmt.Errorf("expr: unknown method %s", n.Name)
	}
	if len(strArgs) != arity {
		return nil, fmt.Errorf("expr: %s expects %d arguments, got %d", n.Name, arity, len(strArgs))
	}
	switch n.Name {
	case MethodStartsWith:
		return strings.HasPrefix(s, strArgs[0]), nil
	case MethodEndsWith:
		return strings.HasSuffix(s, strArgs[0]), nil
	case MethodContains:
		return strings.Contains(s, strArgs[0]), nil
	case MethodToUpper:
		return strings.ToUpper(s), nil
	case MethodToLower:
		return strings.ToLower(s), nil
	case MethodTrim:
		return strings.TrimSpace(s), nil
	default:
		return strings.ReplaceAll(s, strArgs[0], strArgs[1]), nil
	}
}

// IsList reports whether v is a slice or array other than []byte.
func IsList(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return t.Elem().Kind() != reflect.Uint8
	default:
		return false
	}
}

// Equal compares two host values the way SQL equality would after
// parameter conversion: numbers by value regardless of width, pointers by
// what they point at.
func Equal(a, b any) bool {
	a, b = indirect(a), indirect(b)
	if isNumber(a) && isNumber(b) || isString(a) && isString(b) {
		a, b = scalar(a), scalar(b)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		c, err := compare(a, b)
		return err == nil && c == 0
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, error) {
	if isInteger(a) && isInteger(b) {
		x, errA := cast.ToInt64E(scalar(a))
		y, errB := cast.ToInt64E(scalar(b))
		if errA == nil && errB == nil {
			return cmp.Compare(x, y), nil
		}
	}
	if isNumber(a) && isNumber(b) {
		return cmp.Compare(cast.ToFloat64(scalar(a)), cast.ToFloat64(scalar(b))), nil
	}
	a, b = indirect(a), indirect(b)
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb), nil
		}
	}
	if isString(a) && isString(b) {
		return strings.Compare(scalar(a).(string), scalar(b).(string)), nil
	}
	return 0, fmt.Errorf("expr: cannot order %T and %T", a, b)
}

func arithmetic(op Op, a, b any) (any, error) {
	a, b = scalar(a), scalar(b)
	if !isNumber(a) || !isNumber(b) {
		if op == OpAdd {
			sa, errA := cast.ToStringE(a)
			sb, errB := cast.ToStringE(b)
			if errA == nil && errB == nil {
				return sa + sb, nil
			}
		}
		return nil, fmt.Errorf("expr: cannot apply %s to %T and %T", op, a, b)
	}
	if isInteger(a) && isInteger(b) {
		x, y := cast.ToInt64(a), cast.ToInt64(b)
		switch op {
		case OpAdd:
			return x + y, nil
		case OpSub:
			return x - y, nil
		case OpMul:
			return x * y, nil
		}
		if y == 0 {
			return nil, errors.New("expr: integer division by zero")
		}
		if op == OpDiv {
			return x / y, nil
		}
		return x % y, nil
	}
	x, y := cast.ToFloat64(a), cast.ToFloat64(b)
	switch op {
	case OpAdd:
		return x + y, nil
	case OpSub:
		return x - y, nil
	case OpMul:
		return x * y, nil
	case OpDiv:
		return x / y, nil
	default:
		return math.Mod(x, y), nil
	}
}

func fieldOf(recv any, name string) (any, error) {
	v := reflect.ValueOf(recv)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, fmt.Errorf("expr: field %s of nil value", name)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expr: field %s of non-struct %T", name, recv)
	}
	f := v.FieldByName(name)
	if !f.IsValid() {
		return nil, fmt.Errorf("expr: %s has no field %s", v.Type(), name)
	}
	return f.Interface(), nil
}

// indirect dereferences pointers; a nil pointer becomes a nil interface.
func indirect(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// Indirect is the exported form of indirect for the compiler.
func Indirect(v any) any {
	return indirect(v)
}

// scalar dereferences v and converts named scalar types to their canonical
// builtin: int64, uint64, float64, string or bool.
func scalar(v any) any {
	v = indirect(v)
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	default:
		return v
	}
}

func isString(v any) bool {
	v = indirect(v)
	return v != nil && reflect.TypeOf(v).Kind() == reflect.String
}

func isInteger(v any) bool {
	v = indirect(v)
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumber(v any) bool {
	if isInteger(v) {
		return true
	}
	v = indirect(v)
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Float32 || k == reflect.Float64
}
