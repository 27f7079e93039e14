package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// String renders n in a Go-like form for error messages.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	switch n.Kind {
	case KindParam:
		b.WriteString("x")
	case KindMember:
		n.Args[0].write(b)
		b.WriteByte('.')
		b.WriteString(n.Name)
	case KindConst:
		b.WriteString(literal(n.Value))
	case KindCapture:
		fmt.Fprintf(b, "<%s>", n.Name)
	case KindBinary:
		b.WriteByte('(')
		n.Args[0].write(b)
		fmt.Fprintf(b, " %s ", n.Op)
		n.Args[1].write(b)
		b.WriteByte(')')
	case KindNot:
		b.WriteByte('!')
		n.Args[0].write(b)
	case KindCall:
		n.Args[0].write(b)
		b.WriteByte('.')
		b.WriteString(n.Name)
		b.WriteByte('(')
		for i, arg := range n.Args[1:] {
			if i > 0 {
				b.WriteString(", ")
			}
			arg.write(b)
		}
		b.WriteByte(')')
	case KindRaw:
		fmt.Fprintf(b, "raw(%q)", n.Text)
	default:
		b.WriteString(n.Kind.String())
	}
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
