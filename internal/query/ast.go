package query

import "fmt"

// Node is a predicate AST node, mirroring the teacher's query.Node marker
// interface (internal/query/parser.go) generalized with a Field node for
// dotted-path traversal and a Literal node carrying a typed value instead
// of always-string token values.
type Node interface {
	node()
	String() string
}

// ComparisonOp enumerates the comparison operators the grammar accepts.
type ComparisonOp int

const (
	OpEq ComparisonOp = iota
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpIn
)

func (op ComparisonOp) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNotEq:
		return "!="
	case OpLt:
		return "<"
	case OpLtEq:
		return "<="
	case OpGt:
		return ">"
	case OpGtEq:
		return ">="
	case OpIn:
		return "in"
	default:
		return "?"
	}
}

// FieldNode is a (possibly dotted) attribute path off the queried entity,
// e.g. "age" or "author.name".
type FieldNode struct {
	Path []string
}

func (n *FieldNode) node() {}
func (n *FieldNode) String() string {
	s := n.Path[0]
	for _, p := range n.Path[1:] {
		s += "." + p
	}
	return s
}

// LiteralNode is a constant value appearing in the predicate.
type LiteralNode struct {
	Value any
}

func (n *LiteralNode) node() {}
func (n *LiteralNode) String() string { return fmt.Sprintf("%v", n.Value) }

// ComparisonNode compares a field against a literal or another field.
type ComparisonNode struct {
	Left  *FieldNode
	Op    ComparisonOp
	Right Node // *LiteralNode or *FieldNode
	List  []Node // populated for OpIn
}

func (n *ComparisonNode) node() {}
func (n *ComparisonNode) String() string {
	return fmt.Sprintf("%s %s %s", n.Left.String(), n.Op.String(), n.Right)
}

type AndNode struct{ Left, Right Node }

func (n *AndNode) node()          {}
func (n *AndNode) String() string { return fmt.Sprintf("(%s AND %s)", n.Left, n.Right) }

type OrNode struct{ Left, Right Node }

func (n *OrNode) node()          {}
func (n *OrNode) String() string { return fmt.Sprintf("(%s OR %s)", n.Left, n.Right) }

type NotNode struct{ Operand Node }

func (n *NotNode) node()          {}
func (n *NotNode) String() string { return fmt.Sprintf("NOT %s", n.Operand) }
