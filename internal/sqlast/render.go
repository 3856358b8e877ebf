package sqlast

import (
	"fmt"
	"strconv"
	"strings"
)

// ParamStyle enumerates the driver placeholder conventions spec.md §6
// lists for the Provider interface.
type ParamStyle int

const (
	ParamQmark ParamStyle = iota
	ParamFormat
	ParamNumeric
	ParamNamed
	ParamPyformat
)

// Rendered is the (sql_string, parameter_adapter) pair ast2sql returns.
type Rendered struct {
	SQL    string
	Params []ParamRef // in emission order; the adapter extracts values by this order
}

// Render walks a Node tree and produces dialect-appropriate SQL text. It
// understands every Op in the set spec.md §6 lists. Quoting of identifiers
// is deliberately minimal (double-quote wrapping) since full dialect
// quoting is the Provider's concern, not this package's (spec.md §1 treats
// dialect-specific rendering as an external collaborator — this renderer
// only needs to be correct enough for the providers in internal/provider to
// adapt into their dialect).
func Render(root *Node, style ParamStyle) (Rendered, error) {
	r := &renderer{style: style}
	r.visit(root)
	if r.err != nil {
		return Rendered{}, r.err
	}
	return Rendered{SQL: r.buf.String(), Params: r.params}, nil
}

type renderer struct {
	buf    strings.Builder
	style  ParamStyle
	params []ParamRef
	err    error
}

func (r *renderer) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *renderer) writeString(s string) { r.buf.WriteString(s) }

func (r *renderer) placeholder(idx int) string {
	switch r.style {
	case ParamQmark:
		return "?"
	case ParamFormat, ParamPyformat:
		return "%s"
	case ParamNumeric:
		return ":" + strconv.Itoa(idx)
	case ParamNamed:
		return "@p" + strconv.Itoa(idx)
	default:
		return "?"
	}
}

func (r *renderer) visit(node *Node) {
	if r.err != nil {
		return
	}
	if node == nil {
		return
	}
	switch node.Op {
	case OpSelect:
		r.visitSelect(node)
	case OpInsert:
		r.visitInsert(node)
	case OpUpdate:
		r.visitUpdate(node)
	case OpDelete:
		r.visitDelete(node)
	case OpColumn:
		r.visitColumn(node)
	case OpTable:
		r.visitTable(node)
	case OpValue:
		r.visitValue(node)
	case OpParam:
		r.visitParam(node)
	case OpEq:
		r.binary(node, "=")
	case OpNotEq:
		r.binary(node, "<>")
	case OpLt:
		r.binary(node, "<")
	case OpLtEq:
		r.binary(node, "<=")
	case OpGt:
		r.binary(node, ">")
	case OpGtEq:
		r.binary(node, ">=")
	case OpIsNull:
		r.visit(asNode(node.Args[0]))
		r.writeString(" IS NULL")
	case OpIn:
		r.visitIn(node)
	case OpAnd:
		r.joinBool(node, " AND ")
	case OpOr:
		r.joinBool(node, " OR ")
	case OpNot:
		r.writeString("NOT (")
		r.visit(asNode(node.Args[0]))
		r.writeString(")")
	case OpAsc:
		r.visit(asNode(node.Args[0]))
		r.writeString(" ASC")
	case OpDesc:
		r.visit(asNode(node.Args[0]))
		r.writeString(" DESC")
	case OpCount:
		r.aggregate(node, "COUNT")
	case OpSum:
		r.aggregate(node, "SUM")
	case OpAvg:
		r.aggregate(node, "AVG")
	case OpMin:
		r.aggregate(node, "MIN")
	case OpMax:
		r.aggregate(node, "MAX")
	case OpCoalesce:
		r.writeString("COALESCE(")
		r.visit(asNode(node.Args[0]))
		r.writeString(", ")
		r.visit(asNode(node.Args[1]))
		r.writeString(")")
	case OpExists:
		r.writeString("EXISTS (")
		r.visit(asNode(node.Args[0]))
		r.writeString(")")
	default:
		r.fail("sqlast: render: unsupported op %v", node.Op)
	}
}

func asNode(v any) *Node {
	if v == nil {
		return nil
	}
	n, _ := v.(*Node)
	return n
}

func (r *renderer) binary(node *Node, sym string) {
	r.visit(asNode(node.Args[0]))
	r.writeString(" " + sym + " ")
	r.visit(asNode(node.Args[1]))
}

func (r *renderer) joinBool(node *Node, sep string) {
	r.writeString("(")
	for i, a := range node.Args {
		if i > 0 {
			r.writeString(sep)
		}
		r.visit(asNode(a))
	}
	r.writeString(")")
}

func (r *renderer) aggregate(node *Node, name string) {
	r.writeString(name + "(")
	if len(node.Args) == 0 {
		r.writeString("*")
	} else {
		r.visit(asNode(node.Args[0]))
	}
	r.writeString(")")
}

func (r *renderer) visitIn(node *Node) {
	r.visit(asNode(node.Args[0]))
	r.writeString(" IN (")
	for i, a := range node.Args[1:] {
		if i > 0 {
			r.writeString(", ")
		}
		r.visit(asNode(a))
	}
	r.writeString(")")
}

func (r *renderer) visitColumn(node *Node) {
	table, _ := node.Args[0].(string)
	name, _ := node.Args[1].(string)
	if table != "" {
		r.writeString(quoteIdent(table) + "." + quoteIdent(name))
		return
	}
	r.writeString(quoteIdent(name))
}

func (r *renderer) visitTable(node *Node) {
	name, _ := node.Args[0].(string)
	alias, _ := node.Args[1].(string)
	r.writeString(quoteIdent(name))
	if alias != "" {
		r.writeString(" AS " + quoteIdent(alias))
	}
}

func (r *renderer) visitValue(node *Node) {
	v := node.Args[0]
	switch val := v.(type) {
	case string:
		r.writeString("'" + strings.ReplaceAll(val, "'", "''") + "'")
	case int, int64, float64:
		r.writeString(fmt.Sprintf("%v", val))
	case nil:
		r.writeString("NULL")
	default:
		r.writeString(fmt.Sprintf("%v", val))
	}
}

func (r *renderer) visitParam(node *Node) {
	p, ok := node.Args[0].(ParamRef)
	if !ok {
		r.fail("sqlast: render: malformed PARAM node")
		return
	}
	idx := len(r.params) + 1
	r.params = append(r.params, p)
	r.writeString(r.placeholder(idx))
}

func (r *renderer) visitSelect(node *Node) {
	r.writeString("SELECT ")
	cols := asNode(node.Args[0])
	if cols.Op == OpDistinct {
		r.writeString("DISTINCT ")
	}
	for i, c := range cols.Args {
		if i > 0 {
			r.writeString(", ")
		}
		r.visit(asNode(c))
	}
	for _, a := range node.Args[1:] {
		clause := asNode(a)
		switch clause.Op {
		case OpFrom:
			r.writeString(" FROM ")
			r.visit(asNode(clause.Args[0]))
		case OpJoin:
			r.writeString(" JOIN ")
			r.visit(asNode(clause.Args[0]))
			r.writeString(" ON ")
			r.visit(asNode(clause.Args[1]))
		case OpWhere:
			r.writeString(" WHERE ")
			r.visit(asNode(clause.Args[0]))
		case OpOrderBy:
			r.writeString(" ORDER BY ")
			for i, o := range clause.Args {
				if i > 0 {
					r.writeString(", ")
				}
				r.visit(asNode(o))
			}
		case OpLimit:
			r.writeString(" LIMIT ")
			r.visit(asNode(clause.Args[0]))
			if len(clause.Args) > 1 {
				r.writeString(" OFFSET ")
				r.visit(asNode(clause.Args[1]))
			}
		}
	}
}

func (r *renderer) visitInsert(node *Node) {
	table := asNode(node.Args[0])
	cols := asNode(node.Args[1])
	rows := asNode(node.Args[2])
	r.writeString("INSERT INTO ")
	r.visit(table)
	r.writeString(" (")
	for i, c := range cols.Args {
		if i > 0 {
			r.writeString(", ")
		}
		r.visit(asNode(c))
	}
	r.writeString(") VALUES ")
	for i, row := range rows.Args {
		if i > 0 {
			r.writeString(", ")
		}
		r.writeString("(")
		rowNode := asNode(row)
		for j, cell := range rowNode.Args {
			if j > 0 {
				r.writeString(", ")
			}
			r.visit(asNode(cell))
		}
		r.writeString(")")
	}
}

func (r *renderer) visitUpdate(node *Node) {
	table := asNode(node.Args[0])
	sets := asNode(node.Args[1])
	r.writeString("UPDATE ")
	r.visit(table)
	r.writeString(" SET ")
	for i, s := range sets.Args {
		if i > 0 {
			r.writeString(", ")
		}
		r.visit(asNode(s))
	}
	if len(node.Args) > 2 {
		where := asNode(node.Args[2])
		r.writeString(" WHERE ")
		r.visit(asNode(where.Args[0]))
	}
}

func (r *renderer) visitDelete(node *Node) {
	table := asNode(node.Args[0])
	r.writeString("DELETE FROM ")
	r.visit(table)
	if len(node.Args) > 1 {
		where := asNode(node.Args[1])
		r.writeString(" WHERE ")
		r.visit(asNode(where.Args[0]))
	}
}

// quoteIdent wraps an identifier in double quotes unless it already looks
// quoted or is a bare "*" (used by COUNT(*)-style aggregates).
func quoteIdent(name string) string {
	if name == "" || name == "*" || strings.HasPrefix(name, "\"") {
		return name
	}
	return "\"" + name + "\""
}
