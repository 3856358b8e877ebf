// Package sqlast implements the abstract SQL tree spec.md §6 describes:
// operator-tagged trees of the form [OP, args...] that a Provider renders
// into a dialect-specific SQL string plus a parameter adapter. The renderer
// in this package is deliberately small — spec.md §1 treats full dialect
// generation as an external collaborator — and only needs to cover the
// operator set the session, entity runtime, and query facility emit.
package sqlast

// Op tags a node of the abstract SQL tree.
type Op int

const (
	OpSelect Op = iota
	OpInsert
	OpUpdate
	OpDelete
	OpFrom
	OpJoin
	OpWhere
	OpOrderBy
	OpLimit
	OpAll
	OpDistinct
	OpColumn
	OpTable
	OpValue
	OpParam
	OpEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpIsNull
	OpIn
	OpAnd
	OpOr
	OpNot
	OpRow
	OpAsc
	OpDesc
	OpCount
	OpSum
	OpAvg
	OpMin
	OpMax
	OpCoalesce
	OpExists
)

// Node is one [OP, args...] tree node. Args holds either nested *Node
// values or leaf data (column name, table name, literal value) depending on
// Op; see the constructors below for the shape each Op expects.
type Node struct {
	Op   Op
	Args []any
}

func n(op Op, args ...any) *Node { return &Node{Op: op, Args: args} }

// Column references a column, optionally table-qualified.
func Column(table, name string) *Node { return n(OpColumn, table, name) }

// Table references a table, optionally aliased.
func Table(name, alias string) *Node { return n(OpTable, name, alias) }

// Value is a literal embedded directly in the AST (used for constants the
// renderer is allowed to inline, e.g. LIMIT counts).
func Value(v any) *Node { return n(OpValue, v) }

// ParamRef carries either an integer placeholder index (Positional) or a
// (row, column) pair for batch INSERT/executemany parameter binding
// (spec.md §6 "PARAM carries either an integer index or a (row, column)
// tuple"), plus the converter used to adapt the bound Go value.
type ParamRef struct {
	Positional int
	Row, Col   int
	Name       string // placeholder name, used by the $expr substitution path
	Converter  Converter
}

// Converter adapts a Go value to the shape a driver parameter expects and
// back. Scalar columns use IdentityConverter; relational columns use a
// converter that extracts the referenced instance's PK component.
type Converter interface {
	ToDB(v any) (any, error)
	FromDB(v any) (any, error)
}

type identityConverter struct{}

func (identityConverter) ToDB(v any) (any, error)   { return v, nil }
func (identityConverter) FromDB(v any) (any, error) { return v, nil }

// IdentityConverter passes values through unchanged.
var IdentityConverter Converter = identityConverter{}

// Param embeds a ParamRef as a leaf.
func Param(p ParamRef) *Node { return n(OpParam, p) }

func Eq(l, r *Node) *Node    { return n(OpEq, l, r) }
func NotEq(l, r *Node) *Node { return n(OpNotEq, l, r) }
func Lt(l, r *Node) *Node    { return n(OpLt, l, r) }
func LtEq(l, r *Node) *Node  { return n(OpLtEq, l, r) }
func Gt(l, r *Node) *Node    { return n(OpGt, l, r) }
func GtEq(l, r *Node) *Node  { return n(OpGtEq, l, r) }
func IsNull(col *Node) *Node { return n(OpIsNull, col) }
func In(col *Node, vals ...*Node) *Node {
	args := make([]any, 0, len(vals)+1)
	args = append(args, col)
	for _, v := range vals {
		args = append(args, v)
	}
	return &Node{Op: OpIn, Args: args}
}

func And(terms ...*Node) *Node {
	if len(terms) == 1 {
		return terms[0]
	}
	args := make([]any, len(terms))
	for i, t := range terms {
		args[i] = t
	}
	return &Node{Op: OpAnd, Args: args}
}

func Or(terms ...*Node) *Node {
	args := make([]any, len(terms))
	for i, t := range terms {
		args[i] = t
	}
	return &Node{Op: OpOr, Args: args}
}

func Not(term *Node) *Node { return n(OpNot, term) }

func Asc(col *Node) *Node  { return n(OpAsc, col) }
func Desc(col *Node) *Node { return n(OpDesc, col) }

func Count(col *Node) *Node    { return n(OpCount, col) }
func Sum(col *Node) *Node      { return n(OpSum, col) }
func Avg(col *Node) *Node      { return n(OpAvg, col) }
func Min(col *Node) *Node      { return n(OpMin, col) }
func Max(col *Node) *Node      { return n(OpMax, col) }
func Exists(sub *Node) *Node   { return n(OpExists, sub) }
func Coalesce(a, b *Node) *Node { return n(OpCoalesce, a, b) }

// Join builds an INNER JOIN clause: the table being joined in and its ON
// condition, used to resolve a many-to-many collection through its link
// table (spec.md §4.1 "a link table named deterministically from the two
// endpoint entities").
func Join(table *Node, on *Node) *Node { return n(OpJoin, table, on) }

// Select builds a SELECT tree: columns, FROM, optional JOIN/WHERE/ORDER BY/LIMIT.
type SelectBuilder struct {
	Columns  []*Node
	Distinct bool
	From     *Node
	Joins    []*Node
	Where    *Node
	OrderBy  []*Node
	Limit    *Node
	Offset   *Node
}

func (b *SelectBuilder) Build() *Node {
	cols := make([]any, len(b.Columns))
	for i, c := range b.Columns {
		cols[i] = c
	}
	colsOp := Op(OpAll)
	if b.Distinct {
		colsOp = OpDistinct
	}
	args := []any{&Node{Op: colsOp, Args: cols}, n(OpFrom, b.From)}
	for _, j := range b.Joins {
		args = append(args, j)
	}
	if b.Where != nil {
		args = append(args, n(OpWhere, b.Where))
	}
	if len(b.OrderBy) > 0 {
		ob := make([]any, len(b.OrderBy))
		for i, o := range b.OrderBy {
			ob[i] = o
		}
		args = append(args, &Node{Op: OpOrderBy, Args: ob})
	}
	if b.Limit != nil {
		limArgs := []any{b.Limit}
		if b.Offset != nil {
			limArgs = append(limArgs, b.Offset)
		}
		args = append(args, &Node{Op: OpLimit, Args: limArgs})
	}
	return &Node{Op: OpSelect, Args: args}
}

// Insert builds an INSERT tree: table, column list, one ROW of VALUE/PARAM per row.
func Insert(table *Node, columns []string, rows [][]*Node) *Node {
	colNodes := make([]any, len(columns))
	for i, c := range columns {
		colNodes[i] = Column("", c)
	}
	rowNodes := make([]any, len(rows))
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		rowNodes[i] = &Node{Op: OpRow, Args: cells}
	}
	return &Node{Op: OpInsert, Args: []any{table, &Node{Op: OpColumn, Args: colNodes}, &Node{Op: OpRow, Args: rowNodes}}}
}

// Update builds an UPDATE tree: table, set-pairs (column, value), WHERE.
type SetPair struct {
	Column string
	Value  *Node
}

func Update(table *Node, sets []SetPair, where *Node) *Node {
	setNodes := make([]any, len(sets))
	for i, sp := range sets {
		setNodes[i] = &Node{Op: OpEq, Args: []any{Column("", sp.Column), sp.Value}}
	}
	args := []any{table, &Node{Op: OpRow, Args: setNodes}}
	if where != nil {
		args = append(args, n(OpWhere, where))
	}
	return &Node{Op: OpUpdate, Args: args}
}

// Delete builds a DELETE tree: table, WHERE.
func Delete(table *Node, where *Node) *Node {
	args := []any{table}
	if where != nil {
		args = append(args, n(OpWhere, where))
	}
	return &Node{Op: OpDelete, Args: args}
}
