package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/session"
	"github.com/cormdev/corm/internal/sqlast"
)

// Aggregate enumerates the reducers spec.md §4.4 names, each of which
// replaces the SELECT list with a single aggregate expression.
type Aggregate int

const (
	AggNone Aggregate = iota
	AggCount
	AggSum
	AggAvg
	AggMin
	AggMax
)

type orderTerm struct {
	attr *schema.Attribute
	desc bool
}

// Query builds a predicate against a single entity and compiles it to the
// abstract SQL AST when Fetch, One, Aggregate or Exists runs, following
// spec.md §4.4's pipeline: parse the predicate once (the parsed AST is
// cached), classify field references against the schema on every run, and
// materialize rows through the session's identity map.
type Query struct {
	entity    *schema.Entity
	predicate string
	orderBy   []orderTerm
	limit     *int
	offset    *int
	agg       Aggregate
	aggField  string
	err       error
}

// On starts a query over e.
func On(e *schema.Entity) *Query {
	return &Query{entity: e}
}

// Where attaches the predicate's source text. An empty predicate matches
// every row.
func (q *Query) Where(predicate string) *Query {
	q.predicate = predicate
	return q
}

// OrderBy appends ascending sort attributes, in call order (spec.md §4.4
// "default order is ascending by primary-key columns; orderby(...) replaces
// it").
func (q *Query) OrderBy(names ...string) *Query {
	for _, name := range names {
		a, ok := q.entity.Attribute(name)
		if !ok {
			q.err = fmt.Errorf("%w: %s has no attribute %s", ErrQuery, q.entity.Name, name)
			return q
		}
		q.orderBy = append(q.orderBy, orderTerm{attr: a})
	}
	return q
}

// OrderByDesc appends a single descending sort attribute.
func (q *Query) OrderByDesc(name string) *Query {
	a, ok := q.entity.Attribute(name)
	if !ok {
		q.err = fmt.Errorf("%w: %s has no attribute %s", ErrQuery, q.entity.Name, name)
		return q
	}
	q.orderBy = append(q.orderBy, orderTerm{attr: a, desc: true})
	return q
}

// Slice compiles to LIMIT/OFFSET (spec.md §4.4 "Slicing [a:b] compiles to
// LIMIT/OFFSET; negative indices are rejected").
func (q *Query) Slice(start, end int) (*Query, error) {
	if q.err != nil {
		return nil, q.err
	}
	if start < 0 || end < 0 {
		return nil, fmt.Errorf("%w: negative slice index is not supported", ErrQuery)
	}
	if end < start {
		return nil, fmt.Errorf("%w: slice end %d precedes start %d", ErrQuery, end, start)
	}
	limit := end - start
	q.limit = &limit
	q.offset = &start
	return q, nil
}

func (q *Query) withAggregate(agg Aggregate, field string) *Query {
	clone := *q
	clone.agg = agg
	clone.aggField = field
	return &clone
}

// Count, Sum, Avg, Min, Max select a single aggregate in place of a row set
// (spec.md §4.4). field is ignored by Count.
func (q *Query) Count() *Query           { return q.withAggregate(AggCount, "") }
func (q *Query) Sum(field string) *Query { return q.withAggregate(AggSum, field) }
func (q *Query) Avg(field string) *Query { return q.withAggregate(AggAvg, field) }
func (q *Query) Min(field string) *Query { return q.withAggregate(AggMin, field) }
func (q *Query) Max(field string) *Query { return q.withAggregate(AggMax, field) }

// compiled is the result of binding a predicate's parsed AST against the
// schema: the WHERE condition tree and the ordered list of parameter values
// it closes over. It is rebuilt on every compile; only the parse is cached,
// by parseCached (spec.md §4.4 "a cache key formed from (code identity, sorted
// free-variable types, sorted referenced entities)" — approximated here by
// keying on predicate text plus entity name, since this engine takes source
// text directly rather than decompiling a callable per spec.md §9).
type compiled struct {
	where *sqlast.Node
	args  []any
}

var (
	compileCacheMu sync.Mutex
	compileCache   = map[string]Node{} // predicate text + entity name -> parsed AST, reused across binds
)

func parseCached(entityName, predicate string) (Node, error) {
	key := entityName + "\x00" + predicate
	compileCacheMu.Lock()
	if n, ok := compileCache[key]; ok {
		compileCacheMu.Unlock()
		return n, nil
	}
	compileCacheMu.Unlock()

	n, err := Parse(predicate)
	if err != nil {
		return nil, err
	}
	compileCacheMu.Lock()
	compileCache[key] = n
	compileCacheMu.Unlock()
	return n, nil
}

// compile binds the cached AST against c's entity, producing a WHERE
// condition plus the parameter values it closes over, in the order their
// placeholders appear in the condition.
func (q *Query) compile(c *session.Cache) (*compiled, error) {
	if q.predicate == "" {
		return &compiled{}, nil
	}
	node, err := parseCached(q.entity.Name, q.predicate)
	if err != nil {
		return nil, err
	}
	b := &binder{entity: q.entity, cache: c}
	where, err := b.bind(node)
	if err != nil {
		return nil, err
	}
	return &compiled{where: where, args: b.args}, nil
}

// binder walks the parsed predicate AST, resolving field paths against the
// schema and emitting sqlast Param placeholders in the order their bound
// values must be supplied.
type binder struct {
	entity *schema.Entity
	cache  *session.Cache
	args   []any
}

func (b *binder) bind(n Node) (*sqlast.Node, error) {
	switch v := n.(type) {
	case *AndNode:
		l, err := b.bind(v.Left)
		if err != nil {
			return nil, err
		}
		r, err := b.bind(v.Right)
		if err != nil {
			return nil, err
		}
		return sqlast.And(l, r), nil
	case *OrNode:
		l, err := b.bind(v.Left)
		if err != nil {
			return nil, err
		}
		r, err := b.bind(v.Right)
		if err != nil {
			return nil, err
		}
		return sqlast.Or(l, r), nil
	case *NotNode:
		operand, err := b.bind(v.Operand)
		if err != nil {
			return nil, err
		}
		return sqlast.Not(operand), nil
	case *ComparisonNode:
		return b.bindComparison(v)
	default:
		return nil, fmt.Errorf("%w: unsupported predicate node %T", ErrQuery, n)
	}
}

func (b *binder) bindComparison(n *ComparisonNode) (*sqlast.Node, error) {
	col, attr, err := b.resolveField(n.Left)
	if err != nil {
		return nil, err
	}

	if n.Op == OpIn {
		var params []*sqlast.Node
		for _, item := range n.List {
			lit, ok := item.(*LiteralNode)
			if !ok {
				return nil, fmt.Errorf("%w: 'in' list entries must be literals", ErrQuery)
			}
			v, err := coerce(attr, lit.Value)
			if err != nil {
				return nil, err
			}
			params = append(params, sqlast.Param(sqlast.ParamRef{}))
			b.args = append(b.args, v)
		}
		return sqlast.In(col, params...), nil
	}

	switch r := n.Right.(type) {
	case *LiteralNode:
		if r.Value == nil {
			if n.Op != OpEq && n.Op != OpNotEq {
				return nil, fmt.Errorf("%w: null only supports == and !=", ErrQuery)
			}
			isNull := sqlast.IsNull(col)
			if n.Op == OpNotEq {
				return sqlast.Not(isNull), nil
			}
			return isNull, nil
		}
		v, err := coerce(attr, r.Value)
		if err != nil {
			return nil, err
		}
		b.args = append(b.args, v)
		return compareOp(n.Op, col, sqlast.Param(sqlast.ParamRef{})), nil
	case *FieldNode:
		rightCol, _, err := b.resolveField(r)
		if err != nil {
			return nil, err
		}
		return compareOp(n.Op, col, rightCol), nil
	default:
		return nil, fmt.Errorf("%w: unsupported comparison operand %T", ErrQuery, n.Right)
	}
}

func compareOp(op ComparisonOp, l, r *sqlast.Node) *sqlast.Node {
	switch op {
	case OpEq:
		return sqlast.Eq(l, r)
	case OpNotEq:
		return sqlast.NotEq(l, r)
	case OpLt:
		return sqlast.Lt(l, r)
	case OpLtEq:
		return sqlast.LtEq(l, r)
	case OpGt:
		return sqlast.Gt(l, r)
	case OpGtEq:
		return sqlast.GtEq(l, r)
	default:
		return sqlast.Eq(l, r)
	}
}

// resolveField maps a (possibly dotted) field path to a column and the
// attribute that column ultimately belongs to. A two-segment path is
// accepted only when the first segment is a to-one reference and the
// second names the target's single-column primary key, in which case it
// resolves to the local foreign-key column without a join (spec.md §1's
// cross-join non-goal extended to same-table joins for this engine's
// budget).
func (b *binder) resolveField(f *FieldNode) (*sqlast.Node, *schema.Attribute, error) {
	attr, ok := b.entity.Attribute(f.Path[0])
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s has no attribute %s", ErrQuery, b.entity.Name, f.Path[0])
	}
	if len(f.Path) == 1 {
		if attr.IsCollection {
			return nil, nil, fmt.Errorf("%w: %s is a collection and cannot be compared directly", ErrQuery, attr.Name)
		}
		return sqlast.Column(b.entity.Table, b.cache.ColumnOf(attr)), attr, nil
	}
	if len(f.Path) != 2 || !attr.IsRef || attr.IsCollection {
		return nil, nil, fmt.Errorf("%w: unsupported field path %s (joins beyond one to-one hop are not supported)", ErrQuery, f.String())
	}
	target, ok := b.cache.Schema.EntityByName(attr.Type.EntityName)
	if !ok || len(target.PrimaryKey) != 1 || target.PrimaryKey[0].Name != f.Path[1] {
		return nil, nil, fmt.Errorf("%w: %s does not name %s's primary key", ErrQuery, f.String(), attr.Type.EntityName)
	}
	return sqlast.Column(b.entity.Table, b.cache.ColumnOf(attr)), target.PrimaryKey[0], nil
}

func coerce(attr *schema.Attribute, v any) (any, error) {
	coerced, err := attr.Check(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return coerced, nil
}

// Fetch compiles and runs the query, materializing every matching row into
// c's identity map (spec.md §4.4 "Results are materialized through the
// same _fetch_objects path as primary-key loads, so they enter the
// identity map"). q must not carry an aggregate.
func (q *Query) Fetch(ctx context.Context, c *session.Cache) ([]*session.Instance, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.agg != AggNone {
		return nil, fmt.Errorf("%w: call the aggregate accessor, not Fetch, on an aggregate query", ErrQuery)
	}
	comp, err := q.compile(c)
	if err != nil {
		return nil, err
	}

	// A caller-supplied Slice/limit is an explicit, deliberate bound, so the
	// configured cap (spec.md §7 "TooManyObjectsFound — exceeded the
	// configured fetch cap") only probes one row past it when the caller left
	// the result size open-ended.
	capped := q.limit == nil && c.MaxFetchCount() > 0
	fetchLimit := q.limit
	if capped {
		probe := c.MaxFetchCount() + 1
		fetchLimit = &probe
	}

	cols, _, _ := c.EntityColumns(q.entity)
	sel := sqlast.SelectBuilder{
		Columns: cols,
		From:    sqlast.Table(q.entity.Table, ""),
		Where:   comp.where,
		Limit:   intNode(fetchLimit),
		Offset:  intNode(q.offset),
	}
	if len(q.orderBy) > 0 {
		for _, term := range q.orderBy {
			col := sqlast.Column(q.entity.Table, c.ColumnOf(term.attr))
			if term.desc {
				sel.OrderBy = append(sel.OrderBy, sqlast.Desc(col))
			} else {
				sel.OrderBy = append(sel.OrderBy, sqlast.Asc(col))
			}
		}
	} else {
		for _, pk := range q.entity.PrimaryKey {
			sel.OrderBy = append(sel.OrderBy, sqlast.Asc(sqlast.Column(q.entity.Table, c.ColumnOf(pk))))
		}
	}

	rows, err := c.Select(ctx, q.entity, sel, comp.args)
	if err != nil {
		return nil, err
	}
	if capped && len(rows) > c.MaxFetchCount() {
		return nil, fmt.Errorf("%w: %s query matched more than %d rows", session.ErrTooManyObjectsFound, q.entity.Name, c.MaxFetchCount())
	}
	return rows, nil
}

// One runs q expecting exactly one matching row (spec.md §7 "single-row
// lookup returned zero rows" / "MultipleObjectsFound — returned more than
// one when one was requested"), the predicate-based counterpart to
// Cache.Get's primary-key lookup. It always probes for a second row
// regardless of any Slice the caller configured, since requesting one
// result and configuring a page size are different calls with different
// intents.
func (q *Query) One(ctx context.Context, c *session.Cache) (*session.Instance, error) {
	probe := *q
	two := 2
	probe.limit = &two
	probe.offset = nil

	rows, err := probe.Fetch(ctx, c)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: %s", session.ErrObjectNotFound, q.entity.Name)
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", session.ErrMultipleObjectsFound, q.entity.Name)
	}
}

// Aggregate runs the query's configured reducer and applies the zero-law
// spec.md §4.4 specifies: count/sum over no rows is 0; min/max/avg over no
// rows is nil.
func (q *Query) Aggregate(ctx context.Context, c *session.Cache) (any, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.agg == AggNone {
		return nil, fmt.Errorf("%w: query has no aggregate configured", ErrQuery)
	}
	comp, err := q.compile(c)
	if err != nil {
		return nil, err
	}

	var aggCol *sqlast.Node
	switch q.agg {
	case AggCount:
		aggCol = sqlast.Count(sqlast.Column(q.entity.Table, c.ColumnOf(q.entity.PrimaryKey[0])))
	default:
		attr, ok := q.entity.Attribute(q.aggField)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no attribute %s", ErrQuery, q.entity.Name, q.aggField)
		}
		col := sqlast.Column(q.entity.Table, c.ColumnOf(attr))
		switch q.agg {
		case AggSum:
			aggCol = sqlast.Sum(col)
		case AggAvg:
			aggCol = sqlast.Avg(col)
		case AggMin:
			aggCol = sqlast.Min(col)
		case AggMax:
			aggCol = sqlast.Max(col)
		}
	}

	sel := sqlast.SelectBuilder{
		Columns: []*sqlast.Node{aggCol},
		From:    sqlast.Table(q.entity.Table, ""),
		Where:   comp.where,
	}
	v, err := c.SelectAggregate(ctx, sel.Build(), comp.args)
	if err != nil {
		return nil, err
	}
	if v == nil {
		switch q.agg {
		case AggCount, AggSum:
			return int64(0), nil
		default:
			return nil, nil
		}
	}
	return v, nil
}

// Exists compiles the predicate as "SELECT 1 ... LIMIT 1" and reports
// whether any row matches (spec.md §4.4 "exists is compiled as SELECT 1 ...
// LIMIT 1 and returns a boolean").
func (q *Query) Exists(ctx context.Context, c *session.Cache) (bool, error) {
	if q.err != nil {
		return false, q.err
	}
	comp, err := q.compile(c)
	if err != nil {
		return false, err
	}
	one := 1
	sel := sqlast.SelectBuilder{
		Columns: []*sqlast.Node{sqlast.Value(1)},
		From:    sqlast.Table(q.entity.Table, ""),
		Where:   comp.where,
		Limit:   intNode(&one),
	}
	v, err := c.SelectAggregate(ctx, sel.Build(), comp.args)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return v != nil, nil
}

func intNode(v *int) *sqlast.Node {
	if v == nil {
		return nil
	}
	return sqlast.Value(*v)
}
