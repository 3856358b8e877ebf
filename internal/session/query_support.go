package session

import (
	"context"
	"fmt"

	"github.com/cormdev/corm/internal/provider"
	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// The functions in this file are the surface internal/query compiles
// predicates against: it builds the WHERE/ORDER BY/LIMIT pieces of a SELECT
// from the parsed predicate, and hands them here to be combined with the
// entity's column list and run through the same identity-map materialization
// path as a primary-key load (spec.md §4.4 "Results are materialized through
// the same _fetch_objects path as primary-key loads").

// Conn exposes the session's lazily-acquired connection to the query
// compiler without giving it direct access to Cache's private state.
func (c *Cache) Conn(ctx context.Context) (provider.Conn, error) {
	return c.conn_(ctx)
}

// EntityColumns returns e's full column list in materialize's expected
// layout: primary-key columns first, then every other non-collection
// attribute, alongside the attribute list and per-attribute physical width
// that describes how to slice a scanned row back into assignRow.
func (c *Cache) EntityColumns(e *schema.Entity) (cols []*sqlast.Node, attrs []*schema.Attribute, widths []int) {
	pkCols := make([]*sqlast.Node, len(e.PrimaryKey))
	pkWidths := make([]int, len(e.PrimaryKey))
	for i, pk := range e.PrimaryKey {
		pkCols[i] = sqlast.Column(e.Table, columnOf(pk))
		pkWidths[i] = 1
	}
	rest, restAttrs, restWidths := scalarColumns(e)
	cols = append(append([]*sqlast.Node{}, pkCols...), rest...)
	attrs = append(append([]*schema.Attribute{}, e.PrimaryKey...), restAttrs...)
	widths = append(append([]int{}, pkWidths...), restWidths...)
	return cols, attrs, widths
}

// ColumnOf exposes a single attribute's physical column name, for compiling
// a predicate field reference or an ORDER BY target.
func (c *Cache) ColumnOf(a *schema.Attribute) string { return columnOf(a) }

// Select runs a fully-formed query SelectBuilder (WHERE/ORDER BY/LIMIT
// already compiled by internal/query) and materializes every row into the
// identity map, in the same way a batch collection load does.
func (c *Cache) Select(ctx context.Context, e *schema.Entity, sel sqlast.SelectBuilder, args []any) ([]*Instance, error) {
	_, attrs, widths := c.EntityColumns(e)
	rendered, err := sqlast.Render(sel.Build(), c.Provider.ParamStyle())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", e.Name, err)
	}
	conn, err := c.conn_(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, rendered.SQL, args)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", e.Name, err)
	}
	defer rows.Close()

	totalCols := 0
	for _, w := range widths {
		totalCols += w
	}

	var out []*Instance
	loaded := int64(0)
	for rows.Next() {
		dest := make([]any, totalCols)
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("query %s: scan: %w", e.Name, err)
		}
		inst, err := c.materialize(ctx, e, attrs, widths, dest)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
		loaded++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", e.Name, err)
	}
	c.metrics.addInstancesLoaded(ctx, loaded)
	return out, nil
}

// SelectAggregate runs a single-row, single-column SELECT (an aggregate or
// an EXISTS probe) and returns its raw scanned value.
func (c *Cache) SelectAggregate(ctx context.Context, root *sqlast.Node, args []any) (any, error) {
	rendered, err := sqlast.Render(root, c.Provider.ParamStyle())
	if err != nil {
		return nil, fmt.Errorf("query aggregate: %w", err)
	}
	conn, err := c.conn_(ctx)
	if err != nil {
		return nil, err
	}
	var dest any
	if err := conn.QueryRow(ctx, rendered.SQL, args).Scan(&dest); err != nil {
		return nil, fmt.Errorf("query aggregate: %w", err)
	}
	return dest, nil
}
