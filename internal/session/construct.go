package session

import (
	"context"
	"fmt"

	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// New constructs a fresh instance of e with no database row yet (spec.md
// §4.2 "Create"). Field values are supplied eagerly; attributes left
// unset take their zero/nil value until written. The instance is
// registered in every applicable identity-map index immediately so a
// second New/Get for the same unique key inside the same flush collides
// the way a persisted row would.
func (c *Cache) New(ctx context.Context, e *schema.Entity, fields map[string]any) (*Instance, error) {
	if !c.alive {
		return nil, ErrSessionClosed
	}
	o := &Instance{
		Entity: e,
		Cache:  c,
		status: StatusCreated,
		vals:   make(map[*schema.Attribute]any),
		dbvals: make(map[*schema.Attribute]any),
	}
	o.newID = c.nextNewID()
	for _, a := range e.Attributes() {
		if !a.IsCollection {
			o.vals[a] = nil
		}
	}
	if len(e.PrimaryKey) == 1 && e.PrimaryKey[0].Type.Scalar == schema.ScalarInt {
		if _, given := fields[e.PrimaryKey[0].Name]; !given {
			o.vals[e.PrimaryKey[0]] = o.newID
		}
	}
	// A concrete subclass writes its own tag into the root's discriminator
	// column on insert (spec.md §9 "Inheritance"), unless the caller passed
	// an explicit value for it.
	if root := e.Root(); root.Discriminator != nil && e.DiscriminatorValue != "" {
		if _, given := fields[root.Discriminator.Name]; !given {
			o.vals[root.Discriminator] = e.DiscriminatorValue
		}
	}

	t := &txn{}
	for name, v := range fields {
		a, ok := e.Attribute(name)
		if !ok {
			t.unwind()
			return nil, fmt.Errorf("%w: %s has no attribute %s", ErrConstraintViolation, e.Name, name)
		}
		if a.IsCollection {
			t.unwind()
			return nil, fmt.Errorf("%w: collection attribute %s must be populated via its Add method", ErrConstraintViolation, name)
		}
		if err := o.set(ctx, t, a, v, false); err != nil {
			t.unwind()
			return nil, err
		}
	}
	if err := c.installPK(o, o.pkKey()); err != nil {
		t.unwind()
		return nil, err
	}
	t.commit()
	c.created[o] = true
	return o, nil
}

// pkKey computes the identity-map key from the instance's current (possibly
// transient) primary-key value(s).
func (o *Instance) pkKey() any {
	vals := make([]any, len(o.Entity.PrimaryKey))
	for i, a := range o.Entity.PrimaryKey {
		vals[i] = o.vals[a]
	}
	return keyOf(vals)
}

// Get returns the instance identified by pkVals in e, loading a stub from
// the identity map or the database as needed (spec.md §4.2 "Get by
// primary key"). It never issues a query eagerly: the returned instance is
// a seed until an attribute is actually read.
func (c *Cache) Get(ctx context.Context, e *schema.Entity, pkVals ...any) (*Instance, error) {
	if !c.alive {
		return nil, ErrSessionClosed
	}
	key := keyOf(pkVals)
	if inst, ok := c.byPK(e, key); ok {
		return inst, nil
	}
	o := &Instance{
		Entity: e,
		Cache:  c,
		status: StatusLoaded,
		vals:   make(map[*schema.Attribute]any),
		dbvals: make(map[*schema.Attribute]any),
	}
	for i, a := range e.PrimaryKey {
		o.vals[a] = pkVals[i]
	}
	for _, a := range e.Attributes() {
		if a.IsPK || a.IsCollection {
			continue
		}
		o.vals[a] = notLoaded
	}
	if err := c.installPK(o, key); err != nil {
		return nil, err
	}
	c.addSeed(o)
	return o, nil
}

func (c *Cache) addSeed(o *Instance) {
	m := c.seeds[o.Entity]
	if m == nil {
		m = make(map[*Instance]bool)
		c.seeds[o.Entity] = m
	}
	m[o] = true
}

// Delete marks o for deletion on the next flush (spec.md §4.2 "Delete").
// A deleted instance stays in the identity map (so repeated Gets resolve to
// the same deleted object per spec.md §4.2's lifecycle table); a created,
// never-flushed instance becomes cancelled and is removed from it. Either
// way, further attribute access other than PKValue/Status fails.
func (o *Instance) Delete(ctx context.Context) error {
	if err := o.checkAlive(); err != nil {
		return err
	}
	if o.status == StatusCreated {
		o.status = StatusCancelled
		delete(o.Cache.created, o)
		o.Cache.removePK(o, o.pkKey())
		return nil
	}
	o.status = StatusDeleted
	o.Cache.deleted[o] = true
	delete(o.Cache.updated, o)
	return nil
}

// hydrate fetches every scalar/basic column of o in a single-row SELECT.
func (c *Cache) hydrate(ctx context.Context, o *Instance) error {
	e := o.Entity
	cols, attrs, widths := scalarColumns(e)
	sel := sqlast.SelectBuilder{
		Columns: cols,
		From:    sqlast.Table(e.Table, ""),
		Where:   pkWhere(e),
	}
	rendered, err := sqlast.Render(sel.Build(), c.Provider.ParamStyle())
	if err != nil {
		return fmt.Errorf("hydrate %s: %w", e.Name, err)
	}
	conn, err := c.conn_(ctx)
	if err != nil {
		return err
	}
	args := make([]any, len(e.PrimaryKey))
	for i, a := range e.PrimaryKey {
		args[i] = o.vals[a]
	}
	totalCols := 0
	for _, w := range widths {
		totalCols += w
	}
	dest := make([]any, totalCols)
	for i := range dest {
		dest[i] = new(any)
	}
	if err := conn.QueryRow(ctx, rendered.SQL, args).Scan(dest...); err != nil {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, e.Name)
	}
	if err := c.assignRow(ctx, o, attrs, widths, dest); err != nil {
		return err
	}
	c.metrics.addInstancesLoaded(ctx, 1)
	return nil
}

// scalarColumns returns every non-PK, non-collection attribute of e in a
// fixed order, the SQL column nodes to select for them, and how many
// physical columns each attribute occupies (more than one for a to-one
// reference onto a composite-PK target).
func scalarColumns(e *schema.Entity) (cols []*sqlast.Node, attrs []*schema.Attribute, widths []int) {
	for _, a := range e.Attributes() {
		if a.IsCollection || a.IsPK {
			continue
		}
		for _, colName := range columnsOf(a) {
			cols = append(cols, sqlast.Column(e.Table, colName))
		}
		attrs = append(attrs, a)
		widths = append(widths, len(columnsOf(a)))
	}
	return cols, attrs, widths
}

// assignRow distributes a scanned row's raw values into o.vals, resolving
// to-one reference attributes into their target instance rather than
// storing the raw foreign-key column(s) (spec.md §4.1 "Reference
// attributes hold the referenced object, never a bare key").
func (c *Cache) assignRow(ctx context.Context, o *Instance, attrs []*schema.Attribute, widths []int, dest []any) error {
	pos := 0
	for i, a := range attrs {
		w := widths[i]
		raw := dest[pos : pos+w]
		pos += w

		if a.IsRef && !a.IsCollection {
			allNil := true
			pkVals := make([]any, w)
			for j, d := range raw {
				pkVals[j] = *(d.(*any))
				if pkVals[j] != nil {
					allNil = false
				}
			}
			if allNil {
				o.vals[a] = nil
				o.dbvals[a] = nil
				continue
			}
			target, ok := c.Schema.EntityByName(a.Type.EntityName)
			if !ok {
				return fmt.Errorf("%w: unknown target entity %s for %s.%s", ErrConstraintViolation, a.Type.EntityName, o.Entity.Name, a.Name)
			}
			ref, err := c.Get(ctx, target, pkVals...)
			if err != nil {
				return err
			}
			o.vals[a] = ref
			o.dbvals[a] = ref
			continue
		}

		v := *(raw[0].(*any))
		o.vals[a] = v
		o.dbvals[a] = v
	}
	return nil
}

// columnsOf returns the physical column name(s) backing attribute a
// (assigned during schema.Generate; falls back to the attribute name for
// attributes built without going through Schema.Generate, e.g. in unit
// tests).
func columnsOf(a *schema.Attribute) []string {
	if len(a.Columns) > 0 {
		return a.Columns
	}
	return []string{a.Name}
}

func columnOf(a *schema.Attribute) string {
	cols := columnsOf(a)
	return cols[0]
}

func pkWhere(e *schema.Entity) *sqlast.Node {
	var terms []*sqlast.Node
	for _, a := range e.PrimaryKey {
		terms = append(terms, sqlast.Eq(sqlast.Column(e.Table, columnOf(a)), sqlast.Param(sqlast.ParamRef{})))
	}
	return sqlast.And(terms...)
}
