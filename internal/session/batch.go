package session

import (
	"context"
	"fmt"

	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// loadCollection fetches the members of a Set-kind reverse attribute for a
// single owner (spec.md §4.1 "Collections", §4.2 "batch loader bounded by
// max_params / pk_width"). Single-owner loading is the fallback path; a
// real workload should prefer PreloadCollections for N owners at once so
// the batch-size bound actually pays for itself.
func (c *Cache) loadCollection(ctx context.Context, owner *Instance, attr *schema.Attribute, sd *SetData) error {
	return c.PreloadCollections(ctx, attr, []*Instance{owner})
}

// PreloadCollections hydrates attr (a reverse Set attribute) for every
// instance in owners with a single batch query, bounded by the provider's
// MaxParamsCount (spec.md §4.2). Instances already fully loaded are
// skipped.
func (c *Cache) PreloadCollections(ctx context.Context, attr *schema.Attribute, owners []*Instance) error {
	if attr.Reverse == nil {
		return fmt.Errorf("%w: %s has no reverse attribute to batch-load through", ErrConstraintViolation, attr.Name)
	}
	pending := make([]*Instance, 0, len(owners))
	for _, o := range owners {
		sd, err := o.collection(ctx, attr)
		if err != nil {
			return err
		}
		if !sd.fullyLoaded {
			pending = append(pending, o)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	target := attr.Reverse.Entity
	pkWidth := len(owners[0].Entity.PrimaryKey)
	maxOwners := c.Provider.MaxParamsCount() / pkWidth
	if maxOwners < 1 {
		maxOwners = 1
	}

	for start := 0; start < len(pending); start += maxOwners {
		end := start + maxOwners
		if end > len(pending) {
			end = len(pending)
		}
		if err := c.loadCollectionBatch(ctx, attr, target, pending[start:end]); err != nil {
			return err
		}
	}
	for _, o := range pending {
		sd, _ := o.collection(ctx, attr)
		sd.fullyLoaded = true
	}
	return nil
}

// loadCollectionBatch runs a single query covering the owners of one batch
// and distributes matched rows into each owner's SetData. A scalar-FK
// reverse (the common to-many case) is a direct "WHERE fk IN (...)" against
// the target table; a collection reverse (symmetric many-to-many, spec.md
// §4.1) has no real column to filter on, so the owners are joined through
// the link table the provider's DefaultM2MTableName names instead.
func (c *Cache) loadCollectionBatch(ctx context.Context, attr *schema.Attribute, target *schema.Entity, owners []*Instance) error {
	fkAttr := attr.Reverse
	cols, attrs, widths := scalarColumns(target)
	pkCols := make([]*sqlast.Node, len(target.PrimaryKey))
	pkWidths := make([]int, len(target.PrimaryKey))
	for i, pk := range target.PrimaryKey {
		pkCols[i] = sqlast.Column(target.Table, columnOf(pk))
		pkWidths[i] = 1
	}
	allCols := append(append([]*sqlast.Node{}, pkCols...), cols...)
	allAttrs := append(append([]*schema.Attribute{}, target.PrimaryKey...), attrs...)
	allWidths := append(append([]int{}, pkWidths...), widths...)

	inVals := make([]*sqlast.Node, 0, len(owners))
	for range owners {
		inVals = append(inVals, sqlast.Param(sqlast.ParamRef{}))
	}

	isM2M := fkAttr.IsCollection
	var linkTable, ownerCol string
	sel := sqlast.SelectBuilder{Columns: allCols}
	if isM2M {
		// attr belongs to attr.Entity (the owner side); m2mColumns returns
		// its column first, so ownerCol names the link table's FK to the
		// owners being loaded and otherCol its FK to target. The owner key
		// is selected as an extra leading column since a target row can be
		// linked to more than one owner in the batch and the result can't
		// otherwise be attributed back to the right owner.
		var otherCol string
		linkTable = c.Provider.DefaultM2MTableName(attr.Entity.Name, target.Name)
		ownerCol, otherCol = m2mColumns(attr)
		sel.Columns = append([]*sqlast.Node{sqlast.Column(linkTable, ownerCol)}, allCols...)
		sel.From = sqlast.Table(linkTable, "")
		sel.Joins = []*sqlast.Node{
			sqlast.Join(sqlast.Table(target.Table, ""),
				sqlast.Eq(sqlast.Column(linkTable, otherCol), sqlast.Column(target.Table, columnOf(target.PrimaryKey[0])))),
		}
		sel.Where = sqlast.In(sqlast.Column(linkTable, ownerCol), inVals...)
	} else {
		sel.From = sqlast.Table(target.Table, "")
		sel.Where = sqlast.In(sqlast.Column(target.Table, columnOf(fkAttr)), inVals...)
	}
	rendered, err := sqlast.Render(sel.Build(), c.Provider.ParamStyle())
	if err != nil {
		return fmt.Errorf("load collection %s: %w", attr.Name, err)
	}
	conn, err := c.conn_(ctx)
	if err != nil {
		return err
	}
	// Single-column owner keys cover every collection relationship the
	// schema builder generates today (composite-PK owners on the "many"
	// side of a to-many reverse are not supported).
	args := make([]any, len(owners))
	for i, o := range owners {
		args[i] = o.vals[o.Entity.PrimaryKey[0]]
	}
	rows, err := conn.Query(ctx, rendered.SQL, args)
	if err != nil {
		return fmt.Errorf("load collection %s: %w", attr.Name, err)
	}
	defer rows.Close()

	totalCols := 0
	for _, w := range allWidths {
		totalCols += w
	}
	if isM2M {
		totalCols++ // leading owner-key column
	}

	// ownerByKey indexes owners by their (already in-cache) primary key so
	// an m2m row's scanned owner-key column can be matched back to the
	// right owner instance without a second query.
	var ownerByKey map[any]*Instance
	if isM2M {
		ownerByKey = make(map[any]*Instance, len(owners))
		for _, o := range owners {
			ownerByKey[o.vals[o.Entity.PrimaryKey[0]]] = o
		}
	}

	loaded := int64(0)
	for rows.Next() {
		dest := make([]any, totalCols)
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("load collection %s: scan: %w", attr.Name, err)
		}

		memberDest := dest
		var ownerInst *Instance
		if isM2M {
			ownerKey := *(dest[0].(*any))
			ownerInst = ownerByKey[ownerKey]
			memberDest = dest[1:]
		}

		member, err := c.materialize(ctx, target, allAttrs, allWidths, memberDest)
		if err != nil {
			return err
		}
		loaded++

		if !isM2M {
			fkVal, err := member.Get(ctx, fkAttr)
			if err != nil {
				return err
			}
			ownerInst, _ = fkVal.(*Instance)
		}
		if ownerInst == nil {
			continue
		}
		sd, err := ownerInst.collection(ctx, attr)
		if err != nil {
			return err
		}
		sd.current[member] = true
	}
	c.metrics.addCollectionBatch(ctx)
	c.metrics.addInstancesLoaded(ctx, loaded)
	return rows.Err()
}

// materialize returns the identity-mapped instance for a row's primary key,
// populating it from dest (laid out per attrs/widths, PK columns first) if
// it was only a stub until now. When e's hierarchy has a discriminator
// column among attrs, the row is dispatched to the concrete subclass it
// tags (spec.md §9 "row materialization dispatches on the discriminator
// value to the concrete constructor") rather than staying typed as e.
func (c *Cache) materialize(ctx context.Context, e *schema.Entity, attrs []*schema.Attribute, widths []int, dest []any) (*Instance, error) {
	pkWidth := len(e.PrimaryKey)
	pkVals := make([]any, pkWidth)
	for i := 0; i < pkWidth; i++ {
		pkVals[i] = *(dest[i].(*any))
	}
	e = dispatchEntity(e, attrs, widths, dest)

	key := keyOf(pkVals)
	o, ok := c.byPK(e, key)
	if !ok {
		o = &Instance{
			Entity: e,
			Cache:  c,
			status: StatusLoaded,
			vals:   make(map[*schema.Attribute]any),
			dbvals: make(map[*schema.Attribute]any),
		}
		for i, a := range e.PrimaryKey {
			o.vals[a] = pkVals[i]
		}
		if err := c.installPK(o, key); err != nil {
			return nil, err
		}
	}

	rest := attrs[pkWidth:]
	restWidths := widths[pkWidth:]
	restDest := dest[pkWidth:]
	alreadyLoaded := true
	for _, a := range rest {
		if v, ok := o.vals[a]; !ok || v == notLoaded {
			alreadyLoaded = false
			break
		}
	}
	if alreadyLoaded {
		return o, nil // hydrated (or being edited) already; do not clobber
	}
	if err := c.assignRow(ctx, o, rest, restWidths, restDest); err != nil {
		return nil, err
	}
	return o, nil
}

// dispatchEntity resolves e's inheritance root discriminator column, when it
// was selected among attrs, to the concrete subclass the row's tag names
// (spec.md §9 "Inheritance"). Returns e unchanged when the hierarchy has no
// discriminator, the column wasn't part of this query's attrs, or the tag
// doesn't match any declared subclass (an unrecognized or pre-migration
// value left as-is rather than failing the whole load).
func dispatchEntity(e *schema.Entity, attrs []*schema.Attribute, widths []int, dest []any) *schema.Entity {
	root := e.Root()
	if root.Discriminator == nil {
		return e
	}
	pos := 0
	for i, a := range attrs {
		if a == root.Discriminator {
			raw := *(dest[pos].(*any))
			tag, _ := raw.(string)
			if sub, ok := root.SubByDiscriminator(tag); ok {
				return sub
			}
			return e
		}
		pos += widths[i]
	}
	return e
}
