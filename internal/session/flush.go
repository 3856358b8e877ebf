package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cormdev/corm/internal/provider"
	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// Flush emits every pending change without ending the database transaction
// (spec.md §4.3 "save(optimistic=false)"): m2m DELETEs, then inserts in
// dependency order, then updates, then deletes, then m2m INSERTs. Clears
// the pending sets on success; leaves them untouched on failure so the
// caller can inspect what did not make it.
func (c *Cache) Flush(ctx context.Context) error {
	if !c.alive {
		return ErrSessionClosed
	}
	start := time.Now()
	defer func() { c.metrics.recordFlush(ctx, float64(time.Since(start).Microseconds())/1000) }()
	conn, err := c.conn_(ctx)
	if err != nil {
		return err
	}
	c.Logger.Debug("flush", "trace_id", c.TraceID.String(), "session", c.num,
		"created", len(c.created), "updated", len(c.updated), "deleted", len(c.deleted))

	m2mDeletes, m2mInserts := c.planM2M()
	if err := c.execM2M(ctx, conn, m2mDeletes, "DELETE"); err != nil {
		return err
	}

	planned, err := c.planInserts()
	if err != nil {
		return err
	}
	for _, pi := range planned {
		if err := c.emitInsert(ctx, conn, pi); err != nil {
			return err
		}
	}
	if err := c.emitDeferredUpdates(ctx, conn, planned); err != nil {
		return err
	}

	for o := range c.updated {
		if err := c.emitUpdate(ctx, conn, o); err != nil {
			return err
		}
	}

	// Deleted rows are removed in an order stable across runs (not
	// dependency order: the engine does not attempt to satisfy FK
	// constraints on delete, matching spec.md's declared non-goal for
	// cascade behavior).
	deletedOrder := make([]*Instance, 0, len(c.deleted))
	for o := range c.deleted {
		deletedOrder = append(deletedOrder, o)
	}
	sort.Slice(deletedOrder, func(i, j int) bool {
		a, b := deletedOrder[i], deletedOrder[j]
		if a.Entity.Name != b.Entity.Name {
			return a.Entity.Name < b.Entity.Name
		}
		return fmt.Sprint(a.PKValue()) < fmt.Sprint(b.PKValue())
	})
	for _, o := range deletedOrder {
		if err := c.emitDelete(ctx, conn, o); err != nil {
			return err
		}
	}

	if err := c.execM2M(ctx, conn, m2mInserts, "INSERT"); err != nil {
		return err
	}

	c.created = make(map[*Instance]bool)
	c.updated = make(map[*Instance]bool)
	c.deleted = make(map[*Instance]bool)
	c.clearModifiedCollections()
	return nil
}

func (c *Cache) clearModifiedCollections() {
	for attr, instances := range c.modifiedCollections {
		for o := range instances {
			if sd := o.collections[attr]; sd != nil {
				sd.added = make(map[*Instance]bool)
				sd.removed = make(map[*Instance]bool)
			}
		}
	}
	c.modifiedCollections = make(map[*schema.Attribute]map[*Instance]bool)
}

// Commit flushes, commits the database transaction, and marks every saved
// instance Saved (spec.md §4.3). With optimistic=true and nothing pending,
// it issues a transport-level rollback instead of a commit, since no
// writes means no conflict to resolve and rollback is cheaper on some
// backends (spec.md §3 "optimistic flag").
func (c *Cache) Commit(ctx context.Context) error {
	if !c.alive {
		return ErrSessionClosed
	}
	start := time.Now()
	defer func() { c.metrics.recordCommit(ctx, float64(time.Since(start).Microseconds())/1000) }()
	nothingPending := len(c.created) == 0 && len(c.updated) == 0 && len(c.deleted) == 0 && len(c.modifiedCollections) == 0
	if c.optimistic && nothingPending {
		if c.conn != nil {
			return c.conn.Rollback(ctx)
		}
		return nil
	}
	if err := c.Flush(ctx); err != nil {
		return err
	}
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards every pending in-memory mutation and rolls back the
// database transaction (spec.md §4.3). Created instances are cancelled;
// updated instances revert to their last known database values; deleted
// instances are restored to Loaded.
func (c *Cache) Rollback(ctx context.Context) error {
	if !c.alive {
		return ErrSessionClosed
	}
	for o := range c.created {
		o.status = StatusCancelled
		c.removePK(o, o.pkKey())
	}
	for o := range c.updated {
		for a, v := range o.dbvals {
			o.vals[a] = v
		}
		o.wbits, o.rbits = 0, 0
		o.status = StatusLoaded
	}
	for o := range c.deleted {
		o.status = StatusLoaded
	}
	c.clearModifiedCollections()
	c.created = make(map[*Instance]bool)
	c.updated = make(map[*Instance]bool)
	c.deleted = make(map[*Instance]bool)

	if c.conn != nil {
		return c.conn.Rollback(ctx)
	}
	return nil
}

// Release returns the underlying connection to the provider's pool and
// marks the session dead; no further operation but Status/PKValue reads
// are valid afterward (spec.md §3 "alive flag").
func (c *Cache) Release() error {
	c.alive = false
	if c.conn != nil {
		return c.conn.Release()
	}
	return nil
}

// m2mOp is one pending link-table row addition or removal, recorded from
// a symmetric Set-kind attribute's (added, removed) deltas (spec.md §4.2
// "Collections (Set)").
type m2mOp struct {
	attr  *schema.Attribute
	owner *Instance
	other *Instance
}

func (c *Cache) planM2M() (deletes, inserts []m2mOp) {
	// Both ends of a symmetric collection attribute register themselves in
	// modifiedCollections (collection.go mirrors every Add/Remove onto the
	// reverse side too), so each relationship edge shows up under both
	// attr and attr.Reverse with identical owner/other pairs. seen ensures
	// each unordered (attr, attr.Reverse) pair is processed exactly once,
	// regardless of which side the caller actually mutated through.
	seen := make(map[*schema.Attribute]bool)
	for attr, instances := range c.modifiedCollections {
		if attr.Reverse == nil || !attr.Reverse.IsCollection {
			continue // FK-backed collection: already captured as a reverse-side attribute write
		}
		if seen[attr] || seen[attr.Reverse] {
			continue
		}
		seen[attr] = true
		seen[attr.Reverse] = true
		for owner := range instances {
			sd := owner.collections[attr]
			if sd == nil {
				continue
			}
			for other := range sd.added {
				inserts = append(inserts, m2mOp{attr: attr, owner: owner, other: other})
			}
			for other := range sd.removed {
				deletes = append(deletes, m2mOp{attr: attr, owner: owner, other: other})
			}
		}
	}
	return deletes, inserts
}

func (c *Cache) execM2M(ctx context.Context, conn provider.Conn, ops []m2mOp, kind string) error {
	for _, op := range ops {
		table := c.Provider.DefaultM2MTableName(op.attr.Entity.Name, op.attr.Reverse.Entity.Name)
		leftCol, rightCol := m2mColumns(op.attr)
		switch kind {
		case "INSERT":
			ins := sqlast.Insert(sqlast.Table(table, ""), []string{leftCol, rightCol},
				[][]*sqlast.Node{{sqlast.Param(sqlast.ParamRef{}), sqlast.Param(sqlast.ParamRef{})}})
			rendered, err := sqlast.Render(ins, c.Provider.ParamStyle())
			if err != nil {
				return fmt.Errorf("m2m insert %s: %w", table, err)
			}
			if _, err := conn.Execute(ctx, rendered.SQL, []any{op.owner.PKValue(), op.other.PKValue()}); err != nil {
				return fmt.Errorf("m2m insert %s: %w", table, err)
			}
		case "DELETE":
			cond := sqlast.And(
				sqlast.Eq(sqlast.Column("", leftCol), sqlast.Param(sqlast.ParamRef{})),
				sqlast.Eq(sqlast.Column("", rightCol), sqlast.Param(sqlast.ParamRef{})),
			)
			del := sqlast.Delete(sqlast.Table(table, ""), cond)
			rendered, err := sqlast.Render(del, c.Provider.ParamStyle())
			if err != nil {
				return fmt.Errorf("m2m delete %s: %w", table, err)
			}
			if _, err := conn.Execute(ctx, rendered.SQL, []any{op.owner.PKValue(), op.other.PKValue()}); err != nil {
				return fmt.Errorf("m2m delete %s: %w", table, err)
			}
		}
	}
	return nil
}

// m2mColumns returns the link table's two FK column names, named after
// their owning entity, in the owner-then-other order used by planM2M.
func m2mColumns(attr *schema.Attribute) (leftCol, rightCol string) {
	return attr.Entity.Name + "_id", attr.Reverse.Entity.Name + "_id"
}
