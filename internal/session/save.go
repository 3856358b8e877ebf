package session

import (
	"context"
	"fmt"

	"github.com/cormdev/corm/internal/provider"
	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// plannedInsert is one created instance's place in insertion order, plus
// any to-one reference columns that had to be deferred because committing
// them now would require a row that does not exist yet (spec.md §8
// "Insert ordering" / §9 "Bidirectional graphs with cycles").
type plannedInsert struct {
	instance *Instance
	deferred map[*schema.Attribute]bool
}

// planInserts orders c.created so that every to-one reference is inserted
// after the row it points at, depth-first. A cycle closed entirely by
// required references is unresolvable (spec.md §4.2 "unresolvable cyclic
// dependency"); a cycle with at least one optional edge is broken by
// deferring that column to a follow-up UPDATE once both rows exist.
func (c *Cache) planInserts() ([]plannedInsert, error) {
	var order []plannedInsert
	deferred := make(map[*Instance]map[*schema.Attribute]bool)
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*Instance]int, len(c.created))

	var visit func(o *Instance) error
	visit = func(o *Instance) error {
		switch state[o] {
		case done:
			return nil
		case visiting:
			return nil // reached via a deferred edge elsewhere; handled by caller
		}
		state[o] = visiting
		for _, a := range o.Entity.Attributes() {
			if !a.IsRef || a.IsCollection {
				continue
			}
			dep, ok := o.vals[a].(*Instance)
			if !ok || dep == nil || dep == o || !c.created[dep] {
				continue
			}
			if state[dep] == visiting {
				if a.IsRequired {
					return fmt.Errorf("%w: %s.%s -> %s", ErrUnresolvableCyclicDependency, o.Entity.Name, a.Name, dep.Entity.Name)
				}
				if deferred[o] == nil {
					deferred[o] = make(map[*schema.Attribute]bool)
				}
				deferred[o][a] = true
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[o] = done
		order = append(order, plannedInsert{instance: o, deferred: deferred[o]})
		return nil
	}

	for o := range c.created {
		if err := visit(o); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// emitInsert writes one new row, skipping any deferred reference column
// (left NULL until the follow-up UPDATE in emitDeferredUpdates) and
// capturing an autopk if the entity's primary key is server-generated.
func (c *Cache) emitInsert(ctx context.Context, conn provider.Conn, pi plannedInsert) error {
	o := pi.instance
	e := o.Entity
	var cols []string
	var row []*sqlast.Node

	autoPK := len(e.PrimaryKey) == 1 && e.PrimaryKey[0].Type.Scalar == schema.ScalarInt
	for _, a := range e.Attributes() {
		if a.IsCollection {
			continue
		}
		if a.IsPK && autoPK {
			continue
		}
		if pi.deferred[a] {
			continue
		}
		for _, colName := range columnsOf(a) {
			cols = append(cols, colName)
			row = append(row, sqlast.Param(sqlast.ParamRef{}))
		}
	}

	args := insertArgs(o, e, pi.deferred, autoPK)
	ins := sqlast.Insert(sqlast.Table(e.Table, ""), cols, [][]*sqlast.Node{row})
	rendered, err := sqlast.Render(ins, c.Provider.ParamStyle())
	if err != nil {
		return fmt.Errorf("insert %s: %w", e.Name, err)
	}

	if autoPK {
		id, err := conn.ExecuteReturningID(ctx, rendered.SQL, args)
		if err != nil {
			return fmt.Errorf("insert %s: %w", e.Name, err)
		}
		oldKey := o.pkKey()
		o.vals[e.PrimaryKey[0]] = id
		c.removePK(o, oldKey)
		if err := c.installPK(o, o.pkKey()); err != nil {
			return err
		}
	} else if _, err := conn.Execute(ctx, rendered.SQL, args); err != nil {
		return fmt.Errorf("insert %s: %w", e.Name, err)
	}

	for _, a := range e.Attributes() {
		if !a.IsCollection {
			o.dbvals[a] = o.vals[a]
		}
	}
	o.status = StatusSaved
	o.rbits, o.wbits = 0, 0
	return nil
}

// insertArgs flattens every non-deferred, non-collection attribute value
// (in the same order emitInsert built columns) into driver parameters,
// expanding to-one references into their target's primary-key value(s).
func insertArgs(o *Instance, e *schema.Entity, deferred map[*schema.Attribute]bool, autoPK bool) []any {
	var args []any
	for _, a := range e.Attributes() {
		if a.IsCollection {
			continue
		}
		if a.IsPK && autoPK {
			continue
		}
		if deferred[a] {
			continue
		}
		v := o.vals[a]
		if inst, ok := v.(*Instance); ok {
			if inst == nil {
				args = append(args, nil)
				continue
			}
			pk := inst.PKValue()
			if ck, ok := pk.(compositeKey); ok {
				args = append(args, []any(ck)...)
			} else {
				args = append(args, pk)
			}
			continue
		}
		args = append(args, v)
	}
	return args
}

// emitDeferredUpdates issues the follow-up UPDATE for every instance whose
// insert had to leave a cycle-breaking reference column NULL.
func (c *Cache) emitDeferredUpdates(ctx context.Context, conn provider.Conn, planned []plannedInsert) error {
	for _, pi := range planned {
		if len(pi.deferred) == 0 {
			continue
		}
		o := pi.instance
		var sets []sqlast.SetPair
		var args []any
		for a := range pi.deferred {
			for _, colName := range columnsOf(a) {
				sets = append(sets, sqlast.SetPair{Column: colName, Value: sqlast.Param(sqlast.ParamRef{})})
			}
			v := o.vals[a]
			if inst, ok := v.(*Instance); ok && inst != nil {
				args = append(args, inst.PKValue())
			} else {
				args = append(args, v)
			}
			o.dbvals[a] = v
		}
		where := pkWhereArgs(o)
		upd := sqlast.Update(sqlast.Table(o.Entity.Table, ""), sets, where.cond)
		rendered, err := sqlast.Render(upd, c.Provider.ParamStyle())
		if err != nil {
			return fmt.Errorf("deferred update %s: %w", o.Entity.Name, err)
		}
		if _, err := conn.Execute(ctx, rendered.SQL, append(args, where.args...)); err != nil {
			return fmt.Errorf("deferred update %s: %w", o.Entity.Name, err)
		}
	}
	return nil
}

// emitUpdate writes back every attribute changed since load, guarding the
// WHERE clause with every attribute read this transaction when the session
// is optimistic (spec.md §4.3 "optimistic check": a concurrent write to a
// column this transaction read, even unmodified, fails the instance's
// commit).
func (c *Cache) emitUpdate(ctx context.Context, conn provider.Conn, o *Instance) error {
	if o.wbits == 0 {
		return nil
	}
	var sets []sqlast.SetPair
	var args []any
	for _, a := range o.Entity.Attributes() {
		if a.IsCollection || a.IsPK {
			continue
		}
		if o.wbits&a.Bit == 0 {
			continue
		}
		v := o.vals[a]
		if inst, ok := v.(*Instance); ok {
			if inst == nil {
				for _, colName := range columnsOf(a) {
					sets = append(sets, sqlast.SetPair{Column: colName, Value: sqlast.Param(sqlast.ParamRef{})})
					args = append(args, nil)
				}
				continue
			}
			pk := inst.PKValue()
			vals := []any{pk}
			if ck, ok := pk.(compositeKey); ok {
				vals = []any(ck)
			}
			for i, colName := range columnsOf(a) {
				sets = append(sets, sqlast.SetPair{Column: colName, Value: sqlast.Param(sqlast.ParamRef{})})
				if i < len(vals) {
					args = append(args, vals[i])
				}
			}
			continue
		}
		sets = append(sets, sqlast.SetPair{Column: columnOf(a), Value: sqlast.Param(sqlast.ParamRef{})})
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}

	where := pkWhereArgs(o)
	cond := where.cond
	whereArgs := where.args
	if c.optimistic {
		checkCond, checkArgs := optimisticCheck(o)
		if checkCond != nil {
			cond = sqlast.And(cond, checkCond)
			whereArgs = append(whereArgs, checkArgs...)
		}
	}

	upd := sqlast.Update(sqlast.Table(o.Entity.Table, ""), sets, cond)
	rendered, err := sqlast.Render(upd, c.Provider.ParamStyle())
	if err != nil {
		return fmt.Errorf("update %s: %w", o.Entity.Name, err)
	}
	res, err := conn.Execute(ctx, rendered.SQL, append(args, whereArgs...))
	if err != nil {
		return fmt.Errorf("update %s: %w", o.Entity.Name, err)
	}
	if c.optimistic {
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrUnrepeatableRead, o.Entity.Name)
		}
	}
	for _, a := range o.Entity.Attributes() {
		if !a.IsCollection {
			o.dbvals[a] = o.vals[a]
		}
	}
	o.wbits, o.rbits = 0, 0
	o.status = StatusSaved
	return nil
}

// emitDelete removes o's row, also optimistically guarded when the read
// bits indicate this transaction inspected the row before deleting it.
func (c *Cache) emitDelete(ctx context.Context, conn provider.Conn, o *Instance) error {
	where := pkWhereArgs(o)
	cond := where.cond
	args := where.args
	if c.optimistic {
		checkCond, checkArgs := optimisticCheck(o)
		if checkCond != nil {
			cond = sqlast.And(cond, checkCond)
			args = append(args, checkArgs...)
		}
	}
	del := sqlast.Delete(sqlast.Table(o.Entity.Table, ""), cond)
	rendered, err := sqlast.Render(del, c.Provider.ParamStyle())
	if err != nil {
		return fmt.Errorf("delete %s: %w", o.Entity.Name, err)
	}
	res, err := conn.Execute(ctx, rendered.SQL, args)
	if err != nil {
		return fmt.Errorf("delete %s: %w", o.Entity.Name, err)
	}
	if c.optimistic {
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrUnrepeatableRead, o.Entity.Name)
		}
	}
	c.removePK(o, o.pkKey())
	return nil
}

type whereClause struct {
	cond *sqlast.Node
	args []any
}

func pkWhereArgs(o *Instance) whereClause {
	var terms []*sqlast.Node
	var args []any
	for _, a := range o.Entity.PrimaryKey {
		terms = append(terms, sqlast.Eq(sqlast.Column("", columnOf(a)), sqlast.Param(sqlast.ParamRef{})))
		args = append(args, o.dbvals[a])
	}
	return whereClause{cond: sqlast.And(terms...), args: args}
}

// optimisticCheck builds "AND col = ?" terms for every attribute read (but
// not itself being written) this transaction, from the values last known
// to match the database (spec.md §4.3).
func optimisticCheck(o *Instance) (*sqlast.Node, []any) {
	var terms []*sqlast.Node
	var args []any
	for _, a := range o.Entity.Attributes() {
		if a.IsCollection || a.IsPK {
			continue
		}
		if o.rbits&a.Bit == 0 || o.wbits&a.Bit != 0 {
			continue
		}
		v := o.dbvals[a]
		if inst, ok := v.(*Instance); ok {
			if inst == nil {
				terms = append(terms, sqlast.IsNull(sqlast.Column("", columnOf(a))))
				continue
			}
			v = inst.PKValue()
		}
		terms = append(terms, sqlast.Eq(sqlast.Column("", columnOf(a)), sqlast.Param(sqlast.ParamRef{})))
		args = append(args, v)
	}
	if len(terms) == 0 {
		return nil, nil
	}
	return sqlast.And(terms...), args
}
