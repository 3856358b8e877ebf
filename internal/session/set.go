package session

import (
	"context"
	"fmt"

	"github.com/cormdev/corm/internal/schema"
)

// Set writes attr on o to v, maintaining unique indexes and the reverse
// side of relational attributes, and recording an undo closure so the
// mutation can be unwound atomically if a later step in the same
// operation fails (spec.md §4.2 "Write obj.attr = v").
func (o *Instance) Set(ctx context.Context, attr *schema.Attribute, v any) error {
	t := &txn{}
	if err := o.set(ctx, t, attr, v, false); err != nil {
		t.unwind()
		return err
	}
	t.commit()
	o.markDirty()
	return nil
}

func (o *Instance) markDirty() {
	if o.status == StatusLoaded {
		o.status = StatusUpdated
	}
	if o.status == StatusUpdated {
		o.Cache.updated[o] = true
	}
}

// set is the undo-aware core of Set. isReverse is true when this call is
// the automatic other-side fixup of a relationship, not a direct user
// write: in that case it must not re-trigger another reverse fixup and
// must not enforce the primary-key-is-immutable rule a stray reverse
// write could otherwise trip.
func (o *Instance) set(ctx context.Context, t *txn, attr *schema.Attribute, v any, isReverse bool) error {
	if err := o.checkAlive(); err != nil {
		return err
	}
	if attr.IsPK && !isReverse && o.status != StatusCreated {
		return fmt.Errorf("%w: primary key %s is immutable after creation", ErrConstraintViolation, attr.Name)
	}

	coerced, err := attr.Check(v)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %w", ErrConstraintViolation, o.Entity.Name, attr.Name, err)
	}
	if attr.IsRef && !attr.IsCollection && !isReverse {
		if inst, ok := coerced.(*Instance); ok && inst != nil && inst.Cache != o.Cache {
			return fmt.Errorf("%w: %s.%s references an instance from a different session", ErrObjectMixing, o.Entity.Name, attr.Name)
		}
	}

	// A to-one relational write needs the previous value loaded so its
	// reverse side can be cleared.
	var old any
	if attr.IsRef && !attr.IsCollection {
		old, err = o.Get(ctx, attr)
		if err != nil {
			return err
		}
	} else {
		old = o.vals[attr]
		if old == notLoaded {
			old = nil
		}
	}

	if attr.IsUnique && !attr.IsPK {
		if err := o.swapUniqueIndex(t, attr, old, coerced); err != nil {
			return err
		}
	}

	prevStatus := o.status
	prevWbits := o.wbits
	t.push(func() {
		o.vals[attr] = old
		o.status = prevStatus
		o.wbits = prevWbits
	})
	o.vals[attr] = coerced
	o.wbits |= attr.Bit

	if attr.IsRef && !attr.IsCollection && attr.Reverse != nil && !isReverse {
		if err := o.fixReverse(ctx, t, attr, old, coerced); err != nil {
			return err
		}
	}

	return nil
}

// fixReverse clears the reverse link on the old referent (if any) and
// establishes it on the new one, so a.b == o implies o.reverse(b) includes
// a at all times (spec.md §4.1 "Reverse-attribute resolution", §8
// "Bidirectional consistency").
func (o *Instance) fixReverse(ctx context.Context, t *txn, attr *schema.Attribute, old, newVal any) error {
	if old == newVal {
		return nil
	}
	if oldInst, ok := old.(*Instance); ok && oldInst != nil {
		if attr.Reverse.IsCollection {
			if err := oldInst.removeFromCollection(ctx, t, attr.Reverse, o); err != nil {
				return err
			}
		} else if err := oldInst.set(ctx, t, attr.Reverse, nil, true); err != nil {
			return err
		}
	}
	if newInst, ok := newVal.(*Instance); ok && newInst != nil {
		if attr.Reverse.IsCollection {
			if err := newInst.addToCollection(ctx, t, attr.Reverse, o); err != nil {
				return err
			}
		} else if err := newInst.set(ctx, t, attr.Reverse, o, true); err != nil {
			return err
		}
	}
	return nil
}

// swapUniqueIndex installs the new key before removing the old one, so a
// collision with another live instance aborts the write before any state
// changes (spec.md §8 "Unique-index atomicity").
func (o *Instance) swapUniqueIndex(t *txn, attr *schema.Attribute, old, newVal any) error {
	if old == newVal {
		return nil
	}
	c := o.Cache
	m := c.uniqueIndex[attr]
	if m == nil {
		m = make(map[any]*Instance)
		c.uniqueIndex[attr] = m
	}
	if newVal != nil || !c.ignoreNone {
		if existing, dup := m[newVal]; dup && existing != o {
			return fmt.Errorf("%w: %s.%s", ErrCacheIndexCollision, o.Entity.Name, attr.Name)
		}
		m[newVal] = o
		t.push(func() { delete(m, newVal) })
	}
	if old != nil || !c.ignoreNone {
		if cur, ok := m[old]; ok && cur == o {
			delete(m, old)
			t.push(func() { m[old] = o })
		}
	}
	return nil
}
