package session

import (
	"context"
	"fmt"

	"github.com/cormdev/corm/internal/schema"
)

// SetData is the in-memory state of one Set-kind (collection) attribute on
// one instance: spec.md §4.1 "Collections" tracks them as current/added/
// removed rather than a single snapshot, so a flush only has to emit the
// delta instead of diffing a full reload.
type SetData struct {
	owner *Instance
	attr  *schema.Attribute

	current map[*Instance]bool
	added   map[*Instance]bool
	removed map[*Instance]bool

	fullyLoaded bool
}

func newSetData(owner *Instance, attr *schema.Attribute) *SetData {
	return &SetData{
		owner:   owner,
		attr:    attr,
		current: make(map[*Instance]bool),
		added:   make(map[*Instance]bool),
		removed: make(map[*Instance]bool),
	}
}

// Items returns the collection's current members, loading it from the
// database first if it has not been fetched yet.
func (s *SetData) Items(ctx context.Context) ([]*Instance, error) {
	if !s.fullyLoaded {
		if err := s.owner.Cache.loadCollection(ctx, s.owner, s.attr, s); err != nil {
			return nil, err
		}
	}
	out := make([]*Instance, 0, len(s.current))
	for inst := range s.current {
		out = append(out, inst)
	}
	return out, nil
}

// Add inserts item into the collection, maintaining the reverse side of
// the relationship (spec.md §4.1 "Reverse-attribute resolution").
func (s *SetData) Add(ctx context.Context, item *Instance) error {
	t := &txn{}
	if err := s.owner.addToCollection(ctx, t, s.attr, item); err != nil {
		t.unwind()
		return err
	}
	t.commit()
	return nil
}

// Remove deletes item from the collection, clearing the reverse side.
func (s *SetData) Remove(ctx context.Context, item *Instance) error {
	t := &txn{}
	if err := s.owner.removeFromCollection(ctx, t, s.attr, item); err != nil {
		t.unwind()
		return err
	}
	t.commit()
	return nil
}

// collection returns (creating if necessary) the SetData bookkeeping for
// attr on o.
func (o *Instance) collection(ctx context.Context, attr *schema.Attribute) (*SetData, error) {
	if o.collections == nil {
		o.collections = make(map[*schema.Attribute]*SetData)
	}
	sd, ok := o.collections[attr]
	if !ok {
		sd = newSetData(o, attr)
		if o.status == StatusCreated {
			sd.fullyLoaded = true // a brand new instance has no rows to fetch
		}
		o.collections[attr] = sd
	}
	return sd, nil
}

func (o *Instance) addToCollection(ctx context.Context, t *txn, attr *schema.Attribute, item *Instance) error {
	if err := o.checkAlive(); err != nil {
		return err
	}
	if item != nil && item.Cache != o.Cache {
		return fmt.Errorf("%w: %s.%s references an instance from a different session", ErrObjectMixing, o.Entity.Name, attr.Name)
	}
	sd, err := o.collection(ctx, attr)
	if err != nil {
		return err
	}
	if sd.current[item] {
		return nil
	}
	t.push(func() {
		delete(sd.current, item)
		delete(sd.added, item)
	})
	sd.current[item] = true
	sd.added[item] = true
	delete(sd.removed, item)
	o.registerModifiedCollection(attr)

	if attr.Reverse != nil {
		if attr.Reverse.IsCollection {
			// Symmetric many-to-many: mirror onto the other side's own
			// SetData too (spec.md §4.1 "forward and reverse ends of every
			// relationship always agree"). item.addToCollection re-enters
			// this same function for (item, attr.Reverse, o); it terminates
			// because by then sd.current[item] above is already true, so
			// the recursive call back into o's side short-circuits.
			if err := item.addToCollection(ctx, t, attr.Reverse, o); err != nil {
				return err
			}
		} else if err := item.set(ctx, t, attr.Reverse, o, true); err != nil {
			return err
		}
	}
	return nil
}

func (o *Instance) removeFromCollection(ctx context.Context, t *txn, attr *schema.Attribute, item *Instance) error {
	if err := o.checkAlive(); err != nil {
		return err
	}
	sd, err := o.collection(ctx, attr)
	if err != nil {
		return err
	}
	if !sd.current[item] {
		return nil
	}
	t.push(func() {
		sd.current[item] = true
		delete(sd.removed, item)
	})
	delete(sd.current, item)
	delete(sd.added, item)
	sd.removed[item] = true
	o.registerModifiedCollection(attr)

	if attr.Reverse != nil {
		if attr.Reverse.IsCollection {
			if err := item.removeFromCollection(ctx, t, attr.Reverse, o); err != nil {
				return err
			}
		} else if err := item.set(ctx, t, attr.Reverse, nil, true); err != nil {
			return err
		}
	}
	return nil
}

func (o *Instance) registerModifiedCollection(attr *schema.Attribute) {
	m := o.Cache.modifiedCollections[attr]
	if m == nil {
		m = make(map[*Instance]bool)
		o.Cache.modifiedCollections[attr] = m
	}
	m[o] = true
}

var errNotCollection = fmt.Errorf("%w: attribute is not a collection", ErrConstraintViolation)
