package session

import (
	"context"
	"fmt"

	"github.com/cormdev/corm/internal/schema"
)

// Get reads attr off o, transparently hydrating o from the database if the
// value has not been loaded yet (spec.md §4.2 "Read obj.attr"). A read
// marks the read-bit for attr so Commit can detect another session's
// concurrent write to the same column (spec.md §4.3 "optimistic check").
func (o *Instance) Get(ctx context.Context, attr *schema.Attribute) (any, error) {
	if err := o.checkAlive(); err != nil {
		return nil, err
	}
	if got, ok := o.Entity.Attribute(attr.Name); !ok || got != attr {
		return nil, fmt.Errorf("%w: %s has no attribute %s", ErrConstraintViolation, o.Entity.Name, attr.Name)
	}
	if attr.IsCollection {
		return o.collection(ctx, attr)
	}

	v, ok := o.vals[attr]
	if !ok || v == notLoaded {
		if o.status == StatusCreated {
			// A newly created instance has no database row to hydrate from;
			// an un-set attribute simply has no value yet.
			return nil, nil
		}
		if err := o.load(ctx); err != nil {
			return nil, err
		}
		v = o.vals[attr]
		if v == notLoaded {
			v = nil
		}
	}
	o.rbits |= attr.Bit
	return v, nil
}

// load hydrates every scalar/basic attribute of o from the database in one
// row fetch (spec.md §4.4 "Instance hydration"). Reverse-collection
// attributes are loaded lazily and separately (batch.go).
func (o *Instance) load(ctx context.Context) error {
	if o.status != StatusLoaded {
		return nil
	}
	allLoaded := true
	for _, a := range o.Entity.Attributes() {
		if a.IsCollection {
			continue
		}
		if v, ok := o.vals[a]; !ok || v == notLoaded {
			allLoaded = false
			break
		}
	}
	if allLoaded {
		return nil
	}
	return o.Cache.hydrate(ctx, o)
}
