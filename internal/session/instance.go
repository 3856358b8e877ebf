package session

import (
	"fmt"

	"github.com/cormdev/corm/internal/schema"
)

// Status is the lifecycle state of a persistent instance (spec.md §3
// "Instance state" lifecycle table).
type Status int

const (
	StatusCreated Status = iota
	StatusLoaded
	StatusSaved
	StatusUpdated
	StatusLocked
	StatusDeleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusLoaded:
		return "loaded"
	case StatusSaved:
		return "saved"
	case StatusUpdated:
		return "updated"
	case StatusLocked:
		return "locked"
	case StatusDeleted:
		return "deleted"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// notLoaded is the sentinel stored in Instance.vals for an attribute that
// has not yet been fetched from the database (spec.md §3 "vals
// (attribute -> current value or NOT_LOADED)").
type notLoadedT struct{}

var notLoaded = notLoadedT{}

// Instance is one in-memory persistent object: spec.md §3 "Instance state".
type Instance struct {
	Entity *schema.Entity
	Cache  *Cache

	status Status
	newID  int64 // transient id, assigned before an autopk comes back from INSERT

	vals   map[*schema.Attribute]any
	dbvals map[*schema.Attribute]any
	rbits  schema.Bit
	wbits  schema.Bit

	collections map[*schema.Attribute]*SetData

	// insertChainMark is used by the save planner to detect cycles
	// (spec.md §4.2 "Per-instance save" / §8 "Insert ordering").
	insertChainMark int
}

// EntityName and PKValue implement schema.Identity so relational attributes
// can be checked without the schema package depending on session.
func (o *Instance) EntityName() string { return o.Entity.Name }

func (o *Instance) PKValue() any {
	if len(o.Entity.PrimaryKey) == 0 {
		return nil
	}
	if len(o.Entity.PrimaryKey) == 1 {
		return o.vals[o.Entity.PrimaryKey[0]]
	}
	parts := make([]any, len(o.Entity.PrimaryKey))
	for i, pk := range o.Entity.PrimaryKey {
		parts[i] = o.vals[pk]
	}
	return compositeKey(parts)
}

// Status reports the instance's current lifecycle state.
func (o *Instance) Status() Status { return o.status }

// compositeKey is the comparable key type used to index instances whose
// primary key spans multiple attributes.
type compositeKey []any

func keyOf(vals []any) any {
	if len(vals) == 1 {
		return vals[0]
	}
	arr := [4]any{} // small fixed array is comparable and covers the common case
	if len(vals) > len(arr) {
		// Fall back to a string join for keys wider than 4 columns; rare in
		// practice and only used as a map key, not persisted.
		return fmt.Sprint(vals)
	}
	for i, v := range vals {
		arr[i] = v
	}
	return arr
}

// checkAlive is the guard every read/write path runs first (spec.md §4.2
// "Read obj.attr: If status is deleted/cancelled -> fail").
func (o *Instance) checkAlive() error {
	if o.Cache == nil || !o.Cache.alive {
		return ErrSessionClosed
	}
	if o.status == StatusDeleted || o.status == StatusCancelled {
		return fmt.Errorf("%w: %s", ErrObjectDeleted, o.Entity.Name)
	}
	return nil
}
