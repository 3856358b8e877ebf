package session

import "errors"

// Sentinel errors for the session/entity-runtime slice of spec.md §7's
// taxonomy. internal/corm re-exports these for callers that only import the
// top-level package.
var (
	ErrSessionClosed                = errors.New("session is closed")
	ErrObjectDeleted                = errors.New("object is deleted")
	ErrObjectMixing                 = errors.New("object belongs to a different session")
	ErrCacheIndexCollision          = errors.New("cache index collision")
	ErrUnrepeatableRead             = errors.New("unrepeatable read")
	ErrUnresolvableCyclicDependency = errors.New("unresolvable cyclic dependency")
	ErrConstraintViolation          = errors.New("constraint violation")
	ErrObjectNotFound               = errors.New("object not found")
	ErrMultipleObjectsFound         = errors.New("multiple objects found")
	ErrTooManyObjectsFound          = errors.New("too many objects found")
)
