// Package corm ties the schema, session, and provider layers together into
// a single entry point for defining entities and opening sessions against a
// database.
package corm

import (
	"fmt"

	"github.com/cormdev/corm/internal/query"
	"github.com/cormdev/corm/internal/registry"
	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/session"
)

// Sentinel errors for the taxonomy described in spec.md §7. These re-export
// the session/schema package's own sentinels rather than declaring parallel
// values, so errors.Is works whether a caller imports corm alone or reaches
// into the layer that actually raised the error.
var (
	// ErrObjectNotFound indicates a single-row lookup returned zero rows.
	ErrObjectNotFound = session.ErrObjectNotFound

	// ErrMultipleObjectsFound indicates a lookup expecting one row found more than one.
	ErrMultipleObjectsFound = session.ErrMultipleObjectsFound

	// ErrTooManyObjectsFound indicates a fetch exceeded the configured cap.
	ErrTooManyObjectsFound = session.ErrTooManyObjectsFound

	// ErrUnrepeatableRead indicates a read-bit-tracked attribute changed
	// underneath the session between read and flush/lock.
	ErrUnrepeatableRead = session.ErrUnrepeatableRead

	// ErrUnresolvableCyclicDependency indicates the insert planner could not
	// find an order in which all to-one referents precede their referrers.
	ErrUnresolvableCyclicDependency = session.ErrUnresolvableCyclicDependency

	// ErrCacheIndexCollision indicates a unique-key index already holds the
	// proposed value within the session.
	ErrCacheIndexCollision = session.ErrCacheIndexCollision

	// ErrObjectMixing indicates an instance belonging to one session was
	// passed to an operation on another session.
	ErrObjectMixing = session.ErrObjectMixing

	// ErrSessionClosed indicates an operation was attempted on a session
	// that was released. Commit and Rollback leave the session open, so it
	// is not returned after either of them.
	ErrSessionClosed = session.ErrSessionClosed

	// ErrObjectDeleted indicates an operation was attempted on a deleted or
	// cancelled instance.
	ErrObjectDeleted = session.ErrObjectDeleted

	// ErrConstraintViolation indicates a required attribute was set to nil,
	// a type mismatch in check(), or a write to an already-set primary key.
	ErrConstraintViolation = session.ErrConstraintViolation

	// ErrSchema indicates a schema/ER-diagram declaration error: duplicate
	// entities, unresolved reverse attributes, inconsistent inheritance.
	ErrSchema = schema.ErrSchema

	// ErrQuery indicates an unsupported predicate shape, unknown name, or
	// wrong argument type in the query facility.
	ErrQuery = query.ErrQuery
)

// TransactionIntegrityError wraps a driver-level error surfaced during
// save/flush, preserving the original so callers can still errors.As to it.
type TransactionIntegrityError struct {
	Op  string
	Err error
}

func (e *TransactionIntegrityError) Error() string {
	return fmt.Sprintf("transaction integrity error during %s: %v", e.Op, e.Err)
}

func (e *TransactionIntegrityError) Unwrap() error { return e.Err }

// CommitException, PartialCommitException, and RollbackException are the
// multi-database commit/rollback exceptions spec.md §4.5 describes. They
// are produced by internal/registry's CommitAll/RollbackAll; corm
// re-exports them so callers that only import corm still see the same
// types errors.As expects.
type CommitException = registry.CommitException
type PartialCommitException = registry.PartialCommitException
type RollbackException = registry.RollbackException

// wrapOp mirrors the teacher's wrapDBErrorf: attach an operation label to a
// driver error without discarding it.
func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
