// Package registry implements spec.md §4.5's "Session Registry &
// Transaction Decorator": a database→session map plus the ordered
// multi-database flush/commit/rollback/release fan-out and the
// with_transaction retry wrapper. Go has no thread-local storage, so the
// "thread-local" map spec.md describes is approximated by a Registry value
// the caller threads explicitly (typically one per goroutine that owns a
// request), which is the idiomatic Go translation of "the only process-wide
// mutable state is the registry" (spec.md §5 "Shared resources").
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/session"
)

// Database identifies one registered backing store: its name, its schema,
// and its commit priority (spec.md §4.5 "Order across databases:
// by (database.priority desc, session.num)").
type Database struct {
	Name     string
	Priority int
	Schema   *schema.Schema
}

// CommitException bundles the sub-errors from a multi-database commit
// where the primary database failed and every other registered session was
// rolled back in response (spec.md §4.5).
type CommitException struct {
	Errors []error
}

func (e *CommitException) Error() string {
	return fmt.Sprintf("commit failed across %d database(s): %v", len(e.Errors), e.Errors[0])
}

func (e *CommitException) Unwrap() []error { return e.Errors }

// PartialCommitException is raised when the primary database committed but
// one or more secondary databases failed to commit afterward, leaving them
// inconsistent with the primary. Per spec.md §9 open question (iii), this
// engine does not attempt two-phase commit to avoid this state; it only
// surfaces it so the caller can reconcile manually.
type PartialCommitException struct {
	Errors []error
}

func (e *PartialCommitException) Error() string {
	return fmt.Sprintf("partial commit: primary succeeded but %d secondary database(s) failed: %v", len(e.Errors), e.Errors[0])
}

func (e *PartialCommitException) Unwrap() []error { return e.Errors }

// RollbackException wraps the sub-errors hit while rolling back every
// registered session.
type RollbackException struct {
	Errors []error
}

func (e *RollbackException) Error() string {
	return fmt.Sprintf("rollback failed across %d database(s): %v", len(e.Errors), e.Errors[0])
}

func (e *RollbackException) Unwrap() []error { return e.Errors }

type entry struct {
	db    *Database
	cache *session.Cache
}

// Registry holds every database→session binding currently open under it.
// A Registry is safe for concurrent use; spec.md's single-session-per-
// thread-per-database rule is the caller's responsibility to uphold (one
// Registry per goroutine that owns a unit of work is the natural mapping).
type Registry struct {
	mu      sync.Mutex
	entries map[*Database]*session.Cache
}

func New() *Registry {
	return &Registry{entries: make(map[*Database]*session.Cache)}
}

// Register binds c as the open session for db, replacing any prior binding.
func (r *Registry) Register(db *Database, c *session.Cache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[db] = c
}

// Unregister removes db's binding without touching the session itself.
func (r *Registry) Unregister(db *Database) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, db)
}

// Session returns the session currently bound to db, if any.
func (r *Registry) Session(db *Database) (*session.Cache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[db]
	return c, ok
}

// ordered returns every registered (database, session) pair sorted by
// (priority desc, session.Num asc) — spec.md §4.5's commit order, with the
// session number breaking ties deterministically within equal priority.
func (r *Registry) ordered() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entry, 0, len(r.entries))
	for db, c := range r.entries {
		out = append(out, entry{db: db, cache: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].db.Priority != out[j].db.Priority {
			return out[i].db.Priority > out[j].db.Priority
		}
		return out[i].cache.Num() < out[j].cache.Num()
	})
	return out
}

// FlushAll flushes every registered session without ending its database
// transaction, in priority order; the first failure stops the sweep and is
// returned as-is (there is nothing to roll back yet — flush only emits
// pending statements within the still-open transaction).
func (r *Registry) FlushAll(ctx context.Context) error {
	for _, e := range r.ordered() {
		if err := e.cache.Flush(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", e.db.Name, err)
		}
	}
	return nil
}

// CommitAll commits every registered session in priority order (spec.md
// §4.5). The primary (highest-priority) database commits first and alone;
// if it fails, every other registered session is rolled back and the
// primary's error is wrapped in CommitException. If the primary succeeds,
// every secondary commits concurrently via errgroup — they no longer
// depend on ordering relative to each other, only on the primary having
// gone first — and any secondary failures are bundled into a
// PartialCommitException, since by then the primary is already durable and
// cannot be un-committed (spec.md §9 open question (iii): no two-phase
// commit).
func (r *Registry) CommitAll(ctx context.Context) error {
	ordered := r.ordered()
	if len(ordered) == 0 {
		return nil
	}

	primary := ordered[0]
	secondaries := ordered[1:]

	if err := primary.cache.Commit(ctx); err != nil {
		errs := []error{fmt.Errorf("commit %s (primary): %w", primary.db.Name, err)}
		for _, e := range secondaries {
			if rerr := e.cache.Rollback(ctx); rerr != nil {
				errs = append(errs, fmt.Errorf("rollback %s: %w", e.db.Name, rerr))
			}
		}
		return &CommitException{Errors: errs}
	}

	if len(secondaries) == 0 {
		return nil
	}

	var mu sync.Mutex
	var errs []error
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range secondaries {
		e := e
		g.Go(func() error {
			if err := e.cache.Commit(gctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("commit %s: %w", e.db.Name, err))
				mu.Unlock()
			}
			return nil // secondary failures do not cancel their siblings
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return &PartialCommitException{Errors: errs}
	}
	return nil
}

// RollbackAll rolls back every registered session, collecting every
// failure rather than stopping at the first (a caller unwinding from an
// error wants every session released, not just the first one reached).
func (r *Registry) RollbackAll(ctx context.Context) error {
	var errs []error
	for _, e := range r.ordered() {
		if err := e.cache.Rollback(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", e.db.Name, err))
		}
	}
	if len(errs) > 0 {
		return &RollbackException{Errors: errs}
	}
	return nil
}

// ReleaseAll releases every registered session's connection and clears the
// registry.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[*Database]*session.Cache)
	r.mu.Unlock()

	var errs []error
	for db, c := range entries {
		if err := c.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", db.Name, err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
