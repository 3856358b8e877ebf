// Package session implements the unit of work spec.md §3-§4 describes as
// "Session (Cache)" and "Entity Runtime": the identity map, per-attribute
// dirty tracking, bidirectional-link maintenance, and the commit planner
// that reconciles the in-memory graph with the database through optimistic
// concurrency control. It is the core this specification calls out as the
// engine's real engineering value (spec.md §1 "The hard part").
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cormdev/corm/internal/provider"
	"github.com/cormdev/corm/internal/schema"
)

var sessionSeq atomic.Int64

// Cache is the unit-of-work session of spec.md §3: it owns every Instance
// created or loaded through it, and is the sole mediator of reads/writes
// against the database it is bound to.
type Cache struct {
	mu sync.Mutex

	Schema   *schema.Schema
	Provider provider.Provider
	Logger   *slog.Logger

	// TraceID correlates every log line and metric this session emits
	// across its lifetime, independent of the monotonic session Num
	// (which is only unique within one process run).
	TraceID uuid.UUID

	num           int64
	alive         bool
	optimistic    bool
	ignoreNone    bool
	maxFetchCount int

	conn provider.Conn

	pkIndex        map[*schema.Entity]map[any]*Instance
	uniqueIndex    map[*schema.Attribute]map[any]*Instance
	compositeIndex map[*schema.Key]map[any]*Instance

	seeds                map[*schema.Entity]map[*Instance]bool
	collectionStatistics map[*schema.Attribute]int

	created map[*Instance]bool
	updated map[*Instance]bool
	deleted map[*Instance]bool

	modifiedCollections map[*schema.Attribute]map[*Instance]bool
	toBeChecked         []*Instance

	newIDCounter int64

	metrics *metrics
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithOptimistic sets the optimistic flag (spec.md §3 "optimistic flag").
// In optimistic mode, Commit with nothing pending issues a cheap
// transport-level rollback instead of a real commit (spec.md §4.3).
func WithOptimistic(v bool) Option { return func(c *Cache) { c.optimistic = v } }

// WithIgnoreNone sets ignore_none: when true, null does not collide in
// unique indexes (spec.md §3 "Session (Cache)").
func WithIgnoreNone(v bool) Option { return func(c *Cache) { c.ignoreNone = v } }

// WithLogger injects a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.Logger = l } }

// WithMaxFetchCount caps the rows a single Query.Fetch may return before it
// raises ErrTooManyObjectsFound instead of silently materializing the whole
// result set (spec.md §7 "TooManyObjectsFound — exceeded the configured
// fetch cap"). n <= 0 disables the cap.
func WithMaxFetchCount(n int) Option { return func(c *Cache) { c.maxFetchCount = n } }

// MaxFetchCount returns the configured fetch cap, or 0 if none is set.
func (c *Cache) MaxFetchCount() int { return c.maxFetchCount }

// New opens a session bound to s and p. The caller owns the returned
// Cache exclusively until Commit/Rollback/Release; it must not be shared
// across goroutines without external synchronization (spec.md §5
// "Scheduling model").
func New(s *schema.Schema, p provider.Provider, opts ...Option) *Cache {
	c := &Cache{
		Schema:               s,
		Provider:             p,
		Logger:               slog.Default(),
		TraceID:              uuid.New(),
		num:                  sessionSeq.Add(1),
		alive:                true,
		pkIndex:              make(map[*schema.Entity]map[any]*Instance),
		uniqueIndex:          make(map[*schema.Attribute]map[any]*Instance),
		compositeIndex:       make(map[*schema.Key]map[any]*Instance),
		seeds:                make(map[*schema.Entity]map[*Instance]bool),
		collectionStatistics: make(map[*schema.Attribute]int),
		created:              make(map[*Instance]bool),
		updated:              make(map[*Instance]bool),
		deleted:              make(map[*Instance]bool),
		modifiedCollections:  make(map[*schema.Attribute]map[*Instance]bool),
		metrics:              newMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Num is the monotonic session number spec.md §3 lists and §4.5 uses to
// order same-priority databases' commits deterministically.
func (c *Cache) Num() int64 { return c.num }

// Alive reports whether the session is still usable.
func (c *Cache) Alive() bool { return c.alive }

func (c *Cache) conn_(ctx context.Context) (provider.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.Provider.Connect(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

// pkKeyOf computes the identity-map key for an entity's primary key value(s).
func (c *Cache) pkKeyOf(e *schema.Entity, vals []any) any { return keyOf(vals) }

// byPK looks an instance up in the identity map without triggering a load.
// Indexed by root entity, not e itself, so a row reached through a base
// query and the same row reached through its concrete subclass (spec.md
// §9 "Inheritance": discriminator-based dispatch) resolve to one instance.
func (c *Cache) byPK(e *schema.Entity, key any) (*Instance, bool) {
	m := c.pkIndex[e.Root()]
	if m == nil {
		return nil, false
	}
	inst, ok := m[key]
	return inst, ok
}

func (c *Cache) installPK(o *Instance, key any) error {
	root := o.Entity.Root()
	m := c.pkIndex[root]
	if m == nil {
		m = make(map[any]*Instance)
		c.pkIndex[root] = m
	}
	if existing, dup := m[key]; dup && existing != o {
		return ErrCacheIndexCollision
	}
	m[key] = o
	return nil
}

func (c *Cache) removePK(o *Instance, key any) {
	if m := c.pkIndex[o.Entity.Root()]; m != nil {
		delete(m, key)
	}
}

// nextNewID allocates a transient negative id for a newly created instance,
// distinguishable from any real autopk (spec.md §3 "a transient new-id").
func (c *Cache) nextNewID() int64 {
	c.newIDCounter--
	return c.newIDCounter
}
