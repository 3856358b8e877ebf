package corm

import (
	"context"
	"fmt"

	"github.com/cormdev/corm/internal/provider"
	"github.com/cormdev/corm/internal/registry"
	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/session"
)

// Database is the entry point spec.md §3 calls "Database": a mutable
// builder for entity declarations until GenerateMapping freezes the schema
// and binds it to a Provider, after which OpenSession hands out units of
// work against it.
type Database struct {
	name     string
	schema   *schema.Schema
	provider provider.Provider
	priority int
}

// NewDatabase starts a new, empty entity declaration under name.
func NewDatabase(name string) *Database {
	return &Database{name: name, schema: schema.New(name)}
}

// Entity declares a persistent class (spec.md §3 "Entity (schema-level)").
// It delegates directly to the underlying schema.Schema; Database exists to
// pair that declaration surface with the provider binding GenerateMapping
// performs.
func (d *Database) Entity(name, table string, bases []*schema.Entity, specs []schema.AttributeSpec) (*schema.Entity, error) {
	return d.schema.Entity(name, table, bases, specs)
}

// SecondaryKey declares a composite unique key beyond a single attribute's
// own Kind==KindUnique.
func (d *Database) SecondaryKey(e *schema.Entity, keyName string, attrNames ...string) error {
	return d.schema.SecondaryKey(e, keyName, attrNames...)
}

// MappingOptions configures GenerateMapping.
type MappingOptions struct {
	// CheckTables runs a `SELECT * FROM <table> WHERE 0=1` against every
	// declared table once the provider is bound, the way the source
	// engine's generate_mapping(check_tables=True) does (spec.md §9 open
	// question (i)): it proves the table and its columns exist and are
	// queryable, but does not compare column names against the schema.
	CheckTables bool

	// Priority orders this database within a registry.Registry's
	// CommitAll/FlushAll (spec.md §4.5); higher commits first.
	Priority int
}

// GenerateMapping freezes the schema and binds p as this database's
// provider (spec.md §3 "the schema is read-only after generate_mapping").
// It must be called exactly once, after every Entity/SecondaryKey call.
func (d *Database) GenerateMapping(ctx context.Context, p provider.Provider, opts MappingOptions) error {
	if err := d.schema.Generate(); err != nil {
		return err
	}
	d.provider = p
	d.priority = opts.Priority

	if opts.CheckTables {
		if err := d.checkTables(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) checkTables(ctx context.Context) error {
	conn, err := d.provider.Connect(ctx)
	if err != nil {
		return wrapOp("check_tables: connect", err)
	}
	defer conn.Release()

	for _, e := range d.schema.Entities() {
		sqlText := fmt.Sprintf("SELECT * FROM %s WHERE 0=1", e.Table)
		if _, err := conn.Execute(ctx, sqlText, nil); err != nil {
			return fmt.Errorf("check_tables: entity %s (table %s): %w", e.Name, e.Table, err)
		}
	}
	return nil
}

// FromSchema binds an already-built *schema.Schema (e.g. one loaded by
// internal/schemafile) to p, running Generate only if the schema has not
// already been generated. This lets cormcli and other callers that load a
// schema declaration from a file use the same Database facade that
// Entity/GenerateMapping-declared schemas use.
func FromSchema(ctx context.Context, name string, s *schema.Schema, p provider.Provider, opts MappingOptions) (*Database, error) {
	d := &Database{name: name, schema: s}
	if !s.Generated() {
		if err := s.Generate(); err != nil {
			return nil, err
		}
	}
	d.provider = p
	d.priority = opts.Priority
	if opts.CheckTables {
		if err := d.checkTables(ctx); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Provider returns the bound provider, or nil before GenerateMapping/FromSchema.
func (d *Database) Provider() provider.Provider { return d.provider }

// Schema returns the underlying frozen schema. Calling it before
// GenerateMapping returns a schema that is still mutable and must not be
// read by a session.
func (d *Database) Schema() *schema.Schema { return d.schema }

// OpenSession opens a unit of work against this database (spec.md §3
// "Session (Cache)").
func (d *Database) OpenSession(opts ...session.Option) *session.Cache {
	return session.New(d.schema, d.provider, opts...)
}

// AsRegistryEntry exposes the *registry.Database view of this Database so
// it can be Register-ed with a registry.Registry for multi-database
// flush/commit/rollback ordering.
func (d *Database) AsRegistryEntry() *registry.Database {
	return &registry.Database{Name: d.name, Priority: d.priority, Schema: d.schema}
}
