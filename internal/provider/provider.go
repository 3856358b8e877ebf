// Package provider defines the external collaborator interface spec.md §6
// names: connection acquisition/release, statement execution,
// dialect-specific column naming, and parameter-style adaptation. Concrete
// providers (sqliteprovider, mysqlprovider, doltprovider) each wrap a
// database/sql driver; the session and entity-runtime packages depend only
// on this interface, never on a concrete driver.
package provider

import (
	"context"
	"database/sql"

	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// Provider is the engine-facing interface every concrete database backend
// implements (spec.md §6 "Provider interface").
type Provider interface {
	// Connect acquires a connection from the underlying pool.
	Connect(ctx context.Context) (Conn, error)

	// ParamStyle reports which placeholder convention Execute expects.
	ParamStyle() sqlast.ParamStyle

	// MaxParamsCount bounds how many bound parameters a single statement
	// may carry; the entity runtime's batch loader uses it to size seed
	// batches (spec.md §4.2 "bounded by max_params / pk_width").
	MaxParamsCount() int

	// DefaultColumnName derives a column name for a scalar attribute that
	// did not specify one explicitly.
	DefaultColumnName(attrName string) string

	// DefaultEntityTableName derives a table name for an entity that did
	// not specify one explicitly.
	DefaultEntityTableName(entityName string) string

	// DefaultM2MTableName derives a link-table name for a symmetric
	// many-to-many relationship from the two endpoint entity names, given
	// in either order; implementations sort them so both orders yield the
	// same name (spec.md §4.1 "a link table named deterministically from
	// the two endpoint entities").
	DefaultM2MTableName(leftEntity, rightEntity string) string

	// GetConverter returns the value converter for a scalar type, used to
	// adapt Go values to and from driver parameter/result shapes.
	GetConverter(scalar schema.ScalarType) sqlast.Converter
}

// Conn is an acquired connection. Release must be called exactly once.
type Conn interface {
	Execute(ctx context.Context, sqlText string, args []any) (sql.Result, error)
	ExecuteReturningID(ctx context.Context, sqlText string, args []any) (int64, error)
	Query(ctx context.Context, sqlText string, args []any) (*sql.Rows, error)
	QueryRow(ctx context.Context, sqlText string, args []any) *sql.Row
	ExecuteMany(ctx context.Context, sqlText string, argSets [][]any) error

	BeginTx(ctx context.Context) (Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Release() error
}

// Tx is an in-flight database transaction scoped to a Conn.
type Tx interface {
	Execute(ctx context.Context, sqlText string, args []any) (sql.Result, error)
	Query(ctx context.Context, sqlText string, args []any) (*sql.Rows, error)
	QueryRow(ctx context.Context, sqlText string, args []any) *sql.Row
	Commit() error
	Rollback() error
}
