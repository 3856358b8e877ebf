package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/sqlast"
)

// ErrNotFound replaces sql.ErrNoRows in every error wrapDBError wraps.
// QueryRow returns the driver's *sql.Row unwrapped, so its Scan reports
// sql.ErrNoRows itself. This mirrors the teacher's sentinel-error-plus-wrap
// convention in internal/storage/sqlite/errors.go.
var ErrNotFound = errors.New("not found")

// wrapDBError attaches an operation label to a driver error and normalizes
// sql.ErrNoRows to ErrNotFound, exactly the shape of the teacher's
// wrapDBError/wrapDBErrorf helpers.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// NewConn adapts a *sql.Conn into a provider.Conn, shared by every concrete
// provider so each one only needs to supply dialect metadata (param style,
// column naming, converters) rather than reimplement statement execution.
func NewConn(conn *sql.Conn) Conn {
	return &sqlConn{conn: conn}
}

// sqlConn is a thin adapter from *sql.Conn onto the provider.Conn
// interface, shared by every concrete provider so each one only needs to
// supply dialect metadata (param style, column naming, converters).
type sqlConn struct {
	conn *sql.Conn
	tx   *sql.Tx
}

func (c *sqlConn) active() interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
} {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func (c *sqlConn) Execute(ctx context.Context, sqlText string, args []any) (sql.Result, error) {
	res, err := c.active().ExecContext(ctx, sqlText, args...)
	return res, wrapDBError("execute", err)
}

func (c *sqlConn) ExecuteReturningID(ctx context.Context, sqlText string, args []any) (int64, error) {
	res, err := c.active().ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, wrapDBError("execute_returning_id", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapDBError("execute_returning_id", err)
	}
	return id, nil
}

func (c *sqlConn) Query(ctx context.Context, sqlText string, args []any) (*sql.Rows, error) {
	rows, err := c.active().QueryContext(ctx, sqlText, args...)
	return rows, wrapDBError("query", err)
}

func (c *sqlConn) QueryRow(ctx context.Context, sqlText string, args []any) *sql.Row {
	return c.active().QueryRowContext(ctx, sqlText, args...)
}

func (c *sqlConn) ExecuteMany(ctx context.Context, sqlText string, argSets [][]any) error {
	stmt, err := c.prepare(ctx, sqlText)
	if err != nil {
		return wrapDBError("executemany", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, args := range argSets {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return wrapDBError("executemany", err)
		}
	}
	return nil
}

func (c *sqlConn) prepare(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	if c.tx != nil {
		return c.tx.PrepareContext(ctx, sqlText)
	}
	return c.conn.PrepareContext(ctx, sqlText)
}

func (c *sqlConn) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("begin", err)
	}
	c.tx = tx
	return &sqlTx{tx: tx}, nil
}

func (c *sqlConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit()
	c.tx = nil
	return wrapDBError("commit", err)
}

func (c *sqlConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	return wrapDBError("rollback", err)
}

func (c *sqlConn) Release() error {
	return wrapDBError("release", c.conn.Close())
}

type sqlTx struct{ tx *sql.Tx }

func (t *sqlTx) Execute(ctx context.Context, sqlText string, args []any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, sqlText, args...)
	return res, wrapDBError("execute", err)
}
func (t *sqlTx) Query(ctx context.Context, sqlText string, args []any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, sqlText, args...)
	return rows, wrapDBError("query", err)
}
func (t *sqlTx) QueryRow(ctx context.Context, sqlText string, args []any) *sql.Row {
	return t.tx.QueryRowContext(ctx, sqlText, args...)
}
func (t *sqlTx) Commit() error   { return wrapDBError("commit", t.tx.Commit()) }
func (t *sqlTx) Rollback() error { return wrapDBError("rollback", t.tx.Rollback()) }

// defaultConverter returns the identity converter for every scalar kind.
// No concrete provider calls it: each implements GetConverter itself, and
// dialect-specific type quirks (e.g. MySQL's TINYINT(1) booleans) live there.
func defaultConverter(scalar schema.ScalarType) sqlast.Converter {
	return sqlast.IdentityConverter
}
